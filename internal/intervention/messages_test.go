package intervention

import (
	"testing"

	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestForAlert(t *testing.T) {
	tests := []struct {
		alert session.Alert
		title string
		body  string
	}{
		{
			session.Alert{Type: session.AlertStakeEscalation, Severity: session.SeverityHigh, Evidence: map[string]any{"increasePct": 250.0}},
			"STAKE ESCALATION DETECTED", "250%",
		},
		{
			session.Alert{Type: session.AlertLossSequence, Severity: session.SeverityMedium, Evidence: map[string]any{"consecutiveLosses": 5}},
			"LOSS STREAK INTERVENTION", "5 consecutive losses",
		},
		{
			session.Alert{Type: session.AlertBalanceCritical, Severity: session.SeverityCritical, Evidence: map[string]any{"remainingPct": 20.0}},
			"EMERGENCY STOP - BALANCE CRITICAL", "STOP NOW",
		},
		{
			session.Alert{Type: session.AlertHighVelocity, Severity: session.SeverityMedium, Evidence: map[string]any{"betsInWindow": 10, "windowMinutes": 5.0}},
			"RAPID BETTING DETECTED", "10 bets in 5 minutes",
		},
		{
			session.Alert{Type: session.AlertTimeAtTable, Severity: session.SeverityMedium, Evidence: map[string]any{"minutes": 180}},
			"TIME CHECK", "180 minutes",
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.alert.Type), func(t *testing.T) {
			m := ForAlert(tt.alert)
			assert.Equal(t, tt.title, m.Title)
			assert.Contains(t, m.Body, tt.body)
			assert.Equal(t, tt.alert.Severity, m.Severity)
			assert.NotEmpty(t, m.Actions)
		})
	}
}

func TestForAlert_Unknown(t *testing.T) {
	m := ForAlert(session.Alert{Type: "mystery"})
	assert.Equal(t, "TILT ALERT", m.Title)
	assert.Empty(t, m.Actions)
}

func TestForRisk(t *testing.T) {
	crit := ForRisk(risk.RiskCritical)
	assert.Equal(t, risk.InterventionImmediate, crit.Intervention)
	assert.Equal(t, []string{
		"disable_betting_commands",
		"alert_accountability_buddies",
		"trigger_cooling_off_period",
		"admin_notification",
		"crisis_support_contact",
	}, crit.Actions)

	high := ForRisk(risk.RiskHigh)
	assert.Len(t, high.Actions, 5)
	assert.Contains(t, high.Actions, "enhanced_monitoring")
	assert.Equal(t, high.Actions, ForRisk(risk.RiskModerateHigh).Actions)

	assert.Len(t, ForRisk(risk.RiskModerate).Actions, 4)
	assert.Empty(t, ForRisk(risk.RiskLow).Actions)
	assert.Empty(t, ForRisk(risk.RiskMinimal).Actions)
}

func TestForRisk_ReturnsCopy(t *testing.T) {
	p := ForRisk(risk.RiskCritical)
	p.Actions[0] = "changed"
	assert.Equal(t, "disable_betting_commands", ForRisk(risk.RiskCritical).Actions[0])
}
