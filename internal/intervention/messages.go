package intervention

import (
	"fmt"

	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
)

// Message is the text shown for a tilt alert.
type Message struct {
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	Severity session.Severity `json:"severity"`
	Actions  []string         `json:"actions"`
}

const (
	tiltWarning      = "TILT ALERT: Your inner degen is showing! Time to step back before you become a cautionary tale."
	interventionText = "INTERVENTION TIME: Friend, we need to talk. Your patterns are concerning and I care about your financial well-being."
	emergencyStop    = "EMERGENCY: Most of your bankroll is gone. STOP NOW!"
	slowDown         = "Slow down. Fast betting is how discipline slips; take a breath between decisions."
	timeCheck        = "You've been at the table for a long time. Step away, stretch and come back with fresh eyes, or call it a day."
)

// ForAlert formats a session alert.
func ForAlert(a session.Alert) Message {
	m := Message{Severity: a.Severity}
	switch a.Type {
	case session.AlertStakeEscalation:
		m.Title = "STAKE ESCALATION DETECTED"
		m.Body = fmt.Sprintf("Your bet size just jumped %v%% over your recent average.\n\n%s", a.Evidence["increasePct"], tiltWarning)
		m.Actions = []string{"regret_vault", "set_stake_limit"}
	case session.AlertLossSequence:
		m.Title = "LOSS STREAK INTERVENTION"
		m.Body = fmt.Sprintf("%v consecutive losses detected!\n\n%s", a.Evidence["consecutiveLosses"], interventionText)
		m.Actions = []string{"therapy_vault", "take_a_break", "contact_accountability_buddy"}
	case session.AlertBalanceCritical:
		m.Title = "EMERGENCY STOP - BALANCE CRITICAL"
		m.Body = fmt.Sprintf("Only %v%% of your bankroll is left.\n\n%s", a.Evidence["remainingPct"], emergencyStop)
		m.Actions = []string{"lock_all_vaults", "contact_accountability_buddy", "end_session"}
	case session.AlertHighVelocity:
		m.Title = "RAPID BETTING DETECTED"
		m.Body = fmt.Sprintf("%v bets in %v minutes!\n\n%s", a.Evidence["betsInWindow"], a.Evidence["windowMinutes"], slowDown)
		m.Actions = []string{"hodl_vault", "slow_down"}
	case session.AlertTimeAtTable:
		m.Title = "TIME CHECK"
		m.Body = fmt.Sprintf("%v minutes into this session.\n\n%s", a.Evidence["minutes"], timeCheck)
		m.Actions = []string{"take_a_break", "end_session"}
	default:
		m.Title = "TILT ALERT"
		m.Body = tiltWarning
	}
	return m
}

// Plan is the outreach for a risk level.
type Plan struct {
	Level        risk.RiskLevel         `json:"level"`
	Intervention risk.InterventionLevel `json:"intervention"`
	Actions      []string               `json:"actions"`
}

var (
	criticalActions = []string{
		"disable_betting_commands",
		"alert_accountability_buddies",
		"trigger_cooling_off_period",
		"admin_notification",
		"crisis_support_contact",
	}
	highActions = []string{
		"tiltcheck_reminders",
		"buddy_system_activation",
		"limit_suggestions",
		"progress_check_ins",
		"enhanced_monitoring",
	}
	moderateActions = []string{
		"gentle_reminders",
		"resource_sharing",
		"goal_review_prompts",
		"community_engagement_encouragement",
	}
)

// ForRisk returns the plan for a risk level. Low and minimal risk have no
// actions.
func ForRisk(level risk.RiskLevel) Plan {
	p := Plan{Level: level, Intervention: risk.InterventionFor(level)}
	switch level {
	case risk.RiskCritical:
		p.Actions = criticalActions
	case risk.RiskHigh, risk.RiskModerateHigh:
		p.Actions = highActions
	case risk.RiskModerate:
		p.Actions = moderateActions
	}
	p.Actions = append([]string(nil), p.Actions...)
	return p
}

var riskTitles = map[risk.InterventionLevel]string{
	risk.InterventionImmediate: "IMMEDIATE INTERVENTION",
	risk.InterventionUrgent:    "URGENT SUPPORT CHECK-IN",
	risk.InterventionProactive: "CHECKING IN",
	risk.InterventionGentle:    "FRIENDLY REMINDER",
	risk.InterventionNone:      "ALL GOOD",
}

var riskBodies = map[risk.InterventionLevel]string{
	risk.InterventionImmediate: "EMERGENCY ACCOUNTABILITY: STOP. Breathe. Think. Betting is paused while you talk to someone you trust.",
	risk.InterventionUrgent:    "REALITY CHECK: your recent patterns are concerning. Your accountability buddies have been asked to check in.",
	risk.InterventionProactive: "A few patterns caught our eye. Review your goals and limits before your next session.",
	risk.InterventionGentle:    "Stay vigilant. Discipline is like a muscle, keep exercising it.",
	risk.InterventionNone:      "Looking good! You're showing great discipline and control.",
}
