package intervention

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/trust"
)

// AlertRaised turns a tilt alert into a notice.
func (d *Dispatcher) AlertRaised(ctx context.Context, userID string, a session.Alert) {
	msg := ForAlert(a)
	d.dispatch(ctx, &Notice{
		Kind:    KindAlert,
		UserID:  userID,
		Level:   string(a.Severity),
		Title:   msg.Title,
		Body:    msg.Body,
		Actions: msg.Actions,
		Data: map[string]any{
			"alertId":  a.ID,
			"type":     a.Type,
			"evidence": a.Evidence,
		},
	})
}

// SessionEnded sends the session recap.
func (d *Dispatcher) SessionEnded(ctx context.Context, s *session.Summary) {
	body := fmt.Sprintf("%d bets, %s wagered, net %s. Discipline score %d/100.",
		s.TotalBets, s.TotalWagered.StringFixed(2), s.NetPnL.StringFixed(2), s.DisciplineScore)
	if s.AlertCount > 0 {
		body += fmt.Sprintf(" %d tilt alerts this session.", s.AlertCount)
	}
	d.dispatch(ctx, &Notice{
		Kind:   KindSessionEnded,
		UserID: s.UserID,
		Level:  "INFO",
		Title:  fmt.Sprintf("SESSION COMPLETE - GRADE %s", s.Grade),
		Body:   body,
		Data: map[string]any{
			"sessionId": s.SessionID,
			"grade":     s.Grade,
			"netPnl":    s.NetPnL.String(),
			"endReason": s.EndReason,
		},
	})
}

// DispatchRisk sends the outreach plan for a classified user.
func (d *Dispatcher) DispatchRisk(ctx context.Context, sum *risk.TrustSummary) {
	plan := ForRisk(sum.RiskLevel)
	d.dispatch(ctx, &Notice{
		Kind:    KindRisk,
		UserID:  sum.UserID,
		Level:   string(sum.RiskLevel),
		Title:   riskTitles[plan.Intervention],
		Body:    riskBodies[plan.Intervention],
		Actions: plan.Actions,
		Data: map[string]any{
			"trustScore":   sum.TrustScore,
			"susScore":     sum.SusScore,
			"intervention": plan.Intervention,
			"susFactors":   sum.SusFactors,
		},
	})
}

// ReportFiled tells the reporter that their report was filed or reviewed.
func (d *Dispatcher) ReportFiled(ctx context.Context, r *trust.ScamReport) {
	status := strings.ReplaceAll(string(r.Status), "_", " ")
	d.dispatch(ctx, &Notice{
		Kind:   KindReport,
		UserID: r.ReporterID,
		Level:  "INFO",
		Title:  "SCAM REPORT " + strings.ToUpper(status),
		Body:   fmt.Sprintf("Your %s report %s is %s.", r.ScamType, r.ReportID, status),
		Data: map[string]any{
			"reportId":      r.ReportID,
			"targetId":      r.TargetID,
			"status":        r.Status,
			"evidenceLevel": r.EvidenceLevel,
		},
	})
}

// dispatch is the listener path; errors are already logged and counted.
func (d *Dispatcher) dispatch(ctx context.Context, n *Notice) {
	_ = d.Dispatch(context.WithoutCancel(ctx), n)
}
