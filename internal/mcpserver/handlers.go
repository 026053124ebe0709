package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/tiltcheck/internal/intervention"
	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/trust"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

func (h *Handlers) userID(req mcp.CallToolRequest, key string) (string, *mcp.CallToolResult) {
	if id := strings.TrimSpace(req.GetString(key, "")); id != "" {
		return id, nil
	}
	if h.client.cfg.UserID != "" {
		return h.client.cfg.UserID, nil
	}
	return "", mcp.NewToolResultError(key + " is required (no default user configured)")
}

// HandleGetTrustSummary returns trust, sus and risk for a user.
func (h *Handlers) HandleGetTrustSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errRes := h.userID(req, "user_id")
	if errRes != nil {
		return errRes, nil
	}
	sum, err := h.client.TrustSummary(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trust summary: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSummary(sum)), nil
}

// HandleGetSessionStatus returns the live session view.
func (h *Handlers) HandleGetSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errRes := h.userID(req, "user_id")
	if errRes != nil {
		return errRes, nil
	}
	st, err := h.client.SessionStatus(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session status: %v", err)), nil
	}
	return mcp.NewToolResultText(formatStatus(st)), nil
}

// HandleStartSession opens a session.
func (h *Handlers) HandleStartSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errRes := h.userID(req, "user_id")
	if errRes != nil {
		return errRes, nil
	}
	platform := req.GetString("platform", "")
	bankroll := req.GetString("bankroll", "")
	if platform == "" || bankroll == "" {
		return mcp.NewToolResultError("platform and bankroll are required"), nil
	}

	s, err := h.client.StartSession(ctx, userID, platform, bankroll)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start session: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Session started on %s.\nSession ID: %s\nBankroll: %s\n\nLog each bet with log_bet. Good luck, and know when to stop.",
		s.Platform, s.ID, s.BankrollStart.StringFixed(2))), nil
}

// HandleLogBet records a bet and surfaces any alerts it raised.
func (h *Handlers) HandleLogBet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errRes := h.userID(req, "user_id")
	if errRes != nil {
		return errRes, nil
	}
	stake := req.GetString("stake", "")
	outcome := req.GetString("outcome", "")
	if stake == "" || outcome == "" {
		return mcp.NewToolResultError("stake and outcome are required"), nil
	}

	res, err := h.client.LogBet(ctx, userID, stake, outcome, req.GetString("payout", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to log bet: %v", err)), nil
	}
	return mcp.NewToolResultText(formatBetResult(res)), nil
}

// HandleEndSession closes the session and reports the grade.
func (h *Handlers) HandleEndSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errRes := h.userID(req, "user_id")
	if errRes != nil {
		return errRes, nil
	}
	sum, err := h.client.EndSession(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to end session: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSessionSummary(sum)), nil
}

// HandleReportScam files a scam report.
func (h *Handlers) HandleReportScam(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reporter, errRes := h.userID(req, "reporter_id")
	if errRes != nil {
		return errRes, nil
	}
	target := req.GetString("target_id", "")
	scamType := req.GetString("scam_type", "")
	if target == "" || scamType == "" {
		return mcp.NewToolResultError("target_id and scam_type are required"), nil
	}

	report, err := h.client.ReportScam(ctx, trust.ReportRequest{
		ReporterID:    reporter,
		TargetID:      target,
		ScamType:      scamType,
		EvidenceLevel: req.GetInt("evidence_level", 1),
		Description:   req.GetString("description", ""),
		Evidence:      req.GetStringSlice("evidence", nil),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to file report: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Report filed.\nReport ID: %s\nTarget: %s\nType: %s\nEvidence level: %d\nStatus: %s",
		report.ReportID, report.TargetID, report.ScamType, report.EvidenceLevel, report.Status)), nil
}

// HandleGetInterventions lists recent interventions.
func (h *Handlers) HandleGetInterventions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errRes := h.userID(req, "user_id")
	if errRes != nil {
		return errRes, nil
	}
	list, err := h.client.Interventions(ctx, userID, req.GetInt("limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get interventions: %v", err)), nil
	}
	return mcp.NewToolResultText(formatInterventions(list)), nil
}

// --- formatting ---

func formatSummary(s *risk.TrustSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User: %s\n", s.UserID)
	fmt.Fprintf(&sb, "Trust: %d (%s)\n", s.TrustScore, s.Tier)
	fmt.Fprintf(&sb, "Sus: %d/100\n", s.SusScore)
	fmt.Fprintf(&sb, "Risk: %s\n", s.RiskLevel)
	fmt.Fprintf(&sb, "Intervention: %s\n", s.InterventionLevel)
	if len(s.SusFactors) > 0 {
		sb.WriteString("\nSus factors:\n")
		for _, k := range sortedKeys(s.SusFactors) {
			if v := s.SusFactors[k]; v > 0 {
				fmt.Fprintf(&sb, "  %s: +%d\n", k, v)
			}
		}
	}
	return sb.String()
}

func formatStatus(st *session.Status) string {
	s := st.Session
	var sb strings.Builder
	fmt.Fprintf(&sb, "Platform: %s (%.0f min)\n", s.Platform, st.DurationMinutes)
	fmt.Fprintf(&sb, "Balance: %s of %s\n", s.Balance.StringFixed(2), s.BankrollStart.StringFixed(2))
	fmt.Fprintf(&sb, "Net: %s over %d bets (win rate %.0f%%)\n", s.NetPnL.StringFixed(2), len(s.Bets), st.WinRate)
	fmt.Fprintf(&sb, "Risk: %s (%d/100)\n", st.RiskLevel, st.RiskScore)
	if len(s.Alerts) > 0 {
		fmt.Fprintf(&sb, "Alerts: %d\n", len(s.Alerts))
	}
	if st.Insight != "" {
		fmt.Fprintf(&sb, "\n%s\n", st.Insight)
	}
	return sb.String()
}

func formatBetResult(r *session.BetResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bet logged: %s %s (net %s)\n", r.Bet.Outcome, r.Bet.Stake.StringFixed(2), r.Bet.NetResult.StringFixed(2))
	fmt.Fprintf(&sb, "Balance: %s, session net %s, %d bets\n", r.Balance.StringFixed(2), r.NetPnL.StringFixed(2), r.TotalBets)
	for _, a := range r.Alerts {
		msg := intervention.ForAlert(a)
		fmt.Fprintf(&sb, "\n[%s] %s\n%s\n", a.Severity, msg.Title, msg.Body)
	}
	return sb.String()
}

func formatSessionSummary(s *session.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session ended. Grade: %s\n", s.Grade)
	fmt.Fprintf(&sb, "Duration: %.0f min, %d bets, %s wagered\n", s.DurationMinutes, s.TotalBets, s.TotalWagered.StringFixed(2))
	fmt.Fprintf(&sb, "Net: %s (final balance %s)\n", s.NetPnL.StringFixed(2), s.FinalBalance.StringFixed(2))
	fmt.Fprintf(&sb, "Discipline score: %d/100, alerts: %d\n", s.DisciplineScore, s.AlertCount)
	return sb.String()
}

func formatInterventions(list []intervention.Notice) string {
	if len(list) == 0 {
		return "No interventions."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d interventions:\n", len(list))
	for _, n := range list {
		fmt.Fprintf(&sb, "\n%s [%s] %s\n", n.CreatedAt.Format("2006-01-02 15:04"), n.Level, n.Title)
	}
	return sb.String()
}
