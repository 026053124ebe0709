// Package risk turns trust scores and betting behavior into a sus score,
// a risk level and an intervention level.
//
// The sus score is 0..100. Confirmed scam reports dominate it; the
// remaining factors come from the session monitor's behavioral signals.
// Classification and the intervention table are pure functions so they can
// be reused by callers that already hold both scores.
package risk

import (
	"context"
	"time"

	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/trust"
)

// RiskLevel is the combined trust/sus classification.
type RiskLevel string

const (
	RiskMinimal      RiskLevel = "MINIMAL_RISK"
	RiskLow          RiskLevel = "LOW_RISK"
	RiskModerate     RiskLevel = "MODERATE_RISK"
	RiskModerateHigh RiskLevel = "MODERATE_HIGH"
	RiskHigh         RiskLevel = "HIGH_RISK"
	RiskCritical     RiskLevel = "CRITICAL"
)

// InterventionLevel says how hard to reach out to a user.
type InterventionLevel string

const (
	InterventionNone      InterventionLevel = "none"
	InterventionGentle    InterventionLevel = "gentle_guidance"
	InterventionProactive InterventionLevel = "proactive_outreach"
	InterventionUrgent    InterventionLevel = "urgent_support"
	InterventionImmediate InterventionLevel = "immediate_intervention"
)

var interventionRank = map[InterventionLevel]int{
	InterventionNone:      0,
	InterventionGentle:    1,
	InterventionProactive: 2,
	InterventionUrgent:    3,
	InterventionImmediate: 4,
}

// AtLeast reports whether l is as severe as other.
func (l InterventionLevel) AtLeast(other InterventionLevel) bool {
	return interventionRank[l] >= interventionRank[other]
}

// Sus factor keys.
const (
	FactorScamReports     = "scam_reports"
	FactorRapidBetting    = "rapid_betting"
	FactorLossChasing     = "loss_chasing"
	FactorMultiPlatform   = "multi_platform"
	FactorStakeEscalation = "stake_escalation"
	FactorLateNight       = "late_night"
	FactorExtendedSession = "extended_session"
)

// SusScore is a computed sus score with its per-factor contributions.
type SusScore struct {
	UserID           string          `json:"userId"`
	Score            int             `json:"score"`
	Factors          map[string]int  `json:"factors"`
	ConfirmedReports int             `json:"confirmedReports"`
	Signals          session.Signals `json:"signals"`
	EvaluatedAt      time.Time       `json:"evaluatedAt"`
}

// TrustSummary is the combined view of a user's standing.
type TrustSummary struct {
	UserID            string            `json:"userId"`
	TrustScore        int               `json:"trustScore"`
	Tier              trust.Tier        `json:"tier"`
	SusScore          int               `json:"susScore"`
	RiskLevel         RiskLevel         `json:"riskLevel"`
	InterventionLevel InterventionLevel `json:"interventionLevel"`
	Breakdown         map[string]int    `json:"breakdown"`
	SusFactors        map[string]int    `json:"susFactors"`
	EvaluatedAt       time.Time         `json:"evaluatedAt"`
}

// SuspiciousEntry is one row of the suspicious_activity log.
type SuspiciousEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	SusScore  int            `json:"susScore"`
	Factors   map[string]int `json:"factors"`
	Timestamp time.Time      `json:"timestamp"`
}

// TrustSource provides trust scores and report counts.
type TrustSource interface {
	ComputeTrustScore(ctx context.Context, userID string) (*trust.Score, error)
	ConfirmedReportsAgainst(ctx context.Context, userID string) (int, error)
	CacheSusScore(ctx context.Context, userID string, sus int) error
	Users(ctx context.Context) ([]string, error)
}

// SignalSource provides behavioral signals over a lookback window.
type SignalSource interface {
	Signals(ctx context.Context, userID string, lookback time.Duration) (session.Signals, error)
}

// Dispatcher receives summaries that call for urgent support or more.
type Dispatcher interface {
	DispatchRisk(ctx context.Context, summary *TrustSummary)
}
