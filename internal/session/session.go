// Package session tracks live gambling sessions and flags tilt patterns
// as bets come in.
//
// Sessions live in memory only, one per user. Ending a session (or
// starting a new one) archives a graded summary to the session_history
// table. Pattern detectors run on every bet; each alert they raise is
// handed to the registered listeners after the user's lock is released.
package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the result of one bet.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// ParseOutcome accepts win/loss and the w/l shorthands.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "win", "w", "WIN", "W":
		return OutcomeWin, true
	case "loss", "l", "LOSS", "L":
		return OutcomeLoss, true
	}
	return "", false
}

// AlertType names a tilt pattern.
type AlertType string

const (
	AlertStakeEscalation AlertType = "stake_escalation"
	AlertLossSequence    AlertType = "loss_sequence"
	AlertBalanceCritical AlertType = "balance_critical"
	AlertHighVelocity    AlertType = "high_velocity"
	AlertTimeAtTable     AlertType = "time_at_table"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Bet is one logged wager. Bets are never modified once appended.
type Bet struct {
	Stake     decimal.Decimal `json:"stake"`
	Outcome   Outcome         `json:"outcome"`
	Payout    decimal.Decimal `json:"payout"`
	NetResult decimal.Decimal `json:"netResult"`
	Timestamp time.Time       `json:"timestamp"`
}

// Alert is a detected tilt pattern.
type Alert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Evidence  map[string]any `json:"evidence,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is a user's live session.
type Session struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Platform          string          `json:"platform"`
	BankrollStart     decimal.Decimal `json:"bankrollStart"`
	Balance           decimal.Decimal `json:"balance"`
	Bets              []Bet           `json:"bets"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
	ConsecutiveWins   int             `json:"consecutiveWins"`
	Alerts            []Alert         `json:"alerts"`
	StartedAt         time.Time       `json:"startedAt"`
	MaxStake          decimal.Decimal `json:"maxStake"`
	MinStake          decimal.Decimal `json:"minStake"`
	TotalWagered      decimal.Decimal `json:"totalWagered"`
	NetPnL            decimal.Decimal `json:"netPnl"`

	timer *time.Timer
}

// snapshot copies s so callers can read it without the user lock.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.Bets = append([]Bet(nil), s.Bets...)
	cp.Alerts = append([]Alert(nil), s.Alerts...)
	cp.timer = nil
	return &cp
}

func (s *Session) hasAlert(t AlertType) bool {
	for _, a := range s.Alerts {
		if a.Type == t {
			return true
		}
	}
	return false
}

// BetInput is the input to LogBet. Payout is ignored for losses when
// computing the net result.
type BetInput struct {
	Stake   decimal.Decimal `json:"stake"`
	Outcome Outcome         `json:"outcome"`
	Payout  decimal.Decimal `json:"payout"`
}

// BetResult is returned by LogBet.
type BetResult struct {
	Bet               Bet             `json:"bet"`
	Alerts            []Alert         `json:"alerts"`
	Balance           decimal.Decimal `json:"balance"`
	NetPnL            decimal.Decimal `json:"netPnl"`
	TotalBets         int             `json:"totalBets"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
	ConsecutiveWins   int             `json:"consecutiveWins"`
}

// RiskLevel is the live session risk bucket.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Status is a live view of the active session.
type Status struct {
	Session         *Session  `json:"session"`
	DurationMinutes float64   `json:"durationMinutes"`
	WinRate         float64   `json:"winRate"`
	RiskScore       int       `json:"riskScore"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	Insight         string    `json:"insight"`
}

// EndReason says why a session was archived.
type EndReason string

const (
	EndReasonEnded    EndReason = "ended"
	EndReasonReplaced EndReason = "replaced"
)

// Summary is the archived record of a finished session.
type Summary struct {
	SessionID       string            `json:"sessionId"`
	UserID          string            `json:"userId"`
	Platform        string            `json:"platform"`
	StartedAt       time.Time         `json:"startedAt"`
	EndedAt         time.Time         `json:"endedAt"`
	DurationMinutes float64           `json:"durationMinutes"`
	Bankroll        decimal.Decimal   `json:"bankroll"`
	FinalBalance    decimal.Decimal   `json:"finalBalance"`
	NetPnL          decimal.Decimal   `json:"netPnl"`
	TotalBets       int               `json:"totalBets"`
	TotalWagered    decimal.Decimal   `json:"totalWagered"`
	MaxStake        decimal.Decimal   `json:"maxStake"`
	AlertCount      int               `json:"alertCount"`
	AlertCounts     map[AlertType]int `json:"alertCounts,omitempty"`
	Grade           Grade             `json:"grade"`
	DisciplineScore int               `json:"disciplineScore"`
	EndReason       EndReason         `json:"endReason"`
}

// Signals summarizes a user's recent betting behavior for the sus score.
type Signals struct {
	BetsLast5Min          int     `json:"betsLast5Min"`
	ConsecutiveLosses     int     `json:"consecutiveLosses"`
	HighVelocityAlerts    int     `json:"highVelocityAlerts"`
	LossSequenceAlerts    int     `json:"lossSequenceAlerts"`
	StakeEscalationAlerts int     `json:"stakeEscalationAlerts"`
	Platforms             int     `json:"platforms"`
	LateNightBets         int     `json:"lateNightBets"`
	LongestSessionMinutes float64 `json:"longestSessionMinutes"`
	ActiveSession         bool    `json:"activeSession"`
}
