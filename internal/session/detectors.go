package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// DetectContext is what a detector sees for one bet. Session holds the
// state after the bet was applied, except that Session.Bets does not yet
// include Bet.
type DetectContext struct {
	Session *Session
	Bet     Bet
	Now     time.Time
}

// Detector inspects a bet and returns an alert or nil.
type Detector interface {
	Name() AlertType
	Detect(dc *DetectContext) *Alert
}

// DefaultDetectors returns the built-in tilt detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		&StakeEscalation{Lookback: 3, Multiplier: decimal.NewFromInt(3)},
		&LossSequence{Limit: 5},
		&BalanceCritical{Ratio: decimal.NewFromFloat(0.2)},
		&HighVelocity{Window: 5 * time.Minute, Limit: 10},
	}
}

// ---------------------------------------------------------------------------
// StakeEscalation: stake jumps past a multiple of the recent mean
// ---------------------------------------------------------------------------

// StakeEscalation fires when the new stake exceeds Multiplier times the mean
// of the previous Lookback stakes. A multiplier of 3 is a rise of over 200%.
type StakeEscalation struct {
	Lookback   int
	Multiplier decimal.Decimal
}

func (d *StakeEscalation) Name() AlertType { return AlertStakeEscalation }

func (d *StakeEscalation) Detect(dc *DetectContext) *Alert {
	prior := dc.Session.Bets
	if d.Lookback <= 0 || len(prior) < d.Lookback {
		return nil
	}

	sum := decimal.Zero
	for _, b := range prior[len(prior)-d.Lookback:] {
		sum = sum.Add(b.Stake)
	}
	mean := sum.Div(decimal.NewFromInt(int64(d.Lookback)))
	if !mean.IsPositive() || !dc.Bet.Stake.GreaterThan(mean.Mul(d.Multiplier)) {
		return nil
	}

	increase := dc.Bet.Stake.Sub(mean).Div(mean).Mul(decimal.NewFromInt(100)).Round(1)
	return &Alert{
		Type:     AlertStakeEscalation,
		Severity: SeverityHigh,
		Evidence: map[string]any{
			"stake":        dc.Bet.Stake.String(),
			"recentMean":   mean.Round(2).String(),
			"increasePct":  increase.InexactFloat64(),
			"comparedBets": d.Lookback,
		},
	}
}

// ---------------------------------------------------------------------------
// LossSequence: too many losses in a row
// ---------------------------------------------------------------------------

// LossSequence fires while the losing streak is at least Limit.
type LossSequence struct {
	Limit int
}

func (d *LossSequence) Name() AlertType { return AlertLossSequence }

func (d *LossSequence) Detect(dc *DetectContext) *Alert {
	if dc.Session.ConsecutiveLosses < d.Limit {
		return nil
	}
	return &Alert{
		Type:     AlertLossSequence,
		Severity: SeverityHigh,
		Evidence: map[string]any{"consecutiveLosses": dc.Session.ConsecutiveLosses},
	}
}

// ---------------------------------------------------------------------------
// BalanceCritical: most of the bankroll is gone
// ---------------------------------------------------------------------------

// BalanceCritical fires while balance/bankroll is at or below Ratio.
type BalanceCritical struct {
	Ratio decimal.Decimal
}

func (d *BalanceCritical) Name() AlertType { return AlertBalanceCritical }

func (d *BalanceCritical) Detect(dc *DetectContext) *Alert {
	s := dc.Session
	if !s.BankrollStart.IsPositive() || s.Balance.GreaterThan(s.BankrollStart.Mul(d.Ratio)) {
		return nil
	}
	remaining := s.Balance.Div(s.BankrollStart).Mul(decimal.NewFromInt(100)).Round(1)
	return &Alert{
		Type:     AlertBalanceCritical,
		Severity: SeverityCritical,
		Evidence: map[string]any{
			"balance":      s.Balance.String(),
			"bankroll":     s.BankrollStart.String(),
			"remainingPct": remaining.InexactFloat64(),
		},
	}
}

// ---------------------------------------------------------------------------
// HighVelocity: too many bets in a short window
// ---------------------------------------------------------------------------

// HighVelocity fires when Limit or more bets, counting this one, fall within
// the trailing Window.
type HighVelocity struct {
	Window time.Duration
	Limit  int
}

func (d *HighVelocity) Name() AlertType { return AlertHighVelocity }

func (d *HighVelocity) Detect(dc *DetectContext) *Alert {
	n := 1 + betsSince(dc.Session.Bets, dc.Now.Add(-d.Window))
	if n < d.Limit {
		return nil
	}
	return &Alert{
		Type:     AlertHighVelocity,
		Severity: SeverityMedium,
		Evidence: map[string]any{"betsInWindow": n, "windowMinutes": d.Window.Minutes()},
	}
}

// betsSince counts bets at or after cutoff. Bets are in time order.
func betsSince(bets []Bet, cutoff time.Time) int {
	n := 0
	for i := len(bets) - 1; i >= 0 && !bets[i].Timestamp.Before(cutoff); i-- {
		n++
	}
	return n
}
