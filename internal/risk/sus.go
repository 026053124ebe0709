package risk

import (
	"math"

	"github.com/mbd888/tiltcheck/internal/session"
)

// HighRiskThreshold is the sus score at which a user is logged as
// suspicious.
const HighRiskThreshold = 70

// Weights are the sus score weights. Behavioral weights multiply a
// severity in [0,1].
type Weights struct {
	ScamReport      int
	RapidBetting    int
	LossChasing     int
	MultiPlatform   int
	StakeEscalation int
	LateNight       int
	ExtendedSession int
}

// DefaultWeights is the production weighting. A single confirmed report
// saturates the score.
var DefaultWeights = Weights{
	ScamReport:      200,
	RapidBetting:    20,
	LossChasing:     25,
	MultiPlatform:   15,
	StakeEscalation: 20,
	LateNight:       10,
	ExtendedSession: 15,
}

// ComputeSus scores confirmed reports and behavioral signals. The total is
// clamped to [0,100]; factors hold the unclamped contributions.
func ComputeSus(w Weights, confirmedReports int, sig session.Signals) (int, map[string]int) {
	factors := map[string]int{
		FactorScamReports:     confirmedReports * w.ScamReport,
		FactorRapidBetting:    weigh(w.RapidBetting, rapidSeverity(sig)),
		FactorLossChasing:     weigh(w.LossChasing, lossChasingSeverity(sig)),
		FactorMultiPlatform:   weigh(w.MultiPlatform, float64(sig.Platforms-1)/2),
		FactorStakeEscalation: weigh(w.StakeEscalation, float64(sig.StakeEscalationAlerts)/2),
		FactorLateNight:       weigh(w.LateNight, boolSeverity(sig.LateNightBets > 0)),
		FactorExtendedSession: weigh(w.ExtendedSession, extendedSeverity(sig.LongestSessionMinutes)),
	}

	total := 0
	for _, v := range factors {
		total += v
	}
	return max(0, min(100, total)), factors
}

func rapidSeverity(sig session.Signals) float64 {
	if sig.HighVelocityAlerts > 0 {
		return 1
	}
	return float64(sig.BetsLast5Min) / 10
}

func lossChasingSeverity(sig session.Signals) float64 {
	if sig.LossSequenceAlerts > 0 {
		return 1
	}
	return float64(sig.ConsecutiveLosses) / 5
}

func extendedSeverity(minutes float64) float64 {
	switch {
	case minutes > 180:
		return 1
	case minutes > 120:
		return 0.5
	}
	return 0
}

func boolSeverity(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// weigh scales weight by severity clamped to [0,1].
func weigh(weight int, severity float64) int {
	severity = math.Max(0, math.Min(1, severity))
	return int(math.Round(float64(weight) * severity))
}
