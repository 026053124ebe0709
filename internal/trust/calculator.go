package trust

import "time"

// Weights are the reporting and consistency constants of the score.
type Weights struct {
	ReportMade       int // per report made with evidence level >= 2
	ReportReceived   int // per report received with evidence level >= 3
	RepeatProofBonus int // once per proof type seen at least 3 times
	ConsistencyLow   int // 5+ linked accounts and proofs
	ConsistencyHigh  int // 10+ linked accounts and proofs
}

// DefaultWeights match the published scoring rules.
var DefaultWeights = Weights{
	ReportMade:       20,
	ReportReceived:   50,
	RepeatProofBonus: 10,
	ConsistencyLow:   25,
	ConsistencyHigh:  50,
}

// Calculator folds a user record into a Score. It holds no state besides
// its weights and is safe for concurrent use.
type Calculator struct {
	weights Weights
	now     func() time.Time
}

// NewCalculator creates a calculator with DefaultWeights.
func NewCalculator() *Calculator {
	return NewCalculatorWithWeights(DefaultWeights)
}

// NewCalculatorWithWeights creates a calculator with custom weights.
func NewCalculatorWithWeights(w Weights) *Calculator {
	return &Calculator{weights: w, now: time.Now}
}

// Compute scores rec. made and received are the reports referenced by the
// record; dismissed reports are ignored. A nil or unverified record scores
// zero.
func (c *Calculator) Compute(rec *UserRecord, made, received []ScamReport) Score {
	score := Score{
		Breakdown: map[string]int{
			CategoryBase:        0,
			CategoryLinks:       0,
			CategoryProofs:      0,
			CategoryReporting:   0,
			CategoryConsistency: 0,
		},
		Tier:         TierUnverified,
		CalculatedAt: c.now(),
	}
	if rec == nil {
		return score
	}
	score.UserID = rec.UserID
	if !rec.BaseVerified {
		return score
	}

	base := BaseScore

	links, linkCount := 0, 0
	for _, ev := range rec.VerificationEvents {
		if ev.Type == VerificationContract {
			continue
		}
		linkCount++
		if ev.Status == EventActive {
			links += ev.TrustPointsAwarded
		}
	}

	proofs := 0
	perType := make(map[ProofType]int)
	for _, p := range rec.DegenProofActions {
		proofs += p.Points
		perType[p.Type]++
	}
	for _, n := range perType {
		if n >= 3 {
			proofs += c.weights.RepeatProofBonus
		}
	}

	reporting := 0
	for _, r := range made {
		if r.Status != ReportDismissed && r.EvidenceLevel >= RewardEvidenceLevel {
			reporting += c.weights.ReportMade
		}
	}
	for _, r := range received {
		if r.CountsAgainstTarget() {
			reporting -= c.weights.ReportReceived
		}
	}

	// The base contract is the entry ticket, not an action, so it does not
	// count toward consistency.
	consistency := 0
	switch actions := linkCount + len(rec.DegenProofActions); {
	case actions >= 10:
		consistency = c.weights.ConsistencyHigh
	case actions >= 5:
		consistency = c.weights.ConsistencyLow
	}

	score.Breakdown[CategoryBase] = base
	score.Breakdown[CategoryLinks] = links
	score.Breakdown[CategoryProofs] = proofs
	score.Breakdown[CategoryReporting] = reporting
	score.Breakdown[CategoryConsistency] = consistency

	score.Total = max(0, base+links+proofs+reporting+consistency)
	score.Tier = TierFor(score.Total)
	return score
}

// TierFor buckets a trust total.
func TierFor(total int) Tier {
	switch {
	case total >= 1000:
		return TierElite
	case total >= 750:
		return TierHighlyTrusted
	case total >= 500:
		return TierTrusted
	case total >= 250:
		return TierDeveloping
	case total >= 100:
		return TierNewUser
	default:
		return TierUnverified
	}
}
