package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func event(t VerificationType) VerificationEvent {
	return VerificationEvent{Type: t, TrustPointsAwarded: VerificationPoints[t], Status: EventActive, VerifiedAt: time.Now()}
}

func proof(t ProofType) ProofAction {
	return ProofAction{Type: t, Points: ProofPoints[t], EvidenceRefs: []string{"ref"}}
}

func baseRecord(events ...VerificationType) *UserRecord {
	rec := &UserRecord{UserID: "u1", BaseVerified: true, Active: true}
	rec.VerificationEvents = append(rec.VerificationEvents, event(VerificationContract))
	for _, t := range events {
		rec.VerificationEvents = append(rec.VerificationEvents, event(t))
	}
	return rec
}

func TestCompute_Unverified(t *testing.T) {
	c := NewCalculator()

	s := c.Compute(nil, nil, nil)
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, TierUnverified, s.Tier)

	// Points on a record without the base verification never count.
	rec := &UserRecord{UserID: "u1", VerificationEvents: []VerificationEvent{event(VerificationWallet)}}
	s = c.Compute(rec, nil, nil)
	assert.Equal(t, 0, s.Total)
	for k, v := range s.Breakdown {
		assert.Zero(t, v, k)
	}
	assert.Len(t, s.Breakdown, 5)
}

func TestCompute_ContractAndWallet(t *testing.T) {
	s := NewCalculator().Compute(baseRecord(VerificationWallet), nil, nil)
	assert.Equal(t, 150, s.Total)
	assert.Equal(t, TierNewUser, s.Tier)
	assert.Equal(t, 100, s.Breakdown[CategoryBase])
	assert.Equal(t, 50, s.Breakdown[CategoryLinks])
}

func TestCompute_RepeatProofBonus(t *testing.T) {
	rec := baseRecord(VerificationWallet)
	for i := 0; i < 3; i++ {
		rec.DegenProofActions = append(rec.DegenProofActions, proof(ProofTiltRecovery))
	}
	s := NewCalculator().Compute(rec, nil, nil)
	assert.Equal(t, 160, s.Breakdown[CategoryProofs])
	assert.Equal(t, 0, s.Breakdown[CategoryConsistency])
	assert.Equal(t, 310, s.Total)
	assert.Equal(t, TierDeveloping, s.Tier)

	// The bonus is once per type, not per occurrence.
	rec.DegenProofActions = append(rec.DegenProofActions, proof(ProofTiltRecovery))
	s = NewCalculator().Compute(rec, nil, nil)
	assert.Equal(t, 210, s.Breakdown[CategoryProofs])
}

func TestCompute_Consistency(t *testing.T) {
	tests := []struct {
		name   string
		proofs int
		want   int
	}{
		{"four actions", 3, 0},
		{"five actions", 4, 25},
		{"ten actions", 9, 50},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := baseRecord(VerificationWallet)
			for i := 0; i < tc.proofs; i++ {
				rec.DegenProofActions = append(rec.DegenProofActions, proof(ProofLossTransparency))
			}
			s := NewCalculator().Compute(rec, nil, nil)
			assert.Equal(t, tc.want, s.Breakdown[CategoryConsistency])
		})
	}
}

func TestCompute_Reporting(t *testing.T) {
	rec := baseRecord(VerificationWallet)
	made := []ScamReport{
		{EvidenceLevel: 1, Status: ReportUnderReview},
		{EvidenceLevel: 2, Status: ReportUnderReview},
		{EvidenceLevel: 3, Status: ReportConfirmed},
		{EvidenceLevel: 3, Status: ReportDismissed},
	}
	received := []ScamReport{
		{EvidenceLevel: 2, Status: ReportUnderReview},
		{EvidenceLevel: 3, Status: ReportConfirmed},
	}
	s := NewCalculator().Compute(rec, made, received)
	assert.Equal(t, 2*20-50, s.Breakdown[CategoryReporting])
	assert.Equal(t, 140, s.Total)
}

func TestCompute_TotalNeverNegative(t *testing.T) {
	rec := baseRecord()
	var received []ScamReport
	for i := 0; i < 5; i++ {
		received = append(received, ScamReport{EvidenceLevel: 3, Status: ReportConfirmed})
	}
	s := NewCalculator().Compute(rec, nil, received)
	assert.Equal(t, -250, s.Breakdown[CategoryReporting])
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, TierUnverified, s.Tier)
}

func TestCompute_RevokedLinksScoreNothing(t *testing.T) {
	rec := baseRecord(VerificationWallet)
	rec.VerificationEvents[1].Status = EventRevoked
	s := NewCalculator().Compute(rec, nil, nil)
	assert.Equal(t, 100, s.Total)
}

func TestCompute_AddingEventNeverDecreasesTrust(t *testing.T) {
	c := NewCalculator()
	rec := baseRecord()
	prev := c.Compute(rec, nil, nil).Total
	for _, vt := range []VerificationType{VerificationWallet, VerificationDiscord, VerificationStakeAccount,
		VerificationCasinoCookie, VerificationLocalStorage, VerificationWallet} {
		rec.VerificationEvents = append(rec.VerificationEvents, event(vt))
		cur := c.Compute(rec, nil, nil).Total
		assert.GreaterOrEqual(t, cur, prev, "after %s", vt)
		prev = cur
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		total int
		want  Tier
	}{
		{0, TierUnverified},
		{99, TierUnverified},
		{100, TierNewUser},
		{249, TierNewUser},
		{250, TierDeveloping},
		{500, TierTrusted},
		{750, TierHighlyTrusted},
		{999, TierHighlyTrusted},
		{1000, TierElite},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, TierFor(tc.total), "total %d", tc.total)
	}
}

func TestTrustImpact(t *testing.T) {
	assert.Equal(t, 67, TrustImpact(1))
	assert.Equal(t, 133, TrustImpact(2))
	assert.Equal(t, 200, TrustImpact(3))
}
