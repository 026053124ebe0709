package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		trust, sus int
		want       RiskLevel
	}{
		{0, 0, RiskMinimal},
		{1000, 19, RiskMinimal},
		{0, 20, RiskLow},
		{500, 39, RiskLow},
		{249, 40, RiskModerateHigh},
		{250, 40, RiskModerate},
		{1000, 69, RiskModerate},
		{1000, 70, RiskHigh},
		{0, 84, RiskHigh},
		{1000, 85, RiskCritical},
		{0, 100, RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.trust, tt.sus), "trust=%d sus=%d", tt.trust, tt.sus)
		assert.Equal(t, Classify(tt.trust, tt.sus), Classify(tt.trust, tt.sus))
	}
}

func TestInterventionFor(t *testing.T) {
	assert.Equal(t, InterventionNone, InterventionFor(RiskMinimal))
	assert.Equal(t, InterventionGentle, InterventionFor(RiskLow))
	assert.Equal(t, InterventionProactive, InterventionFor(RiskModerate))
	assert.Equal(t, InterventionUrgent, InterventionFor(RiskModerateHigh))
	assert.Equal(t, InterventionUrgent, InterventionFor(RiskHigh))
	assert.Equal(t, InterventionImmediate, InterventionFor(RiskCritical))
	assert.Equal(t, InterventionNone, InterventionFor("BOGUS"))
}

func TestInterventionLevel_AtLeast(t *testing.T) {
	assert.True(t, InterventionImmediate.AtLeast(InterventionUrgent))
	assert.True(t, InterventionUrgent.AtLeast(InterventionUrgent))
	assert.False(t, InterventionProactive.AtLeast(InterventionUrgent))
}
