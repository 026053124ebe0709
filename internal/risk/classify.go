package risk

// Classify combines a trust score and a sus score into a risk level.
// A moderately sus user with little trust history ranks above one with an
// established record.
func Classify(trustScore, susScore int) RiskLevel {
	switch {
	case susScore >= 85:
		return RiskCritical
	case susScore >= HighRiskThreshold:
		return RiskHigh
	case susScore >= 40 && trustScore < 250:
		return RiskModerateHigh
	case susScore >= 40:
		return RiskModerate
	case susScore >= 20:
		return RiskLow
	default:
		return RiskMinimal
	}
}

var interventions = map[RiskLevel]InterventionLevel{
	RiskMinimal:      InterventionNone,
	RiskLow:          InterventionGentle,
	RiskModerate:     InterventionProactive,
	RiskModerateHigh: InterventionUrgent,
	RiskHigh:         InterventionUrgent,
	RiskCritical:     InterventionImmediate,
}

// InterventionFor maps a risk level to an intervention level. Unknown
// levels get none.
func InterventionFor(level RiskLevel) InterventionLevel {
	if l, ok := interventions[level]; ok {
		return l
	}
	return InterventionNone
}
