package trust

import "math"

// BaseScore is what the base contract verification is worth.
const BaseScore = 100

// VerificationPoints is the fixed award per verification type. Discord
// links prove identity but carry no points on their own.
var VerificationPoints = map[VerificationType]int{
	VerificationContract:     BaseScore,
	VerificationWallet:       50,
	VerificationStakeAccount: 75,
	VerificationCasinoCookie: 75,
	VerificationLocalStorage: 25,
	VerificationDiscord:      0,
}

// ProofPoints is the fixed award per proof action type.
var ProofPoints = map[ProofType]int{
	ProofLossTransparency:        30,
	ProofTiltRecovery:            50,
	ProofLimitAdherence:          40,
	ProofProfitWithdrawal:        35,
	ProofAccountabilityMilestone: 60,
	ProofCommunityMentoring:      70,
	ProofLongTermDiscipline:      80,
	ProofCrisisIntervention:      90,
}

// ScamReportPenalty is the nominal sus penalty of a full-evidence report.
// TrustImpact scales it by evidence level.
const ScamReportPenalty = 200

// Evidence level thresholds.
const (
	MinEvidenceLevel     = 1
	MaxEvidenceLevel     = 3
	RewardEvidenceLevel  = 2 // reporter earns reporting points
	PenaltyEvidenceLevel = 3 // target loses reporting points
)

// ValidVerificationType reports whether t is a known verification type.
func ValidVerificationType(t VerificationType) bool {
	_, ok := VerificationPoints[t]
	return ok
}

// ValidProofType reports whether t is a known proof type.
func ValidProofType(t ProofType) bool {
	_, ok := ProofPoints[t]
	return ok
}

// TrustImpact is round(ScamReportPenalty * level / 3).
func TrustImpact(level int) int {
	return int(math.Round(float64(ScamReportPenalty) * float64(level) / MaxEvidenceLevel))
}
