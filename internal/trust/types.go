// Package trust keeps each user's verification history and turns it into a
// trust score.
//
// Trust starts when a user signs the TiltCheck contract (the base
// verification). Linked accounts, evidence-backed proof actions and scam
// reporting then move the score up or down. Scores are never stored as
// running totals; they are folded from the record on every read so the
// stored history is the single source of truth.
package trust

import (
	"time"
)

// VerificationType identifies how a user proved control of an account.
type VerificationType string

const (
	VerificationContract     VerificationType = "contract"
	VerificationWallet       VerificationType = "wallet"
	VerificationDiscord      VerificationType = "discord"
	VerificationStakeAccount VerificationType = "stake_account"
	VerificationCasinoCookie VerificationType = "casino_cookie"
	VerificationLocalStorage VerificationType = "local_storage"
)

// EventStatus is the state of a verification event.
type EventStatus string

const (
	EventActive  EventStatus = "active"
	EventRevoked EventStatus = "revoked"
)

// VerificationEvent is one successful verification.
type VerificationEvent struct {
	Type               VerificationType  `json:"type"`
	Payload            map[string]string `json:"payload,omitempty"`
	VerifiedAt         time.Time         `json:"verifiedAt"`
	TrustPointsAwarded int               `json:"trustPointsAwarded"`
	Status             EventStatus       `json:"status"`
	Reference          string            `json:"reference,omitempty"`
}

// ProofType is a kind of degen proof action.
type ProofType string

const (
	ProofLossTransparency        ProofType = "loss_transparency"
	ProofTiltRecovery            ProofType = "tilt_recovery"
	ProofLimitAdherence          ProofType = "limit_adherence"
	ProofProfitWithdrawal        ProofType = "profit_withdrawal"
	ProofAccountabilityMilestone ProofType = "accountability_milestone"
	ProofCommunityMentoring      ProofType = "community_mentoring"
	ProofLongTermDiscipline      ProofType = "long_term_discipline"
	ProofCrisisIntervention      ProofType = "crisis_intervention"
)

// ProofAction is an evidence-backed action showing disciplined play.
type ProofAction struct {
	ID           string    `json:"id"`
	Type         ProofType `json:"type"`
	Points       int       `json:"points"`
	EvidenceRefs []string  `json:"evidenceRefs"`
	VerifiedAt   time.Time `json:"verifiedAt"`
}

// UserRecord is everything stored about one user.
type UserRecord struct {
	UserID              string              `json:"userId"`
	BaseVerified        bool                `json:"baseVerified"`
	VerificationEvents  []VerificationEvent `json:"verificationEvents"`
	TrustScore          int                 `json:"trustScore"`
	SusScore            int                 `json:"susScore"`
	ScamReportsMade     []string            `json:"scamReportsMade"`
	ScamReportsReceived []string            `json:"scamReportsReceived"`
	DegenProofActions   []ProofAction       `json:"degenProofActions"`
	Active              bool                `json:"active"`
	CreatedAt           time.Time           `json:"createdAt"`
	LastUpdated         time.Time           `json:"lastUpdated"`
}

// activeEvent returns the index of the active event of type t, or -1.
func (u *UserRecord) activeEvent(t VerificationType) int {
	for i, ev := range u.VerificationEvents {
		if ev.Type == t && ev.Status == EventActive {
			return i
		}
	}
	return -1
}

func addID(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// ReportStatus is the moderation state of a scam report.
type ReportStatus string

const (
	ReportUnderReview ReportStatus = "under_review"
	ReportConfirmed   ReportStatus = "confirmed"
	ReportDismissed   ReportStatus = "dismissed"
)

// ScamReport is one user's report against another.
type ScamReport struct {
	ReportID      string       `json:"reportId"`
	ReporterID    string       `json:"reporterId"`
	TargetID      string       `json:"targetId"`
	ScamType      string       `json:"scamType"`
	Description   string       `json:"description"`
	Evidence      []string     `json:"evidence,omitempty"`
	EvidenceLevel int          `json:"evidenceLevel"`
	Status        ReportStatus `json:"status"`
	TrustImpact   int          `json:"trustImpact"`
	ReportedAt    time.Time    `json:"reportedAt"`
	ReviewedAt    *time.Time   `json:"reviewedAt,omitempty"`
	ReviewedBy    string       `json:"reviewedBy,omitempty"`
}

// CountsAgainstTarget reports whether the report weighs on the target's
// scores. Trust and sus both go through it.
func (r *ScamReport) CountsAgainstTarget() bool {
	return r.Status != ReportDismissed && r.EvidenceLevel >= PenaltyEvidenceLevel
}

// ReportRequest is the input to ReportScam.
type ReportRequest struct {
	ReporterID    string   `json:"reporterId"`
	TargetID      string   `json:"targetId"`
	ScamType      string   `json:"scamType"`
	EvidenceLevel int      `json:"evidenceLevel"`
	Description   string   `json:"description"`
	Evidence      []string `json:"evidence"`
}

// ReviewRequest is a moderator decision on a report. A zero EvidenceLevel
// keeps the current level.
type ReviewRequest struct {
	Status        ReportStatus `json:"status"`
	EvidenceLevel int          `json:"evidenceLevel"`
	Reviewer      string       `json:"reviewer"`
}

// Reports groups the reports a user made and received.
type Reports struct {
	Made     []ScamReport `json:"made"`
	Received []ScamReport `json:"received"`
}

// Tier buckets a trust total.
type Tier string

const (
	TierUnverified    Tier = "UNVERIFIED"
	TierNewUser       Tier = "NEW_USER"
	TierDeveloping    Tier = "DEVELOPING"
	TierTrusted       Tier = "TRUSTED"
	TierHighlyTrusted Tier = "HIGHLY_TRUSTED"
	TierElite         Tier = "ELITE"
)

// Breakdown keys.
const (
	CategoryBase        = "base"
	CategoryLinks       = "links"
	CategoryProofs      = "proofs"
	CategoryReporting   = "reporting"
	CategoryConsistency = "consistency"
)

// Score is a computed trust score.
type Score struct {
	UserID       string         `json:"userId"`
	Total        int            `json:"total"`
	Breakdown    map[string]int `json:"breakdown"`
	Tier         Tier           `json:"tier"`
	CalculatedAt time.Time      `json:"calculatedAt"`
}

// Action is one audit entry in the verification_actions log.
type Action struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Type      string            `json:"type,omitempty"`
	Result    string            `json:"result"`
	Points    int               `json:"points,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Audit action names.
const (
	ActionVerification  = "verification"
	ActionReverify      = "reverification"
	ActionProof         = "proof_action"
	ActionReportFiled   = "scam_report_filed"
	ActionReportTarget  = "scam_report_received"
	ActionReportReview  = "scam_report_reviewed"
	ActionDeactivated   = "deactivated"
	ResultOK            = "ok"
	ResultFailed        = "failed"
	ResultPointsSkipped = "refreshed"
)
