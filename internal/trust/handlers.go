package trust

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/validation"
)

// Handler provides HTTP endpoints for verifications, proofs and reports.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new trust handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes sets up user-facing routes. users is the /v1/users/:userId
// group.
func (h *Handler) RegisterRoutes(v1 *gin.RouterGroup, users *gin.RouterGroup) {
	users.POST("/verifications", h.RecordVerification)
	users.GET("/verifications", h.VerificationLog)
	users.POST("/proofs", h.RecordProofAction)
	users.GET("/trust", h.GetTrustScore)
	users.GET("/record", h.GetRecord)
	users.GET("/reports", h.ListReports)

	v1.POST("/reports", h.ReportScam)
	v1.GET("/reports/:reportId", h.GetReport)
}

// RegisterAdminRoutes sets up moderator routes; the caller applies auth.
func (h *Handler) RegisterAdminRoutes(v1 *gin.RouterGroup, users *gin.RouterGroup) {
	v1.POST("/reports/:reportId/review", h.ReviewReport)
	users.DELETE("", h.Deactivate)
}

type verificationRequest struct {
	Type    VerificationType  `json:"type"`
	Payload map[string]string `json:"payload"`
}

// RecordVerification handles POST /v1/users/:userId/verifications
func (h *Handler) RecordVerification(c *gin.Context) {
	var req verificationRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	event, err := h.registry.RecordVerification(c.Request.Context(), c.Param("userId"), req.Type, req.Payload)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"verification": event})
}

// VerificationLog handles GET /v1/users/:userId/verifications
func (h *Handler) VerificationLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.registry.VerificationLog(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": entries, "count": len(entries)})
}

type proofRequest struct {
	Type         ProofType `json:"type"`
	EvidenceRefs []string  `json:"evidenceRefs"`
}

// RecordProofAction handles POST /v1/users/:userId/proofs
func (h *Handler) RecordProofAction(c *gin.Context) {
	var req proofRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	proof, err := h.registry.RecordProofAction(c.Request.Context(), c.Param("userId"), req.Type, req.EvidenceRefs)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"proof": proof})
}

// GetTrustScore handles GET /v1/users/:userId/trust
func (h *Handler) GetTrustScore(c *gin.Context) {
	score, err := h.registry.ComputeTrustScore(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

// GetRecord handles GET /v1/users/:userId/record
func (h *Handler) GetRecord(c *gin.Context) {
	rec, err := h.registry.GetRecord(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

// ListReports handles GET /v1/users/:userId/reports
func (h *Handler) ListReports(c *gin.Context) {
	reports, err := h.registry.ListReports(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

// ReportScam handles POST /v1/reports
func (h *Handler) ReportScam(c *gin.Context) {
	var req ReportRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	if err := validation.Validate(
		validation.ValidUserID("reporterId", req.ReporterID),
		validation.ValidUserID("targetId", req.TargetID),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
	); err != nil {
		validation.WriteError(c, err)
		return
	}
	req.Description = validation.SanitizeString(req.Description, validation.MaxStringLength)

	report, err := h.registry.ReportScam(c.Request.Context(), req)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report": report})
}

// GetReport handles GET /v1/reports/:reportId
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.registry.GetReport(c.Request.Context(), c.Param("reportId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// ReviewReport handles POST /v1/reports/:reportId/review
func (h *Handler) ReviewReport(c *gin.Context) {
	var req ReviewRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	report, err := h.registry.ReviewReport(c.Request.Context(), c.Param("reportId"), req)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// Deactivate handles DELETE /v1/users/:userId
func (h *Handler) Deactivate(c *gin.Context) {
	if err := h.registry.Deactivate(c.Request.Context(), c.Param("userId")); err != nil {
		validation.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
