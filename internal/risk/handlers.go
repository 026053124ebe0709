package risk

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/validation"
)

// Handler provides HTTP endpoints for summaries and sus scores.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up routes on the /v1/users/:userId group.
func (h *Handler) RegisterRoutes(users *gin.RouterGroup) {
	users.GET("/summary", h.GetSummary)
	users.GET("/sus", h.GetSusScore)
	users.GET("/suspicious-activity", h.SuspiciousActivity)
}

// GetSummary handles GET /v1/users/:userId/summary
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.engine.Summary(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetSusScore handles GET /v1/users/:userId/sus
func (h *Handler) GetSusScore(c *gin.Context) {
	sus, err := h.engine.ComputeSusScore(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, sus)
}

// SuspiciousActivity handles GET /v1/users/:userId/suspicious-activity
func (h *Handler) SuspiciousActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.engine.SuspiciousActivity(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
