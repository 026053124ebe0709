package session

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/validation"
	"github.com/shopspring/decimal"
)

// Handler provides HTTP endpoints for live sessions.
type Handler struct {
	monitor *Monitor
}

// NewHandler creates a new session handler.
func NewHandler(monitor *Monitor) *Handler {
	return &Handler{monitor: monitor}
}

// RegisterRoutes sets up session routes on the /v1/users/:userId group.
func (h *Handler) RegisterRoutes(users *gin.RouterGroup) {
	users.POST("/session", h.Start)
	users.GET("/session", h.Status)
	users.DELETE("/session", h.End)
	users.POST("/session/bets", h.LogBet)
	users.GET("/sessions", h.History)
}

type startRequest struct {
	Platform string          `json:"platform"`
	Bankroll decimal.Decimal `json:"bankroll"`
}

// Start handles POST /v1/users/:userId/session
func (h *Handler) Start(c *gin.Context) {
	var req startRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	if err := validation.MaxLength("platform", req.Platform, 64)(); err != nil {
		validation.WriteError(c, err)
		return
	}

	s, err := h.monitor.Start(c.Request.Context(), c.Param("userId"), validation.SanitizeString(req.Platform, 64), req.Bankroll)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": s})
}

type betRequest struct {
	Stake   decimal.Decimal `json:"stake"`
	Outcome string          `json:"outcome"`
	Payout  decimal.Decimal `json:"payout"`
}

// LogBet handles POST /v1/users/:userId/session/bets
func (h *Handler) LogBet(c *gin.Context) {
	var req betRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	outcome, ok := ParseOutcome(req.Outcome)
	if !ok {
		validation.WriteError(c, apperr.Invalid("outcome", "must be win or loss"))
		return
	}

	result, err := h.monitor.LogBet(c.Request.Context(), c.Param("userId"), BetInput{
		Stake:   req.Stake,
		Outcome: outcome,
		Payout:  req.Payout,
	})
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Status handles GET /v1/users/:userId/session
func (h *Handler) Status(c *gin.Context) {
	st, err := h.monitor.Status(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// End handles DELETE /v1/users/:userId/session
func (h *Handler) End(c *gin.Context) {
	summary, err := h.monitor.End(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// History handles GET /v1/users/:userId/sessions
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	list, err := h.monitor.History(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
}
