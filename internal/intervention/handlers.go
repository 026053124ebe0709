package intervention

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/mbd888/tiltcheck/internal/pagination"
	"github.com/mbd888/tiltcheck/internal/validation"
)

// Handler exposes the intervention log.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new intervention handler.
func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// RegisterRoutes sets up routes on the /v1/users/:userId group.
func (h *Handler) RegisterRoutes(users *gin.RouterGroup) {
	users.GET("/interventions", h.List)
}

// List handles GET /v1/users/:userId/interventions
// Newest first; pass nextCursor back as ?cursor= for the next page.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > eventlog.MaxInterventions {
		limit = 50
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	list, next, err := h.dispatcher.Page(c.Request.Context(), c.Param("userId"), limit, cursor)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	resp := gin.H{"interventions": list, "count": len(list), "hasMore": next != ""}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
