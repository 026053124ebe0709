package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/internal/validation"
)

// MaxSubscriptionsPerUser caps how many webhooks one user may register.
const MaxSubscriptionsPerUser = 10

// Handler serves /v1/users/:userId/webhooks.
type Handler struct {
	store        Store
	urlValidator func(string) error
	now          func() time.Time
}

// NewHandler returns a handler over store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, urlValidator: ValidateURL, now: time.Now}
}

// RegisterRoutes mounts the routes on the users group.
func (h *Handler) RegisterRoutes(users *gin.RouterGroup) {
	users.POST("/webhooks", h.CreateWebhook)
	users.GET("/webhooks", h.ListWebhooks)
	users.PATCH("/webhooks/:webhookId", h.UpdateWebhook)
	users.DELETE("/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest is the body of POST /webhooks.
type CreateWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// UpdateWebhookRequest is the body of PATCH /webhooks/:webhookId. Absent
// fields are left alone.
type UpdateWebhookRequest struct {
	Active *bool    `json:"active"`
	Events []string `json:"events"`
}

// CreateWebhook registers a subscription. The signing secret is returned
// once, here, and never again.
func (h *Handler) CreateWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("userId")

	var req CreateWebhookRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	if err := validation.Validate(
		validation.Required("url", req.URL),
		validation.MaxLength("url", req.URL, 2048),
	); err != nil {
		validation.WriteError(c, err)
		return
	}
	if err := h.urlValidator(req.URL); err != nil {
		validation.WriteError(c, apperr.Invalid("url", "%s", err.Error()))
		return
	}
	events, err := parseEvents(req.Events)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	existing, err := h.store.ListByUser(ctx, userID)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	if len(existing) >= MaxSubscriptionsPerUser {
		validation.WriteError(c, apperr.Invalid("url", "at most %d webhooks per user", MaxSubscriptionsPerUser))
		return
	}

	secret, err := newSecret()
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	sub := &Subscription{
		ID:        idgen.WithPrefix(idgen.PrefixWebhook),
		UserID:    userID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.Create(ctx, sub); err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret,
		"signing": gin.H{
			"algorithm": "HMAC-SHA256 over the raw body, hex encoded",
			"header":    HeaderSignature,
		},
	})
}

// ListWebhooks returns the user's subscriptions, newest first.
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// UpdateWebhook changes the event list or re-enables a subscription the
// dispatcher disabled after repeated failures. Re-enabling resets the
// failure count.
func (h *Handler) UpdateWebhook(c *gin.Context) {
	var req UpdateWebhookRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	if req.Active == nil && req.Events == nil {
		validation.WriteError(c, apperr.Invalid("body", "nothing to update"))
		return
	}

	sub, err := h.owned(c.Request.Context(), c.Param("userId"), c.Param("webhookId"))
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	if req.Events != nil {
		if sub.Events, err = parseEvents(req.Events); err != nil {
			validation.WriteError(c, err)
			return
		}
	}
	if req.Active != nil {
		if *req.Active && !sub.Active {
			sub.ConsecutiveFailures = 0
			sub.LastError = ""
		}
		sub.Active = *req.Active
	}
	if err := h.store.Update(c.Request.Context(), sub); err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook": sub})
}

// DeleteWebhook removes a subscription.
func (h *Handler) DeleteWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.owned(ctx, c.Param("userId"), c.Param("webhookId"))
	if err == nil {
		err = h.store.Delete(ctx, sub.ID)
	}
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// owned loads a subscription belonging to userID. Another user's webhook
// is reported as missing.
func (h *Handler) owned(ctx context.Context, userID, id string) (*Subscription, error) {
	sub, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("webhook %s: %w", id, apperr.ErrNotFound)
	}
	return sub, nil
}

// parseEvents validates names and drops duplicates, keeping order.
func parseEvents(names []string) ([]EventType, error) {
	if len(names) == 0 {
		return nil, apperr.Invalid("events", "at least one event is required")
	}
	events := make([]EventType, 0, len(names))
	for _, name := range names {
		e := EventType(name)
		if !ValidEventType(e) {
			return nil, apperr.Invalid("events", "unknown event %q", name)
		}
		if !slices.Contains(events, e) {
			events = append(events, e)
		}
	}
	return events, nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
