// Package webhooks delivers TiltCheck events to user-registered URLs.
//
// Users (or the bots acting for them) register a URL for:
// - Tilt alerts raised during a live session
// - Risk flags that call for an intervention
// - Session summaries
// - Status changes of scam reports they filed
//
// Payloads are signed with HMAC-SHA256 using the subscription secret.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/mbd888/tiltcheck/internal/circuitbreaker"
	"github.com/mbd888/tiltcheck/internal/retry"
	"github.com/mbd888/tiltcheck/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventAlertRaised  EventType = "alert.raised"
	EventRiskFlagged  EventType = "risk.flagged"
	EventSessionEnded EventType = "session.ended"
	EventReportFiled  EventType = "report.filed"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventAlertRaised, EventRiskFlagged, EventSessionEnded, EventReportFiled:
		return true
	}
	return false
}

// Event represents a webhook event
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	UserID              string      `json:"userId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// ErrDuplicate is returned by Store.Create when the ID is taken.
var ErrDuplicate = errors.New("webhook already exists")

// Signature headers.
const (
	HeaderEvent     = "X-TiltCheck-Event"
	HeaderTimestamp = "X-TiltCheck-Timestamp"
	HeaderSignature = "X-TiltCheck-Signature"
)

// DefaultMaxFailures disables a subscription after this many failed
// deliveries in a row.
const DefaultMaxFailures = 10

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	breaker      *circuitbreaker.Breaker
	policy       retry.Policy
	maxFailures  int
	urlValidator func(string) error
	logger       *slog.Logger
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker:      circuitbreaker.New("webhooks", 5, time.Minute),
		policy:       retry.Default,
		maxFailures:  DefaultMaxFailures,
		urlValidator: ValidateURL,
		logger:       logger,
	}
}

// WithRetry overrides the delivery retry policy.
func (d *Dispatcher) WithRetry(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// WithMaxFailures overrides the auto-disable threshold.
func (d *Dispatcher) WithMaxFailures(n int) *Dispatcher {
	if n > 0 {
		d.maxFailures = n
	}
	return d
}

// WithURLValidator replaces the SSRF check run before each delivery.
func (d *Dispatcher) WithURLValidator(fn func(string) error) *Dispatcher {
	if fn != nil {
		d.urlValidator = fn
	}
	return d
}

// DispatchToUser delivers event to every active subscription of userID
// that listens for its type. Deliveries run in order; the returned error
// joins the failed ones.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID string, event *Event) error {
	subs, err := d.store.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if !sub.Active || !slices.Contains(sub.Events, event.Type) {
			continue
		}
		if err := d.send(ctx, sub, event); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", sub.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) error {
	if err := d.urlValidator(sub.URL); err != nil {
		d.updateError(ctx, sub, err.Error())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return err
	}

	err = d.breaker.Execute(hostOf(sub.URL), func() error {
		return retry.Do(ctx, d.policy, func(ctx context.Context) error {
			return d.post(ctx, sub, event, payload)
		})
	})
	if err != nil {
		d.updateError(ctx, sub, err.Error())
		return err
	}
	d.updateSuccess(ctx, sub)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if secret is set
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of payload. Receivers compare it with
// the X-TiltCheck-Signature header.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to update webhook", "webhook_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= d.maxFailures {
		sub.Active = false
		d.logger.Warn("webhook disabled after repeated failures", "webhook_id", sub.ID,
			"user_id", sub.UserID, "failures", sub.ConsecutiveFailures)
	}
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to update webhook", "webhook_id", sub.ID, "error", err)
	}
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Host
	}
	return raw
}

// ValidateURL rejects callback URLs that point at internal addresses.
func ValidateURL(raw string) error {
	return security.ValidateEndpointURL(raw)
}
