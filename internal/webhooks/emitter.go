package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/internal/traces"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
)

var emitted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tiltcheck",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Webhook events handed to the dispatcher, by type and outcome.",
}, []string{"event_type", "outcome"})

func init() {
	prometheus.MustRegister(emitted)
}

// Emitter turns intervention payloads into signed webhook events.
//
// An event carrying an "interventionId" reuses it in the event ID, so a
// receiver sees the same ID for one intervention however often it is
// re-emitted.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter wraps d. A nil dispatcher yields an emitter that drops
// everything.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, logger: logger, now: time.Now}
}

// Emit delivers one event to userID's subscriptions.
func (e *Emitter) Emit(ctx context.Context, userID string, eventType EventType, data map[string]any) (err error) {
	if e == nil || e.d == nil {
		return nil
	}
	if !ValidEventType(eventType) {
		emitted.WithLabelValues(string(eventType), "rejected").Inc()
		return fmt.Errorf("unknown webhook event type %q", eventType)
	}

	ctx, span := traces.StartSpan(ctx, "webhooks.Emit",
		traces.UserID(userID), attribute.String("webhook.event", string(eventType)))
	defer func() { traces.End(span, err) }()

	event := &Event{
		ID:        eventID(data),
		Type:      eventType,
		UserID:    userID,
		Timestamp: e.now().UTC(),
		Data:      data,
	}
	if err = e.d.DispatchToUser(ctx, userID, event); err != nil {
		emitted.WithLabelValues(string(eventType), "failed").Inc()
		e.logger.Warn("webhook delivery failed",
			"event_id", event.ID, "event", eventType, "user_id", userID, "error", err)
		return err
	}
	emitted.WithLabelValues(string(eventType), "sent").Inc()
	return nil
}

func eventID(data map[string]any) string {
	if id, ok := data["interventionId"].(string); ok && id != "" {
		return idgen.PrefixEvent + id
	}
	return idgen.WithPrefix(idgen.PrefixEvent)
}
