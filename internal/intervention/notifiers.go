package intervention

import (
	"context"
	"log/slog"

	"github.com/mbd888/tiltcheck/internal/realtime"
	"github.com/mbd888/tiltcheck/internal/webhooks"
)

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n *Notice) error {
	level := slog.LevelInfo
	if n.Urgent() {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "intervention",
		"id", n.ID, "kind", n.Kind, "user_id", n.UserID, "level", n.Level, "title", n.Title)
	return nil
}

// HubNotifier pushes notices to websocket subscribers.
type HubNotifier struct {
	hub *realtime.Hub
}

// NewHubNotifier creates a hub notifier.
func NewHubNotifier(hub *realtime.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (h *HubNotifier) Name() string { return "websocket" }

var hubEvents = map[Kind]realtime.EventType{
	KindAlert:        realtime.EventAlert,
	KindRisk:         realtime.EventRisk,
	KindSessionEnded: realtime.EventSessionEnded,
	KindReport:       realtime.EventReport,
}

func (h *HubNotifier) Notify(_ context.Context, n *Notice) error {
	h.hub.Publish(hubEvents[n.Kind], n.UserID, n)
	return nil
}

// WebhookNotifier delivers notices to the user's webhook subscriptions.
type WebhookNotifier struct {
	emitter *webhooks.Emitter
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(emitter *webhooks.Emitter) *WebhookNotifier {
	return &WebhookNotifier{emitter: emitter}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

var webhookEvents = map[Kind]webhooks.EventType{
	KindAlert:        webhooks.EventAlertRaised,
	KindRisk:         webhooks.EventRiskFlagged,
	KindSessionEnded: webhooks.EventSessionEnded,
	KindReport:       webhooks.EventReportFiled,
}

func (w *WebhookNotifier) Notify(ctx context.Context, n *Notice) error {
	data := map[string]any{
		"interventionId": n.ID,
		"level":          n.Level,
		"title":          n.Title,
		"body":           n.Body,
	}
	if len(n.Actions) > 0 {
		data["actions"] = n.Actions
	}
	for k, v := range n.Data {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	return w.emitter.Emit(ctx, n.UserID, webhookEvents[n.Kind], data)
}
