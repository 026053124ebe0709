// Package intervention turns tilt alerts and risk flags into user-facing
// messages and delivers them.
//
// Every notice is appended to the user's intervention log before it is
// queued for the notifiers (Discord, websocket hub, webhooks, log).
// Delivery runs on a bounded worker pool and never blocks or fails the
// scoring path that raised it.
package intervention

import (
	"context"
	"time"
)

// Kind says what produced a notice.
type Kind string

const (
	KindAlert        Kind = "alert"
	KindRisk         Kind = "risk"
	KindSessionEnded Kind = "session_ended"
	KindReport       Kind = "report"
)

// Notice is one formatted intervention for a user.
type Notice struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	UserID    string         `json:"userId"`
	Level     string         `json:"level"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Actions   []string       `json:"actions,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Urgent reports whether the notice warrants reaching the user directly
// and alerting moderators.
func (n *Notice) Urgent() bool {
	switch n.Level {
	case "CRITICAL", "HIGH", "HIGH_RISK", "MODERATE_HIGH":
		return true
	}
	return false
}

// Notifier delivers notices over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n *Notice) error
}
