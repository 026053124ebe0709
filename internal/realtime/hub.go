// Package realtime streams tilt alerts and interventions over WebSocket.
//
// Moderator dashboards and companion bots connect to /ws instead of
// polling. The initial filter comes from the query string
// (?users=a,b&events=alert,risk); clients may replace it at any time by
// sending a Subscription message. Recent events of watched users are
// replayed on connect so a reconnecting bot does not miss an alert.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/tiltcheck/internal/metrics"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000
	// ReplaySize is how many recent events are kept per user.
	ReplaySize = 20

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// EventType for real-time events
type EventType string

const (
	EventAlert        EventType = "alert"
	EventRisk         EventType = "risk"
	EventSessionEnded EventType = "session_ended"
	EventReport       EventType = "report"

	// EventSubscribed acknowledges a subscription change. It is sent only
	// to the client that asked.
	EventSubscribed EventType = "subscribed"
)

// Event is one message on the stream.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Replay    bool      `json:"replay,omitempty"`
}

// Subscription filters what a client receives. Empty lists match
// everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	UserIDs    []string    `json:"userIds"`
}

// Matches reports whether ev passes the filter.
func (s Subscription) Matches(ev *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, ev.Type) {
		return false
	}
	return len(s.UserIDs) == 0 || slices.Contains(s.UserIDs, ev.UserID)
}

// ParseSubscription reads the users and events query parameters. Both are
// comma separated; absent parameters leave that dimension open.
func ParseSubscription(q url.Values) Subscription {
	sub := Subscription{UserIDs: splitList(q.Get("users"))}
	for _, e := range splitList(q.Get("events")) {
		sub.EventTypes = append(sub.EventTypes, EventType(e))
	}
	sub.AllEvents = len(sub.UserIDs) == 0 && len(sub.EventTypes) == 0
	return sub
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *Client) setSubscription(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// Hub fans events out to connected clients.
type Hub struct {
	logger *slog.Logger
	events chan *Event

	mu      sync.RWMutex
	clients map[*Client]struct{}
	recent  map[string][]*Event
	closed  bool

	maxClients   int
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		events:     make(chan *Event, 256),
		clients:    make(map[*Client]struct{}),
		recent:     make(map[string][]*Event),
		maxClients: MaxClients,
	}
}

// Run delivers published events until ctx ends, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev *Event) {
	h.totalEvents.Add(1)
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("realtime event not serializable", "type", ev.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.UserID != "" {
		buf := append(h.recent[ev.UserID], ev)
		if len(buf) > ReplaySize {
			buf = buf[len(buf)-ReplaySize:]
		}
		h.recent[ev.UserID] = buf
	}

	for c := range h.clients {
		if !c.subscription().Matches(ev) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow consumer; it reconnects and gets the replay.
			h.drop(c)
		}
	}
	metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))
}

// add registers c and queues the replay for its watched users. It fails
// when the hub is stopped or full.
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.maxClients {
		return false
	}
	h.clients[c] = struct{}{}
	h.totalClients.Add(1)
	if n := int64(len(h.clients)); n > h.peakClients.Load() {
		h.peakClients.Store(n)
	}
	metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))

	sub := c.sub
	for _, userID := range sub.UserIDs {
		for _, ev := range h.recent[userID] {
			if !sub.Matches(ev) {
				continue
			}
			replay := *ev
			replay.Replay = true
			if msg, err := json.Marshal(&replay); err == nil {
				select {
				case c.send <- msg:
				default:
				}
			}
		}
	}
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
	metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish queues an event for userID. It never blocks; when the queue is
// full the event is dropped and logged.
func (h *Hub) Publish(eventType EventType, userID string, data any) {
	ev := &Event{Type: eventType, UserID: userID, Timestamp: time.Now().UTC(), Data: data}
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("realtime queue full, dropping event", "type", eventType, "user_id", userID)
	}
}

// Ping fails once the hub has stopped accepting clients.
func (h *Hub) Ping(context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errors.New("realtime hub stopped")
	}
	return nil
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"connectedClients": len(h.clients),
		"watchedUsers":     len(h.recent),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // bots and CLIs send no Origin
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// HandleWebSocket upgrades the request and starts the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed, full := h.closed, len(h.clients) >= h.maxClients
	h.mu.RUnlock()
	switch {
	case closed:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	case full:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sub:  ParseSubscription(r.URL.Query()),
	}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.Debug("realtime client connected", "users", c.sub.UserIDs, "events", c.sub.EventTypes)

	go c.writeLoop()
	go c.readLoop()
}

// readLoop applies subscription updates and keeps the read deadline
// fresh on pongs. It unregisters the client when the connection ends.
func (c *Client) readLoop() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var sub Subscription
		if err := c.conn.ReadJSON(&sub); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				continue
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.setSubscription(sub)
		c.ack(sub)
	}
}

func (c *Client) ack(sub Subscription) {
	msg, err := json.Marshal(&Event{Type: EventSubscribed, Timestamp: time.Now().UTC(), Data: sub})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// writeLoop drains the send queue and pings idle connections.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
