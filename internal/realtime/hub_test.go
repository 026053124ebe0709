package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func addClient(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, sendBuffer), sub: sub}
	require.True(t, h.add(c))
	return c
}

func next(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "client was dropped")
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestSubscription_Matches(t *testing.T) {
	alertU1 := &Event{Type: EventAlert, UserID: "u1"}
	riskU2 := &Event{Type: EventRisk, UserID: "u2"}

	tests := []struct {
		name  string
		sub   Subscription
		event *Event
		want  bool
	}{
		{"all events", Subscription{AllEvents: true}, riskU2, true},
		{"empty subscription", Subscription{}, alertU1, true},
		{"type match", Subscription{EventTypes: []EventType{EventAlert}}, alertU1, true},
		{"type miss", Subscription{EventTypes: []EventType{EventAlert}}, riskU2, false},
		{"user match", Subscription{UserIDs: []string{"u2"}}, riskU2, true},
		{"user miss", Subscription{UserIDs: []string{"u2"}}, alertU1, false},
		{"type and user", Subscription{EventTypes: []EventType{EventRisk}, UserIDs: []string{"u1"}}, riskU2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(tt.event))
		})
	}
}

func TestParseSubscription(t *testing.T) {
	sub := ParseSubscription(url.Values{"users": {"u1, u2,"}, "events": {"alert"}})
	assert.Equal(t, []string{"u1", "u2"}, sub.UserIDs)
	assert.Equal(t, []EventType{EventAlert}, sub.EventTypes)
	assert.False(t, sub.AllEvents)

	assert.True(t, ParseSubscription(url.Values{}).AllEvents)
}

func TestHub_Stats_Initial(t *testing.T) {
	stats := NewHub(nil).Stats()
	assert.Equal(t, 0, stats["connectedClients"])
	assert.Equal(t, int64(0), stats["totalEvents"])
}

func TestHub_AddRemove(t *testing.T) {
	h := NewHub(nil)
	c := addClient(t, h, Subscription{AllEvents: true})
	assert.Equal(t, int64(1), h.Stats()["peakClients"])

	h.remove(c)
	h.remove(c) // second remove is a no-op
	assert.Equal(t, 0, h.Stats()["connectedClients"])
	assert.Equal(t, int64(1), h.Stats()["peakClients"], "peak is sticky")

	h.maxClients = 0
	assert.False(t, h.add(&Client{hub: h, send: make(chan []byte, 1)}))
}

func TestHub_Publish(t *testing.T) {
	h := runHub(t)
	c := addClient(t, h, Subscription{AllEvents: true})

	h.Publish(EventAlert, "u1", map[string]any{"type": "loss_sequence"})

	ev := next(t, c)
	assert.Equal(t, EventAlert, ev.Type)
	assert.Equal(t, "u1", ev.UserID)
	assert.False(t, ev.Replay)
}

func TestHub_FilteredDelivery(t *testing.T) {
	h := runHub(t)
	c := addClient(t, h, Subscription{EventTypes: []EventType{EventRisk}})

	h.Publish(EventAlert, "u1", nil)
	h.Publish(EventRisk, "u1", nil)

	assert.Equal(t, EventRisk, next(t, c).Type)
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ReplayOnConnect(t *testing.T) {
	h := runHub(t)
	for i := range ReplaySize + 5 {
		h.Publish(EventAlert, "u1", map[string]any{"n": i})
	}
	h.Publish(EventAlert, "u2", nil)
	require.Eventually(t, func() bool {
		return h.Stats()["totalEvents"].(int64) == int64(ReplaySize+6)
	}, time.Second, 5*time.Millisecond)

	c := addClient(t, h, Subscription{UserIDs: []string{"u1"}})
	require.Len(t, c.send, ReplaySize)

	first := next(t, c)
	assert.True(t, first.Replay)
	assert.Equal(t, "u1", first.UserID)
	assert.EqualValues(t, 5, first.Data.(map[string]any)["n"], "oldest entries are evicted")
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := runHub(t)
	c := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	require.True(t, h.add(c))

	h.Publish(EventAlert, "u1", nil)
	h.Publish(EventAlert, "u1", nil)

	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := NewHub(nil)
	c := addClient(t, h, Subscription{AllEvents: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
	_, ok := <-c.send
	assert.False(t, ok, "client queue is closed on shutdown")
	assert.False(t, h.add(&Client{hub: h, send: make(chan []byte, 1)}))
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := runHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?users=u9", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteJSON(Subscription{UserIDs: []string{"u7"}}))
	var ack Event
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, EventSubscribed, ack.Type)

	h.Publish(EventAlert, "u9", nil)
	h.Publish(EventAlert, "u7", map[string]any{"severity": "HIGH"})

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "u7", ev.UserID)
}

func TestHub_Ping(t *testing.T) {
	h := NewHub(nil)
	assert.NoError(t, h.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)
	assert.Error(t, h.Ping(context.Background()))
}
