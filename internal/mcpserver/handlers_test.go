package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestSetup(t *testing.T, handler http.Handler, userID string) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(NewClient(Config{APIURL: ts.URL, UserID: userID}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// sessionAPI serves the real session routes backed by an in-memory store.
func sessionAPI(t *testing.T) http.Handler {
	t.Helper()
	m := session.NewMonitor(eventlog.NewMemoryStore(), nil)
	t.Cleanup(m.Close)
	r := gin.New()
	session.NewHandler(m).RegisterRoutes(r.Group("/v1/users/:userId"))
	return r
}

// ============================================================
// Client tests
// ============================================================

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "insufficient_trust",
			"message": "reporter trust 50 is below 200",
			"hint":    "verify a wallet first",
		})
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).TrustSummary(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "below 200")
	assert.Contains(t, err.Error(), "verify a wallet first")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).SessionStatus(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	_, err := NewClient(Config{APIURL: "http://127.0.0.1:1"}).TrustSummary(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_EscapesUserID(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).TrustSummary(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/v1/users/a%2Fb/summary", gotPath)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandlers_SessionFlow(t *testing.T) {
	h := newTestSetup(t, sessionAPI(t), "123456789012345678")
	ctx := context.Background()

	res, err := h.HandleGetSessionStatus(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "404")

	res, err = h.HandleStartSession(ctx, makeRequest(map[string]any{"platform": "stake", "bankroll": "100"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "Session started on stake")
	assert.Contains(t, resultText(t, res), "Bankroll: 100.00")

	res, err = h.HandleLogBet(ctx, makeRequest(map[string]any{"stake": "85", "outcome": "loss"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	text := resultText(t, res)
	assert.Contains(t, text, "Balance: 15.00")
	assert.Contains(t, text, "EMERGENCY STOP - BALANCE CRITICAL")

	res, err = h.HandleGetSessionStatus(ctx, makeRequest(nil))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "Alerts: 1")

	res, err = h.HandleEndSession(ctx, makeRequest(nil))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "Session ended. Grade:")
	assert.Contains(t, resultText(t, res), "Net: -85.00")
}

func TestHandlers_MissingArgs(t *testing.T) {
	h := newTestSetup(t, sessionAPI(t), "")
	ctx := context.Background()

	res, err := h.HandleGetSessionStatus(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "user_id is required")

	res, err = h.HandleLogBet(ctx, makeRequest(map[string]any{"user_id": "u1", "stake": "5"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h.HandleReportScam(ctx, makeRequest(map[string]any{"reporter_id": "u1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "target_id and scam_type are required")
}

func TestHandleGetTrustSummary(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/u9/summary", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"userId":            "u9",
			"trustScore":        310,
			"tier":              "DEVELOPING",
			"susScore":          100,
			"riskLevel":         "CRITICAL",
			"interventionLevel": "immediate_intervention",
			"susFactors":        map[string]int{"scam_reports": 100, "late_night": 0},
		})
	}), "")

	res, err := h.HandleGetTrustSummary(context.Background(), makeRequest(map[string]any{"user_id": "u9"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "Trust: 310 (DEVELOPING)")
	assert.Contains(t, text, "Sus: 100/100")
	assert.Contains(t, text, "Risk: CRITICAL")
	assert.Contains(t, text, "scam_reports: +100")
	assert.NotContains(t, text, "late_night")
}

func TestHandleReportScam(t *testing.T) {
	var got map[string]any
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reports", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"report": map[string]any{
			"reportId": "rpt_1", "targetId": "scammer", "scamType": "rug_pull",
			"evidenceLevel": 3, "status": "under_review",
		}})
	}), "reporter")

	res, err := h.HandleReportScam(context.Background(), makeRequest(map[string]any{
		"target_id":      "scammer",
		"scam_type":      "rug_pull",
		"evidence_level": 3,
		"evidence":       []any{"0xdead"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "Report ID: rpt_1")

	assert.Equal(t, "reporter", got["reporterId"])
	assert.Equal(t, "scammer", got["targetId"])
	assert.EqualValues(t, 3, got["evidenceLevel"])
	assert.Equal(t, []any{"0xdead"}, got["evidence"])
}

func TestHandleGetInterventions(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"interventions": []map[string]any{
			{"id": "int_2", "level": "INFO", "title": "SESSION COMPLETE - GRADE C", "createdAt": time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)},
			{"id": "int_1", "level": "HIGH", "title": "LOSS STREAK INTERVENTION", "createdAt": time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)},
		}})
	}), "u1")

	res, err := h.HandleGetInterventions(context.Background(), makeRequest(map[string]any{"limit": 3}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "2 interventions")
	// Newest first.
	assert.Less(t, strings.Index(text, "GRADE C"), strings.Index(text, "LOSS STREAK"))
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"})
	require.NotNil(t, s)
}
