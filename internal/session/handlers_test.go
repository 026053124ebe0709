package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	m := NewMonitor(eventlog.NewMemoryStore(), nil)
	t.Cleanup(m.Close)

	r := gin.New()
	NewHandler(m).RegisterRoutes(r.Group("/v1/users/:userId"))
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_SessionLifecycle(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/users/u1/session/bets", gin.H{"stake": "10", "outcome": "loss"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no_active_session")

	w = doJSON(r, http.MethodPost, "/v1/users/u1/session", gin.H{"platform": "stake", "bankroll": "100"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/v1/users/u1/session/bets", gin.H{"stake": "80", "outcome": "l"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res BetResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, AlertBalanceCritical, res.Alerts[0].Type)

	w = doJSON(r, http.MethodGet, "/v1/users/u1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "stake", st.Session.Platform)
	assert.Len(t, st.Session.Bets, 1)

	w = doJSON(r, http.MethodDelete, "/v1/users/u1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"endReason":"ended"`)

	w = doJSON(r, http.MethodGet, "/v1/users/u1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_BadBet(t *testing.T) {
	r := setupRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/users/u1/session", gin.H{"platform": "stake", "bankroll": 100})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/users/u1/session/bets", gin.H{"stake": "10", "outcome": "push"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/users/u1/session/bets", gin.H{"stake": "-1", "outcome": "win"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/users/u1/session", gin.H{"platform": "stake", "bankroll": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
