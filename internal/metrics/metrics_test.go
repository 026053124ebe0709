package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusBucket(t *testing.T) {
	for code, want := range map[int]string{
		101: "1xx",
		204: "2xx",
		302: "3xx",
		429: "4xx",
		503: "5xx",
		0:   "other",
		999: "other",
	} {
		assert.Equal(t, want, statusBucket(code), "code %d", code)
	}
}

func TestHandler_ExportsDomainSeries(t *testing.T) {
	r := gin.New()
	r.GET("/metrics", Handler())

	SessionAlertsTotal.WithLabelValues("loss_sequence", "HIGH").Inc()
	InterventionsTotal.WithLabelValues("warning").Inc()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, name := range []string{
		"tiltcheck_session_active",
		"tiltcheck_active_websocket_clients",
		`tiltcheck_session_alerts_total{severity="HIGH",type="loss_sequence"}`,
		`tiltcheck_interventions_total{level="warning"}`,
		"go_goroutines",
	} {
		assert.Contains(t, body, name)
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/users/:userId/trust", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	routed := HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/users/:userId/trust", "2xx")
	unmatched := HTTPRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "4xx")
	beforeRouted, beforeUnmatched := testutil.ToFloat64(routed), testutil.ToFloat64(unmatched)

	for _, path := range []string{"/v1/users/42/trust", "/v1/users/43/trust", "/wp-login.php"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, beforeRouted+2, testutil.ToFloat64(routed))
	assert.Equal(t, beforeUnmatched+1, testutil.ToFloat64(unmatched))
}

func TestRegisterDB_Idempotent(t *testing.T) {
	// sql.Open does not connect.
	db, err := sql.Open("postgres", "postgres://localhost:1/none?sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RegisterDB(db, "metrics_test"))
	require.NoError(t, RegisterDB(db, "metrics_test"))
}
