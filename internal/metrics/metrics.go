// Package metrics provides Prometheus instrumentation for TiltCheck.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "tiltcheck"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StoreOperationsTotal counts event log store calls.
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Event log store operations by backend, table and op.",
		},
		[]string{"backend", "table", "op"},
	)

	// StoreErrorsTotal counts failed event log store calls.
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Failed event log store operations by backend, table and op.",
		},
		[]string{"backend", "table", "op"},
	)

	// VerificationsTotal counts verification attempts by type and result.
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verifications_total",
			Help:      "Verification attempts by type and result (recorded, refreshed, rejected, failed).",
		},
		[]string{"type", "result"},
	)

	// ProofActionsTotal counts recorded degen proof actions.
	ProofActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "proof_actions_total",
			Help:      "Degen proof actions recorded by type.",
		},
		[]string{"type"},
	)

	// ScamReportsTotal counts filed scam reports by evidence level.
	ScamReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scam_reports_total",
			Help:      "Scam reports filed by evidence level.",
		},
		[]string{"evidence_level"},
	)

	// SessionAlertsTotal counts pattern alerts raised by live sessions.
	SessionAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "alerts_total",
			Help:      "Session pattern alerts by type and severity.",
		},
		[]string{"type", "severity"},
	)

	// SessionsEndedTotal counts archived sessions by grade.
	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Sessions archived by grade and end reason.",
		},
		[]string{"grade", "reason"},
	)

	// ActiveSessions tracks live betting sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently active betting sessions.",
		},
	)

	// SusScores observes computed sus scores.
	SusScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "sus_score",
			Help:      "Distribution of computed sus scores.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 85, 100},
		},
	)

	// HighRiskFlagsTotal counts sus scores at or above the high-risk threshold.
	HighRiskFlagsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "high_risk_flags_total",
		Help:      "Sus score evaluations at or above the high-risk threshold.",
	})

	// InterventionsTotal counts dispatched interventions by level.
	InterventionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "interventions_total",
			Help:      "Interventions dispatched by level.",
		},
		[]string{"level"},
	)

	// NotificationsTotal counts notifier deliveries by channel and result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		},
		[]string{"channel", "result"},
	)

	// ScoreRefreshDuration observes full refresher passes.
	ScoreRefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "score_refresh_duration_seconds",
		Help:      "Duration of full trust/sus score refresh passes.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StoreOperationsTotal,
		StoreErrorsTotal,
		VerificationsTotal,
		ProofActionsTotal,
		ScamReportsTotal,
		SessionAlertsTotal,
		SessionsEndedTotal,
		ActiveSessions,
		SusScores,
		HighRiskFlagsTotal,
		InterventionsTotal,
		NotificationsTotal,
		ScoreRefreshDuration,
		ActiveWebSocketClients,
	)
}

// RegisterDB exports the connection pool stats of db as
// go_sql_* series labelled db_name=name. Registering the same name twice
// is a no-op.
func RegisterDB(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		return nil
	}
	return err
}

// unmatchedRoute labels requests that hit no route, so probing scanners
// cannot blow up label cardinality.
const unmatchedRoute = "unmatched"

// Middleware records request count and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry, negotiating OpenMetrics when the
// scraper asks for it.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return gin.WrapH(h)
}

func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
