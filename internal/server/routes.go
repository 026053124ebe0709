package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/auth"
	"github.com/mbd888/tiltcheck/internal/health"
	"github.com/mbd888/tiltcheck/internal/intervention"
	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/trust"
	"github.com/mbd888/tiltcheck/internal/validation"
	"github.com/mbd888/tiltcheck/internal/webhooks"
)

func (s *Server) setupRoutes() {
	r := s.router
	r.GET("/health", s.healthHandler)
	r.GET("/health/live", s.livenessHandler)
	r.GET("/health/ready", s.readinessHandler)
	r.GET("/metrics", metrics.Handler())
	r.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))

	v1 := r.Group("/v1")
	users := v1.Group("/users/:userId", validation.UserIDParamMiddleware(), s.betLimit())

	trustHandler := trust.NewHandler(s.registry)
	trustHandler.RegisterRoutes(v1, users)
	session.NewHandler(s.monitor).RegisterRoutes(users)
	risk.NewHandler(s.engine).RegisterRoutes(users)
	intervention.NewHandler(s.interventions).RegisterRoutes(users)
	webhooks.NewHandler(s.webhookStore).RegisterRoutes(users)

	// Moderator routes share the /v1 prefix behind the admin secret.
	admin := r.Group("/v1", auth.RequireAdmin(s.cfg.AdminSecret, s.cfg.IsDevelopment()))
	adminUsers := admin.Group("/users/:userId", validation.UserIDParamMiddleware())
	trustHandler.RegisterAdminRoutes(admin, adminUsers)
	admin.POST("/admin/refresh", s.refreshHandler)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Backend   string          `json:"backend"`
	Checks    []health.Status `json:"checks,omitempty"`
	Realtime  map[string]any  `json:"realtime,omitempty"`
	Notifiers []string        `json:"notifiers,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())
	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Backend:   s.store.Backend(),
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
		Notifiers: s.interventions.Notifiers(),
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	code := http.StatusOK
	switch {
	case !ok:
		resp.Status, code = "unhealthy", http.StatusServiceUnavailable
	case health.Degraded(checks):
		resp.Status = "degraded"
	}
	c.JSON(code, resp)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if s.healthy.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
}

// readinessHandler reports not_ready until Start has run and after
// Shutdown began; otherwise it runs the dependency checks.
func (s *Server) readinessHandler(c *gin.Context) {
	if s.ready.Load() {
		s.health.Handler()(c)
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
}

// refreshHandler recomputes every user's cached trust and sus score.
func (s *Server) refreshHandler(c *gin.Context) {
	refresher := s.refresher
	if refresher == nil {
		refresher = risk.NewRefresher(s.engine, "", s.logger)
	}
	n, err := refresher.RunOnce(c.Request.Context())
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}
