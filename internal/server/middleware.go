package server

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/internal/logging"
	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/mbd888/tiltcheck/internal/ratelimit"
	"github.com/mbd888/tiltcheck/internal/security"
	"github.com/mbd888/tiltcheck/internal/traces"
	"github.com/mbd888/tiltcheck/internal/validation"
)

const headerRequestID = "X-Request-ID"

// Inbound request IDs from proxies are kept only when they look like IDs.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// setupMiddleware installs the global chain. Order matters: panics are
// caught first, limits reject before any work, and the access log runs
// innermost so it sees the user tagged by the route group.
func (s *Server) setupMiddleware() {
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	s.betLimiter = ratelimit.New(ratelimit.BetConfig())

	s.router.Use(
		gin.CustomRecovery(recoverPanic),
		security.HeadersMiddleware(),
		security.CORSMiddleware(nil),
		validation.RequestSizeMiddleware(validation.MaxRequestSize),
		s.rateLimiter.Middleware(),
		metrics.Middleware(),
		traces.Middleware(),
		s.requestContext(),
		accessLog(),
	)
}

func recoverPanic(c *gin.Context, recovered any) {
	logging.L(c.Request.Context()).Error("handler panicked",
		"panic", recovered, "method", c.Request.Method, "route", c.FullPath())
	c.AbortWithStatusJSON(http.StatusInternalServerError, apperr.Response{
		Error:   "internal_error",
		Message: "An unexpected error occurred",
	})
}

// requestContext attaches the request ID and base logger to the request
// context and echoes the ID back.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if !requestIDPattern.MatchString(id) {
			id = idgen.WithPrefix("")
		}
		ctx := logging.WithLogger(logging.WithRequestID(c.Request.Context(), id), s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// accessLog writes one line per request: debug for success, warn for
// client errors, error for server errors.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.Int("bytes", c.Writer.Size()),
		}
		if level == slog.LevelError {
			attrs = append(attrs, slog.String("client_ip", c.ClientIP()))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		ctx := c.Request.Context()
		logging.L(ctx).LogAttrs(ctx, level, "http request", attrs...)
	}
}

// betLimit charges bet logging to its own bucket. Bots log bets far more
// often than anything else and would otherwise drain the general bucket.
func (s *Server) betLimit() gin.HandlerFunc {
	limit := s.betLimiter.Middleware()
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/session/bets") {
			limit(c)
			return
		}
		c.Next()
	}
}
