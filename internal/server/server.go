// Package server assembles the TiltCheck HTTP service: storage backend,
// scoring services, notifiers and the gin router.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/mbd888/tiltcheck/internal/config"
	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/mbd888/tiltcheck/internal/health"
	"github.com/mbd888/tiltcheck/internal/intervention"
	"github.com/mbd888/tiltcheck/internal/logging"
	"github.com/mbd888/tiltcheck/internal/ratelimit"
	"github.com/mbd888/tiltcheck/internal/realtime"
	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/syncutil"
	"github.com/mbd888/tiltcheck/internal/trust"
	"github.com/mbd888/tiltcheck/internal/webhooks"
)

// Version is reported by /health; set by cmd/server from ldflags.
var Version = "dev"

// Server owns every long-lived component of the service.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *eventlog.Instrumented
	db     *sql.DB // postgres backend only
	minter trust.Minter

	registry      *trust.Registry
	monitor       *session.Monitor
	engine        *risk.Engine
	refresher     *risk.Refresher
	interventions *intervention.Dispatcher
	webhooks      *webhooks.Dispatcher
	webhookStore  webhooks.Store
	realtimeHub   *realtime.Hub

	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	betLimiter  *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	stopWorkers context.CancelFunc
	drainDelay  time.Duration

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option customizes New.
type Option func(*Server)

// WithLogger replaces the logger built from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStore injects an event log store instead of opening the configured
// backend.
func WithStore(store eventlog.Store) Option {
	return func(s *Server) { s.store = eventlog.Instrument(store, "custom") }
}

// WithMinter injects the contract minting client.
func WithMinter(m trust.Minter) Option {
	return func(s *Server) { s.minter = m }
}

// New wires the service from cfg. Nothing runs until Start or Run.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, drainDelay: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewWithOptions(logging.Options{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			File:   cfg.LogFile,
		})
	}

	if s.store == nil {
		store, err := s.openStore(context.Background())
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if err := s.buildServices(); err != nil {
		_ = s.store.Close()
		return nil, err
	}

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) buildServices() error {
	cfg := s.cfg

	s.registry = trust.NewRegistry(s.store, syncutil.NewKeyedMutex()).WithOptions(trust.Options{
		MinReporterTrust:    cfg.MinReporterTrust,
		RepeatAwards:        cfg.RepeatVerificationAwards,
		VerificationTimeout: cfg.VerificationTimeout,
	})
	if s.minter == nil && cfg.MintServiceURL != "" {
		s.minter = trust.NewMintClient(cfg.MintServiceURL, cfg.MintAPIKey)
		s.logger.Info("contract minting enabled", "url", redactURL(cfg.MintServiceURL))
	}
	if s.minter != nil {
		s.registry.WithVerifier(trust.VerificationContract, &trust.ContractVerifier{Minter: s.minter})
	}

	s.monitor = session.NewMonitor(s.store, s.logger).WithLocation(cfg.Location())
	s.engine = risk.NewEngine(s.registry, s.monitor, s.store).
		WithReportPenalty(cfg.SusReportPenalty).
		WithLookback(cfg.SusLookback)

	s.realtimeHub = realtime.NewHub(s.logger)
	if s.db != nil {
		s.webhookStore = webhooks.NewPostgresStore(s.db)
	} else {
		s.webhookStore = webhooks.NewMemoryStore()
	}
	s.webhooks = webhooks.NewDispatcher(s.webhookStore, s.logger)

	s.interventions = intervention.NewDispatcher(s.store, s.logger).
		WithNotifier(intervention.NewLogNotifier(s.logger)).
		WithNotifier(intervention.NewHubNotifier(s.realtimeHub)).
		WithNotifier(intervention.NewWebhookNotifier(webhooks.NewEmitter(s.webhooks, s.logger)))
	if cfg.DiscordBotToken != "" {
		dg, err := intervention.OpenDiscord(cfg.DiscordBotToken)
		if err != nil {
			return err
		}
		s.interventions.WithNotifier(intervention.NewDiscordNotifier(dg, cfg.DiscordAlertChannel))
		s.logger.Info("discord notifications enabled", "alert_channel", cfg.DiscordAlertChannel)
	}

	// Alerts, urgent risk and reports all become interventions. The engine
	// re-scores targets of confirmed reports.
	s.monitor.WithListener(s.interventions)
	s.engine.WithDispatcher(s.interventions)
	s.registry.WithListener(s.engine).WithListener(s.interventions)

	if cfg.SnapshotSchedule != "" {
		s.refresher = risk.NewRefresher(s.engine, cfg.SnapshotSchedule, s.logger)
	}

	s.health = health.NewRegistry()
	s.health.Register("store", health.Ping(s.store))
	s.health.RegisterOptional("realtime", health.Ping(s.realtimeHub))
	return nil
}

// openStore connects the configured event log backend. The postgres
// backend also runs migrations and keeps the pool for webhook storage.
func (s *Server) openStore(ctx context.Context) (*eventlog.Instrumented, error) {
	cfg := s.cfg
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(time.Minute)

		pg := eventlog.NewPostgresStore(db)
		if err := pg.Ping(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect postgres %s: %w", redactURL(cfg.DatabaseURL), err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
		s.logger.Info("event log on postgres", "url", redactURL(cfg.DatabaseURL))
		return eventlog.Instrument(pg, config.BackendPostgres), nil

	case config.BackendRedis:
		rs, err := eventlog.OpenRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		s.logger.Info("event log on redis", "url", redactURL(cfg.RedisURL), "prefix", cfg.RedisPrefix)
		return eventlog.Instrument(rs, config.BackendRedis), nil

	case config.BackendFile:
		fs, err := eventlog.OpenFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		s.logger.Info("event log on disk", "dir", fs.Dir())
		return eventlog.Instrument(fs, config.BackendFile), nil

	default:
		s.logger.Warn("event log in memory; records are lost on restart")
		return eventlog.Instrument(eventlog.NewMemoryStore(), config.BackendMemory), nil
	}
}

// redactURL masks the password of a connection URL for logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

// Router exposes the gin engine to tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
