package risk

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// DefaultSchedule runs the refresher every 15 minutes.
const DefaultSchedule = "@every 15m"

const refreshConcurrency = 8

// Refresher periodically recomputes cached trust and sus scores for every
// stored user. It does not dispatch interventions.
type Refresher struct {
	engine   *Engine
	cron     *cron.Cron
	schedule string
	logger   *slog.Logger
	timeout  time.Duration
	running  atomic.Bool
}

// NewRefresher creates a refresher for engine on a cron schedule.
func NewRefresher(engine *Engine, schedule string, logger *slog.Logger) *Refresher {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		engine:   engine,
		cron:     cron.New(),
		schedule: schedule,
		logger:   logger,
		timeout:  5 * time.Minute,
	}
}

// Start schedules the refresh job. It returns an error for a bad schedule.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		if !r.running.CompareAndSwap(false, true) {
			r.logger.Warn("score refresh still running, skipping tick")
			return
		}
		defer r.running.Store(false)

		runCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if _, err := r.RunOnce(runCtx); err != nil {
			r.logger.Error("score refresh failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("score refresher started", "schedule", r.schedule)
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("score refresher stopped")
}

// RunOnce refreshes every user and returns how many were refreshed.
// Per-user failures are logged; only listing users can fail the pass.
func (r *Refresher) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.ScoreRefreshDuration.Observe(time.Since(start).Seconds()) }()

	users, err := r.engine.trust.Users(ctx)
	if err != nil {
		return 0, err
	}

	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, userID := range users {
		g.Go(func() error {
			if _, err := r.engine.trust.ComputeTrustScore(gctx, userID); err != nil {
				r.logger.Warn("trust refresh failed", "user_id", userID, "error", err)
				return nil
			}
			if _, err := r.engine.ComputeSusScore(gctx, userID); err != nil {
				r.logger.Warn("sus refresh failed", "user_id", userID, "error", err)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("score refresh complete", "users", len(users), "refreshed", refreshed.Load(),
		"duration_ms", time.Since(start).Milliseconds())
	return int(refreshed.Load()), ctx.Err()
}
