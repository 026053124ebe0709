package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbd888/tiltcheck/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Start launches the background workers: websocket hub, notifier pool,
// score refresher and pool metrics. Run calls it; tests driving the
// router directly call it themselves.
func (s *Server) Start(ctx context.Context) error {
	workers, cancel := context.WithCancel(ctx)
	s.stopWorkers = cancel

	go s.realtimeHub.Run(workers)
	s.interventions.Start()

	if s.refresher != nil {
		if err := s.refresher.Start(workers); err != nil {
			return fmt.Errorf("start score refresher: %w", err)
		}
	}
	if s.db != nil {
		if err := metrics.RegisterDB(s.db, "tiltcheck"); err != nil {
			s.logger.Warn("database pool metrics unavailable", "error", err)
		}
	}
	s.ready.Store(true)
	return nil
}

// Run serves HTTP until ctx ends or SIGINT/SIGTERM arrives, then shuts
// down gracefully. A listener failure is returned as is.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.httpSrv.Addr, "backend", s.store.Backend(), "version", Version)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down", "cause", context.Cause(gctx))
		return s.Shutdown()
	})
	return g.Wait()
}

// Shutdown stops accepting requests, drains in-flight ones and then stops
// workers leaf first: timers that raise alerts, the dispatcher that
// delivers them, and finally the store. Safe to call without Run.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	var errs []error
	if s.httpSrv != nil {
		// Load balancers see not_ready and stop routing before we close.
		time.Sleep(s.drainDelay)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if s.refresher != nil {
		s.refresher.Stop()
	}
	s.monitor.Close()
	s.interventions.Close()
	if s.stopWorkers != nil {
		s.stopWorkers()
	}
	s.rateLimiter.Stop()
	s.betLimiter.Stop()

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown incomplete", "error", err)
	} else {
		s.logger.Info("server stopped")
	}
	return err
}
