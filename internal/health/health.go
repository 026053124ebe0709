// Package health runs named dependency checks for the readiness and
// health endpoints.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 3 * time.Second

// Status is the outcome of one check.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Critical  bool   `json:"critical"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker returns nil when the dependency is usable.
type Checker func(ctx context.Context) error

// Pinger is implemented by stores and clients with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping adapts a Pinger to a Checker.
func Ping(p Pinger) Checker {
	return p.Ping
}

type check struct {
	name     string
	fn       Checker
	critical bool
}

// Registry runs registered checks concurrently. A failing critical check
// makes the service unready; a failing optional one only degrades it.
type Registry struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// WithTimeout overrides the per-check timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a critical check.
func (r *Registry) Register(name string, fn Checker) {
	r.add(check{name: name, fn: fn, critical: true})
}

// RegisterOptional adds a check whose failure does not block readiness.
func (r *Registry) RegisterOptional(name string, fn Checker) {
	r.add(check{name: name, fn: fn})
}

func (r *Registry) add(c check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

// CheckAll runs every check and returns whether all critical ones passed,
// with results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checks := slices.Clone(r.checks)
	r.mu.RUnlock()

	out := make([]Status, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			out[i] = r.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	ready := !slices.ContainsFunc(out, func(s Status) bool { return s.Critical && !s.Healthy })
	return ready, out
}

// Degraded reports whether any check in statuses failed.
func Degraded(statuses []Status) bool {
	return slices.ContainsFunc(statuses, func(s Status) bool { return !s.Healthy })
}

func (r *Registry) run(ctx context.Context, c check) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(ctx)
	st := Status{
		Name:      c.name,
		Healthy:   err == nil,
		Critical:  c.critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		st.Detail = err.Error()
	}
	return st
}

// Handler answers 200 "ready" while every critical check passes and 503
// "not_ready" otherwise. Checks are listed either way.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ready, statuses := r.CheckAll(c.Request.Context())
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
	}
}
