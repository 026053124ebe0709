package eventlog

import (
	"context"
	"errors"

	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/mbd888/tiltcheck/internal/traces"
)

// Instrumented wraps a Store with Prometheus counters and trace spans.
type Instrumented struct {
	Store
	backend string
}

// Instrument wraps s; backend labels the metrics ("file", "postgres", ...).
func Instrument(s Store, backend string) *Instrumented {
	return &Instrumented{Store: s, backend: backend}
}

// Backend returns the backend label.
func (i *Instrumented) Backend() string { return i.backend }

// Ping forwards to the wrapped store when it supports it.
func (i *Instrumented) Ping(ctx context.Context) error {
	if p, ok := i.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (i *Instrumented) observe(table Table, op string, err error) {
	metrics.StoreOperationsTotal.WithLabelValues(i.backend, string(table), op).Inc()
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.StoreErrorsTotal.WithLabelValues(i.backend, string(table), op).Inc()
	}
}

func (i *Instrumented) Load(ctx context.Context, table Table, key string) (_ []byte, retErr error) {
	ctx, span := traces.StartSpan(ctx, "eventlog.Load", traces.Table(string(table)))
	defer func() {
		i.observe(table, "load", retErr)
		if errors.Is(retErr, ErrNotFound) {
			// A miss is a normal answer, not a failed span.
			span.End()
			return
		}
		traces.End(span, retErr)
	}()
	return i.Store.Load(ctx, table, key)
}

func (i *Instrumented) Save(ctx context.Context, table Table, key string, value []byte) (retErr error) {
	ctx, span := traces.StartSpan(ctx, "eventlog.Save", traces.Table(string(table)))
	defer func() {
		i.observe(table, "save", retErr)
		traces.End(span, retErr)
	}()
	return i.Store.Save(ctx, table, key, value)
}

func (i *Instrumented) Update(ctx context.Context, table Table, key string, fn UpdateFunc) (retErr error) {
	ctx, span := traces.StartSpan(ctx, "eventlog.Update", traces.Table(string(table)))
	defer func() {
		i.observe(table, "update", retErr)
		traces.End(span, retErr)
	}()
	return i.Store.Update(ctx, table, key, fn)
}

func (i *Instrumented) Keys(ctx context.Context, table Table) (_ []string, retErr error) {
	ctx, span := traces.StartSpan(ctx, "eventlog.Keys", traces.Table(string(table)))
	defer func() {
		i.observe(table, "keys", retErr)
		traces.End(span, retErr)
	}()
	return i.Store.Keys(ctx, table)
}
