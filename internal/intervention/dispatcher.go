package intervention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/tiltcheck/internal/eventlog"
	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/internal/metrics"
	"github.com/mbd888/tiltcheck/internal/pagination"
	"github.com/mbd888/tiltcheck/internal/risk"
	"github.com/mbd888/tiltcheck/internal/session"
	"github.com/mbd888/tiltcheck/internal/trust"
)

const (
	DefaultQueueSize     = 1024
	DefaultWorkers       = 4
	DefaultNotifyTimeout = 10 * time.Second
)

// ErrQueueFull is returned by Dispatch when the delivery queue is full.
// The notice is still in the user's intervention log.
var ErrQueueFull = errors.New("intervention: delivery queue full")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("intervention: dispatcher closed")

// Dispatcher logs notices and fans them out to notifiers.
//
// It implements session.Listener, risk.Dispatcher and trust.ReportListener
// so it can be registered directly with the monitor, engine and registry.
type Dispatcher struct {
	store     eventlog.Store
	notifiers []Notifier
	workers   int
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	queue chan *Notice
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

var (
	_ session.Listener     = (*Dispatcher)(nil)
	_ risk.Dispatcher      = (*Dispatcher)(nil)
	_ trust.ReportListener = (*Dispatcher)(nil)
)

// NewDispatcher creates a dispatcher that logs to store.
func NewDispatcher(store eventlog.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		workers: DefaultWorkers,
		timeout: DefaultNotifyTimeout,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan *Notice, DefaultQueueSize),
	}
}

// WithNotifier adds a delivery channel. Nil notifiers are ignored.
func (d *Dispatcher) WithNotifier(n Notifier) *Dispatcher {
	if n != nil {
		d.notifiers = append(d.notifiers, n)
	}
	return d
}

// WithWorkers sets the number of delivery goroutines.
func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

// WithQueueSize sets the delivery queue capacity. Call before Start.
func (d *Dispatcher) WithQueueSize(n int) *Dispatcher {
	if n > 0 {
		d.queue = make(chan *Notice, n)
	}
	return d
}

// WithTimeout bounds each notifier call.
func (d *Dispatcher) WithTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.timeout = t
	}
	return d
}

// Notifiers returns the configured channel names.
func (d *Dispatcher) Notifiers() []string {
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for range d.workers {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("intervention dispatcher started",
		"workers", d.workers, "notifiers", d.Notifiers())
}

// Close stops accepting notices, drains the queue and waits for workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

// Dispatch records n in the user's intervention log and queues it for
// delivery. A log failure is only logged; delivery still happens.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notice) error {
	if n.ID == "" {
		n.ID = idgen.WithPrefix(idgen.PrefixIntervention)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}

	if err := eventlog.AppendCapped(ctx, d.store, eventlog.TableInterventions, n.UserID, *n, eventlog.MaxInterventions); err != nil {
		d.logger.Warn("failed to log intervention", "user_id", n.UserID, "kind", n.Kind, "error", err)
	}
	metrics.InterventionsTotal.WithLabelValues(n.Level).Inc()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- n:
		return nil
	default:
		metrics.NotificationsTotal.WithLabelValues("queue", "dropped").Inc()
		d.logger.Warn("intervention queue full, dropping delivery", "user_id", n.UserID, "id", n.ID)
		return ErrQueueFull
	}
}

func (d *Dispatcher) deliver(n *Notice) {
	for _, nt := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := nt.Notify(ctx, n)
		cancel()
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(nt.Name(), "error").Inc()
			d.logger.Warn("notification failed",
				"channel", nt.Name(), "user_id", n.UserID, "id", n.ID, "error", err)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(nt.Name(), "ok").Inc()
	}
}

// Log returns the user's most recent interventions, oldest first.
func (d *Dispatcher) Log(ctx context.Context, userID string, limit int) ([]Notice, error) {
	list, err := eventlog.LoadList[Notice](ctx, d.store, eventlog.TableInterventions, userID)
	if err != nil {
		return nil, err
	}
	return eventlog.Tail(list, limit), nil
}

// Page returns up to limit notices newest first, starting after cursor
// (nil for the first page), and the cursor for the following page.
func (d *Dispatcher) Page(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]Notice, string, error) {
	list, err := eventlog.LoadList[Notice](ctx, d.store, eventlog.TableInterventions, userID)
	if err != nil {
		return nil, "", err
	}
	page := make([]Notice, 0, limit+1)
	for i := len(list) - 1; i >= 0 && len(page) <= limit; i-- {
		if cursor.Older(list[i].CreatedAt, list[i].ID) {
			page = append(page, list[i])
		}
	}
	page, next, _ := pagination.ComputePage(page, limit, func(n Notice) (time.Time, string) {
		return n.CreatedAt, n.ID
	})
	return page, next, nil
}

