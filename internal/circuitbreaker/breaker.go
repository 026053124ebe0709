// Package circuitbreaker stops calling a dependency that keeps failing.
// Each key (a service name or webhook URL) has its own circuit.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute while a circuit rejects calls.
var ErrOpen = errors.New("circuit open")

// State is the circuit state for one key.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tiltcheck",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by breaker, from-state, and to-state.",
}, []string{"breaker", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Breaker opens a key's circuit after threshold consecutive failures and
// lets a single probe through once cooldown has passed.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New returns a Breaker. name labels the transition metric.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		circuits:  make(map[string]*circuit),
	}
}

// Execute runs fn unless key's circuit is open. fn's result is recorded.
func (b *Breaker) Execute(key string, fn func() error) error {
	if !b.allow(key) {
		return ErrOpen
	}
	err := fn()
	b.record(key, err == nil)
	return err
}

// State returns key's current state. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

func (b *Breaker) allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return false
		}
		b.transition(c, StateHalfOpen)
		c.probing = true
		return true
	case StateHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) record(key string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, exists := b.circuits[key]
	if !exists {
		if ok {
			return
		}
		c = &circuit{}
		b.circuits[key] = c
	}
	c.probing = false

	if ok {
		c.failures = 0
		b.transition(c, StateClosed)
		return
	}

	c.failures++
	if c.state == StateHalfOpen || c.failures >= b.threshold {
		c.openedAt = b.now()
		b.transition(c, StateOpen)
	}
}

// transition requires b.mu.
func (b *Breaker) transition(c *circuit, to State) {
	if c.state == to {
		return
	}
	transitions.WithLabelValues(b.name, c.state.String(), to.String()).Inc()
	c.state = to
}
