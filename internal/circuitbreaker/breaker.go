// Package circuitbreaker guards outbound provider calls. Purchase and
// escrow flows must not stall on a flapping dependency, so callers such
// as the mail provider client check the breaker before dialing out and
// report the outcome afterwards. Circuits are tracked per provider key
// and move closed → open → half-open.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the position of a single provider circuit.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // provider considered down, calls rejected
	StateHalfOpen              // one trial call in flight to test recovery
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

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "codesalvage",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Provider circuit transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// circuit is the per-provider record. consecutive resets on any success,
// so a provider has to fail threshold times in a row to trip.
type circuit struct {
	state       State
	consecutive int
	lastFailure time.Time
}

// Breaker tracks one circuit per provider key. A circuit trips open after
// threshold consecutive failures, rejects calls for openFor, then lets a
// single trial call through to decide whether the provider recovered.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	openFor   time.Duration
}

// New returns a breaker that trips after threshold consecutive failures
// and holds the circuit open for openFor before trialing recovery.
// Non-positive arguments fall back to 5 failures and 30 seconds, which
// suits slow outbound providers like transactional mail.
func New(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		openFor:   openFor,
	}
}

// Allow reports whether a call to key may proceed. An open circuit whose
// openFor window has elapsed moves to half-open and admits exactly one
// trial call; further calls are rejected until RecordSuccess or
// RecordFailure settles the trial.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true // never failed, circuit closed
	}

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(c.lastFailure) >= b.openFor {
			b.transition(c, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false // trial call already in flight
	default:
		return true
	}
}

// RecordSuccess clears the failure streak for key and, if a trial call
// was in flight, closes the circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}

	if c.state == StateHalfOpen {
		b.transition(c, key, StateClosed)
	}
	c.consecutive = 0
}

// RecordFailure extends the failure streak for key. The circuit trips
// open at the threshold, and a failed trial call reopens it immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}

	c.consecutive++
	c.lastFailure = time.Now()

	if c.state == StateHalfOpen {
		b.transition(c, key, StateOpen)
		return
	}

	if c.state == StateClosed && c.consecutive >= b.threshold {
		b.transition(c, key, StateOpen)
	}
}

// State returns the circuit position for key. Keys that never failed
// report closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return StateClosed
	}
	return c.state
}

// transition moves the circuit and counts the change. Caller holds b.mu.
func (b *Breaker) transition(c *circuit, key string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	stateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
}
