// Package circuitbreaker provides a failure-rate circuit breaker with
// closed → open → half-open state transitions, shared process-wide by all
// callers of one downstream dependency.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit rejects the call outright.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: a bounded number of trial requests
)

// String returns the state name.
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

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fraudguard",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by name, from-state, and to-state.",
}, []string{"name", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// Config tunes the breaker. Zero values fall back to the defaults below.
type Config struct {
	// FailureRateThreshold trips the circuit when the failure fraction of
	// the sliding window reaches it, but only once MinimumCalls outcomes
	// have been observed.
	FailureRateThreshold float64
	// MinimumCalls is the volume floor before the rate is evaluated.
	MinimumCalls int
	// WindowSize is the number of most recent call outcomes considered.
	WindowSize int
	// OpenDuration is the cool-down before an open circuit starts probing.
	OpenDuration time.Duration
	// HalfOpenProbes is how many trial calls half-open permits. All probes
	// succeeding closes the circuit; any probe failing re-opens it.
	HalfOpenProbes int
}

func (c Config) withDefaults() Config {
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = 0.5
	}
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = 10
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 3
	}
	return c
}

// Breaker tracks call outcomes in a sliding count window and trips open when
// the failure rate crosses the threshold. After OpenDuration it moves to
// half-open and admits a bounded number of probes before closing or
// re-opening. Safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	name  string
	state State

	// Sliding outcome window, consulted while closed.
	outcomes []bool // true = failure
	next     int
	filled   int
	failures int

	openedAt time.Time

	// Half-open probe accounting.
	probesInFlight int
	probesDone     int
	probeFailed    bool

	totalFailures uint64

	onTransition func(from, to State)
}

// New creates a named circuit breaker.
func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:     name,
		cfg:      cfg,
		outcomes: make([]bool, cfg.WindowSize),
	}
}

// OnTransition sets a callback invoked on state changes (for logging).
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// State returns the current state, advancing open → half-open when the
// cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe()
	return b.state
}

// FailureCount returns the total failures recorded over the breaker's
// lifetime. Exposed for tests and diagnostics.
func (b *Breaker) FailureCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalFailures
}

// Do runs fn through the breaker. When the circuit rejects the call, fn is
// not invoked and ErrOpen is returned; otherwise fn's error is recorded as
// the call outcome and returned as-is.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeProbe()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probesDone+b.probesInFlight >= b.cfg.HalfOpenProbes {
			return false
		}
		b.probesInFlight++
		return true
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probesInFlight--
		b.probesDone++
		b.settleProbes()
	case StateClosed:
		b.push(false)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++

	switch b.state {
	case StateHalfOpen:
		b.probesInFlight--
		b.probesDone++
		b.probeFailed = true
		b.settleProbes()
	case StateClosed:
		b.push(true)
		if b.filled >= b.cfg.MinimumCalls &&
			float64(b.failures)/float64(b.filled) >= b.cfg.FailureRateThreshold {
			b.transition(StateOpen)
		}
	}
}

// maybeProbe advances open → half-open once the cool-down has elapsed.
// Caller must hold b.mu.
func (b *Breaker) maybeProbe() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.OpenDuration {
		b.transition(StateHalfOpen)
	}
}

// settleProbes re-opens on the first failed probe, or closes once every
// permitted probe has resolved successfully. Caller must hold b.mu.
func (b *Breaker) settleProbes() {
	if b.probeFailed {
		b.transition(StateOpen)
		return
	}
	if b.probesDone >= b.cfg.HalfOpenProbes && b.probesInFlight == 0 {
		b.transition(StateClosed)
	}
}

// push records one outcome in the sliding window. Caller must hold b.mu.
func (b *Breaker) push(failure bool) {
	if b.filled == len(b.outcomes) {
		if b.outcomes[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.outcomes[b.next] = failure
	if failure {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.outcomes)
}

// transition changes state, resetting per-state accounting.
// Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case StateOpen:
		b.openedAt = time.Now()
	case StateHalfOpen:
		b.probesInFlight = 0
		b.probesDone = 0
		b.probeFailed = false
	case StateClosed:
		for i := range b.outcomes {
			b.outcomes[i] = false
		}
		b.next = 0
		b.filled = 0
		b.failures = 0
	}

	cbStateTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(from, to)
	}
}
