package resilience

import (
	"sync"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	// Default: 5
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before a probe is let
	// through.
	// Default: 10 seconds
	OpenTimeout time.Duration

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)

	Clock clock.Clock
}

// CircuitBreaker stops calling a backend after repeated failures. In the
// half-open state exactly one probe call is admitted.
type CircuitBreaker struct {
	config BreakerConfig
	clock  clock.Clock

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 10 * time.Second
	}
	return &CircuitBreaker{config: config, clock: clock.OrSystem(config.Clock)}
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen && !cb.clock.Now().Before(cb.openedAt.Add(cb.config.OpenTimeout)) {
		cb.state = StateHalfOpen
		cb.probing = false
	}
	var err error
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probing {
			err = ErrCircuitOpen
		} else {
			cb.probing = true
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

// Record reports the outcome of an allowed call.
func (cb *CircuitBreaker) Record(failed bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case !failed:
		cb.failures = 0
		cb.state = StateClosed
	case cb.state == StateHalfOpen:
		cb.trip()
	default:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.trip()
		}
	}
	cb.probing = false
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.clock.Now()
	cb.failures = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current state without transitioning.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
