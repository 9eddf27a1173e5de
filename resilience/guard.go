package resilience

import (
	"context"
	"errors"
	"time"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Timeout bounds each attempt.
	// Default: 2 seconds
	Timeout time.Duration

	// MaxAttempts is the number of attempts including the first.
	// Default: 2
	MaxAttempts int

	// Backoff controls the delay between attempts.
	Backoff Backoff

	// IsTransient reports whether an error is worth retrying and counts as a
	// backend failure for the breaker. Errors for which it returns false
	// (not-found, conflicts) are returned immediately and treated as
	// successful round trips.
	// Default: every non-nil error is transient.
	IsTransient func(error) bool

	// Breaker configures the circuit breaker. A zero value uses breaker
	// defaults; set DisableBreaker to skip it.
	Breaker        BreakerConfig
	DisableBreaker bool
}

// Guard applies timeout, retry and circuit breaking to backend calls.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: returns the operation's error unchanged, or ErrTimeout /
//   ErrCircuitOpen.
type Guard struct {
	config  GuardConfig
	breaker *CircuitBreaker
}

// NewGuard creates a Guard.
func NewGuard(config GuardConfig) *Guard {
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 2
	}
	if config.IsTransient == nil {
		config.IsTransient = func(err error) bool { return err != nil }
	}
	g := &Guard{config: config}
	if !config.DisableBreaker {
		g.breaker = NewCircuitBreaker(config.Breaker)
	}
	return g
}

// Do runs op under the guard. name identifies the call in errors.
func (g *Guard) Do(ctx context.Context, name string, op func(context.Context) error) error {
	if g == nil {
		return op(ctx)
	}
	return g.run(ctx, name, g.config.MaxAttempts, op)
}

// DoOnce is Do without retries, for operations that are not idempotent.
func (g *Guard) DoOnce(ctx context.Context, name string, op func(context.Context) error) error {
	if g == nil {
		return op(ctx)
	}
	return g.run(ctx, name, 1, op)
}

func (g *Guard) run(ctx context.Context, name string, attempts int, op func(context.Context) error) error {
	if g.breaker != nil {
		if err := g.breaker.Allow(); err != nil {
			return &CallError{Op: name, Err: err}
		}
	}

	err := Retry(ctx, attempts, g.config.Backoff, g.transient, func(ctx context.Context) error {
		return WithTimeout(ctx, g.config.Timeout, op)
	})

	if g.breaker != nil {
		g.breaker.Record(err != nil && g.transient(err))
	}
	if err != nil && g.transient(err) {
		return &CallError{Op: name, Err: err}
	}
	return err
}

func (g *Guard) transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTimeout) || g.config.IsTransient(err)
}

// Breaker exposes the guard's circuit breaker, nil when disabled.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// CallError annotates a transient failure with the operation name.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string { return "resilience: " + e.Op + ": " + e.Err.Error() }

func (e *CallError) Unwrap() error { return e.Err }
