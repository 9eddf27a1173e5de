package health

import (
	"context"
	"fmt"
	"time"
)

// Status represents the health status of a component.
type Status int

const (
	// StatusHealthy indicates the component is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates the component answers, but slowly.
	StatusDegraded
	// StatusUnhealthy indicates the component is unreachable or failing.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a health check.
type Result struct {
	Status   Status
	Message  string
	Duration time.Duration

	// Error is the failure, if any. It is reported in the detailed
	// endpoint, so it must not carry secrets.
	Error error
}

// Checker is the interface for health checks.
type Checker interface {
	// Name returns the name of this checker.
	Name() string

	// Check performs the health check and returns the result.
	Check(ctx context.Context) Result
}

// CheckerFunc is an adapter to allow ordinary functions to be used as Checkers.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a new CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the name of this checker.
func (f *CheckerFunc) Name() string { return f.name }

// Check performs the health check.
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// Pinger is a backend that can be pinged: store.Store, the Redis client
// and the revocation cache all are.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingConfig configures a PingChecker.
type PingConfig struct {
	// DegradedAfter marks the backend degraded when a ping takes longer.
	// Zero disables the check.
	// Default: 0
	DegradedAfter time.Duration
}

// PingChecker checks a backend by pinging it.
type PingChecker struct {
	name   string
	target Pinger
	config PingConfig
}

// NewPingChecker creates a checker named name for target.
func NewPingChecker(name string, target Pinger, config PingConfig) *PingChecker {
	return &PingChecker{name: name, target: target, config: config}
}

// Name returns the checker name.
func (c *PingChecker) Name() string { return c.name }

// Check pings the target.
func (c *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.target.Ping(ctx)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		return Result{Status: StatusUnhealthy, Message: "ping failed", Error: err, Duration: elapsed}
	case c.config.DegradedAfter > 0 && elapsed > c.config.DegradedAfter:
		return Result{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("ping took %s", elapsed.Round(time.Millisecond)),
			Error:    ErrSlow,
			Duration: elapsed,
		}
	default:
		return Result{Status: StatusHealthy, Message: "ok", Duration: elapsed}
	}
}

var (
	_ Checker = (*CheckerFunc)(nil)
	_ Checker = (*PingChecker)(nil)
)
