package resilience

import "errors"

// Sentinel errors for guarded backend calls.
var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")
)
