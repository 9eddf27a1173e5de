package health

import "errors"

var (
	// ErrCheckTimeout indicates a health check did not answer in time.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrSlow indicates a backend answered, but slower than its threshold.
	ErrSlow = errors.New("health: slow response")
)
