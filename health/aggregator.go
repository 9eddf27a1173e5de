package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout is the maximum time to wait for all checks.
	// Default: 5 seconds
	Timeout time.Duration
}

// Aggregator runs several checkers as one.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Aggregator{timeout: config.Timeout}
}

// Register adds checkers. A checker with the name of a registered one
// replaces it.
func (a *Aggregator) Register(checkers ...Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range checkers {
		replaced := false
		for i, existing := range a.checkers {
			if existing.Name() == c.Name() {
				a.checkers[i], replaced = c, true
				break
			}
		}
		if !replaced {
			a.checkers = append(a.checkers, c)
		}
	}
}

// CheckAll runs every checker in parallel and returns results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]Result, len(checkers))
	var g errgroup.Group
	for _, c := range checkers {
		g.Go(func() error {
			r := run(ctx, c)
			mu.Lock()
			results[c.Name()] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run bounds a checker by ctx even if it ignores cancellation.
func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	ch := make(chan Result, 1)
	go func() { ch <- c.Check(ctx) }()

	select {
	case r := <-ch:
		if r.Duration == 0 {
			r.Duration = time.Since(start)
		}
		return r
	case <-ctx.Done():
		return Result{Status: StatusUnhealthy, Message: "check timed out", Error: ErrCheckTimeout, Duration: time.Since(start)}
	}
}

// Overall folds results into one status: the worst of them.
func Overall(results map[string]Result) Status {
	status := StatusHealthy
	for _, r := range results {
		if r.Status > status {
			status = r.Status
		}
	}
	return status
}
