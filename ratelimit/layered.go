package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
)

// Layer names.
const (
	LayerIP     = "ip"
	LayerUser   = "user"
	LayerAPIKey = "api_key"
)

// Check is one independent limit to enforce.
type Check struct {
	Layer   string
	Subject string
	Limit   int
	Window  time.Duration
}

func (c Check) skip() bool {
	return c.Subject == "" || c.Limit <= 0 || c.Window <= 0
}

// Result is the combined outcome of a layered check.
type Result struct {
	Allowed bool

	// Layer, RetryAfter and Banned describe the first denying layer.
	Layer      string
	RetryAfter time.Duration
	Banned     bool
}

// LayeredConfig configures a Layered limiter.
type LayeredConfig struct {
	// FailOpen allows requests when the backend is unavailable. When false,
	// backend failures are returned to the caller.
	FailOpen bool

	Logger  observe.Logger
	Metrics observe.Metrics
}

// Layered enforces several independent limits that must all pass.
type Layered struct {
	limiter  Limiter
	failOpen bool
	logger   observe.Logger
	metrics  observe.Metrics
}

// NewLayered wraps limiter.
func NewLayered(limiter Limiter, config LayeredConfig) *Layered {
	return &Layered{
		limiter:  limiter,
		failOpen: config.FailOpen,
		logger:   observe.OrNop(config.Logger).With(observe.F("component", "ratelimit")),
		metrics:  observe.OrNopMetrics(config.Metrics),
	}
}

// Check evaluates checks in order and stops at the first denial. Checks
// with an empty subject or a non-positive limit or window are skipped.
func (l *Layered) Check(ctx context.Context, checks ...Check) (Result, error) {
	for _, c := range checks {
		if c.skip() {
			continue
		}
		d, err := l.limiter.CheckAndIncrement(ctx, c.Layer+":"+c.Subject, c.Limit, c.Window)
		if err != nil {
			if errors.Is(err, context.Canceled) || !l.failOpen {
				return Result{}, err
			}
			l.logger.Warn(ctx, "rate limiter unavailable, allowing request",
				observe.F("layer", c.Layer), observe.F("error", err))
			continue
		}
		if !d.Allowed {
			l.metrics.RecordRateLimited(ctx, c.Layer, d.Banned)
			if d.Banned {
				l.logger.Warn(ctx, "subject banned",
					observe.F("layer", c.Layer), observe.F("subject", c.Subject),
					observe.F("retry_after_s", d.RetryAfter.Seconds()))
			}
			return Result{Layer: c.Layer, RetryAfter: d.RetryAfter, Banned: d.Banned}, nil
		}
	}
	return Result{Allowed: true}, nil
}
