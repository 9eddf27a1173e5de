package auth

import (
	"context"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/ratelimit"
)

// RateLimits are the global limits applied to every authenticated
// request, on top of each API key's own limit. Zero disables a layer.
type RateLimits struct {
	PerIP         int
	PerIPWindow   time.Duration
	PerUser       int
	PerUserWindow time.Duration
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Limits RateLimits

	// Limiter enforces Limits and per-key limits. Nil disables rate
	// limiting.
	Limiter *ratelimit.Layered

	Instrumentation *observe.Instrumentation
}

// Dispatcher selects the strategy for a request's credential and applies
// rate limits. Strategies are tried in order; the first one that supports
// the request decides, with no fallback to later strategies.
type Dispatcher struct {
	strategies []Authenticator
	limits     RateLimits
	limiter    *ratelimit.Layered
	ins        *observe.Instrumentation
}

// NewDispatcher creates a dispatcher over strategies, in priority order.
func NewDispatcher(config DispatcherConfig, strategies ...Authenticator) *Dispatcher {
	return &Dispatcher{
		strategies: strategies,
		limits:     config.Limits,
		limiter:    config.Limiter,
		ins:        observe.OrNopInstrumentation(config.Instrumentation),
	}
}

// Scheme returns the scheme of the strategy that would handle req, or
// AuthMethodNone.
func (d *Dispatcher) Scheme(ctx context.Context, req *AuthRequest) AuthMethod {
	if s := d.strategy(ctx, req); s != nil {
		return s.Scheme()
	}
	return AuthMethodNone
}

func (d *Dispatcher) strategy(ctx context.Context, req *AuthRequest) Authenticator {
	for _, s := range d.strategies {
		if s.Supports(ctx, req) {
			return s
		}
	}
	return nil
}

// Authenticate resolves the identity behind req. Expected failures are
// returned in the result; store and limiter failures are returned as
// errors and must be treated as a denial.
func (d *Dispatcher) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	var (
		result *AuthResult
		err    error
	)
	d.ins.Observe(ctx, observe.Operation{Name: "authenticate"}, func(ctx context.Context) observe.Outcome {
		result, err = d.authenticate(ctx, req)
		switch {
		case err != nil:
			return observe.Outcome{Kind: string(KindInternal), Err: err}
		case !result.Authenticated:
			return observe.Outcome{Kind: string(result.Error.Kind), Method: string(result.Method)}
		default:
			return observe.Outcome{Method: string(result.Method), UserID: result.Identity.UserID}
		}
	})
	return result, err
}

func (d *Dispatcher) authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	// Per-IP runs first so credential guessing is throttled.
	if res, err := d.limit(ctx, ratelimit.Check{
		Layer: ratelimit.LayerIP, Subject: req.ClientIP(),
		Limit: d.limits.PerIP, Window: d.limits.PerIPWindow,
	}); err != nil || res != nil {
		return res, err
	}

	s := d.strategy(ctx, req)
	if s == nil {
		return AuthFailure(newError(KindMissing, "authentication required"), AuthMethodNone), nil
	}
	result, err := s.Authenticate(ctx, req)
	if err != nil || !result.Authenticated {
		return result, err
	}

	checks := []ratelimit.Check{{
		Layer: ratelimit.LayerUser, Subject: result.Identity.UserID,
		Limit: d.limits.PerUser, Window: d.limits.PerUserWindow,
	}}
	if p, ok := result.Identity.Principal.(APIKeyPrincipal); ok {
		checks = append(checks, ratelimit.Check{
			Layer: ratelimit.LayerAPIKey, Subject: p.KeyID,
			Limit: p.RateLimit, Window: p.RateLimitWindow,
		})
	}
	if res, err := d.limit(ctx, checks...); err != nil || res != nil {
		return res, err
	}
	return result, nil
}

// limit returns a failure result when a check denies, or nil.
func (d *Dispatcher) limit(ctx context.Context, checks ...ratelimit.Check) (*AuthResult, error) {
	if d.limiter == nil {
		return nil, nil
	}
	res, err := d.limiter.Check(ctx, checks...)
	if err != nil {
		return nil, err
	}
	if res.Allowed {
		return nil, nil
	}
	return AuthFailure(&Error{
		Kind:       KindRateLimited,
		Message:    "too many requests",
		RetryAfter: res.RetryAfter,
	}, AuthMethodNone), nil
}

