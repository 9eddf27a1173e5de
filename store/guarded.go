package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/resilience"
)

// Guarded decorates a Store with per-call timeouts, retries of transient
// failures and a circuit breaker. Definitive answers (not found, already
// rotated, duplicate) pass through unchanged and never trip the breaker.
type Guarded struct {
	inner Store
	guard *resilience.Guard
}

// NewGuarded wraps inner. config.IsTransient is overridden so that only
// non-permanent errors are retried.
func NewGuarded(inner Store, config resilience.GuardConfig) *Guarded {
	config.IsTransient = func(err error) bool { return !IsPermanent(err) }
	return &Guarded{inner: inner, guard: resilience.NewGuard(config)}
}

// Guard exposes the underlying guard.
func (g *Guarded) Guard() *resilience.Guard { return g.guard }

func (g *Guarded) do(ctx context.Context, name string, op func(context.Context) error) error {
	return unavailableUnlessPermanent(g.guard.Do(ctx, name, op))
}

// guardedValue runs a value-returning call under the guard. An attempt
// abandoned on timeout may still complete, so the result is published under
// a lock.
func guardedValue[T any](ctx context.Context, g *Guarded, name string, fn func(context.Context) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	err := g.do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			mu.Lock()
			out = v
			mu.Unlock()
		}
		return err
	})
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func unavailableUnlessPermanent(err error) error {
	if err == nil || IsPermanent(err) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// CreateTokens is not retried: a retry after an ambiguous failure would
// collide with its own records and report ErrDuplicate.
func (g *Guarded) CreateTokens(ctx context.Context, records ...*TokenRecord) error {
	return unavailableUnlessPermanent(g.guard.DoOnce(ctx, "store.create_tokens", func(ctx context.Context) error {
		return g.inner.CreateTokens(ctx, records...)
	}))
}

func (g *Guarded) GetToken(ctx context.Context, id string) (*TokenRecord, error) {
	return guardedValue(ctx, g, "store.get_token", func(ctx context.Context) (*TokenRecord, error) {
		return g.inner.GetToken(ctx, id)
	})
}

// RotateRefresh is not retried: a retry after an ambiguous failure would
// observe its own rotation and report ErrAlreadyRotated.
func (g *Guarded) RotateRefresh(ctx context.Context, oldID string, at time.Time, next []*TokenRecord) error {
	return unavailableUnlessPermanent(g.guard.DoOnce(ctx, "store.rotate_refresh", func(ctx context.Context) error {
		return g.inner.RotateRefresh(ctx, oldID, at, next)
	}))
}

func (g *Guarded) RevokeToken(ctx context.Context, id, reason string, at time.Time) error {
	return g.do(ctx, "store.revoke_token", func(ctx context.Context) error {
		return g.inner.RevokeToken(ctx, id, reason, at)
	})
}

func (g *Guarded) RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) (int, error) {
	return guardedValue(ctx, g, "store.revoke_session", func(ctx context.Context) (int, error) {
		return g.inner.RevokeSession(ctx, sessionID, reason, at)
	})
}

func (g *Guarded) RevokeUserTokens(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	return guardedValue(ctx, g, "store.revoke_user_tokens", func(ctx context.Context) (int, error) {
		return g.inner.RevokeUserTokens(ctx, userID, reason, at)
	})
}

func (g *Guarded) DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int, error) {
	return guardedValue(ctx, g, "store.delete_expired_tokens", func(ctx context.Context) (int, error) {
		return g.inner.DeleteExpiredTokens(ctx, cutoff)
	})
}

func (g *Guarded) CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error {
	return g.do(ctx, "store.create_api_key", func(ctx context.Context) error {
		return g.inner.CreateAPIKey(ctx, rec)
	})
}

func (g *Guarded) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	return guardedValue(ctx, g, "store.get_api_key", func(ctx context.Context) (*APIKeyRecord, error) {
		return g.inner.GetAPIKey(ctx, id)
	})
}

func (g *Guarded) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	return guardedValue(ctx, g, "store.get_api_key_by_hash", func(ctx context.Context) (*APIKeyRecord, error) {
		return g.inner.GetAPIKeyByHash(ctx, keyHash)
	})
}

func (g *Guarded) ListAPIKeys(ctx context.Context, userID string) ([]*APIKeyRecord, error) {
	return guardedValue(ctx, g, "store.list_api_keys", func(ctx context.Context) ([]*APIKeyRecord, error) {
		return g.inner.ListAPIKeys(ctx, userID)
	})
}

func (g *Guarded) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	return g.do(ctx, "store.revoke_api_key", func(ctx context.Context) error {
		return g.inner.RevokeAPIKey(ctx, id, at)
	})
}

func (g *Guarded) TouchAPIKey(ctx context.Context, id string, at time.Time, ip string) error {
	return g.do(ctx, "store.touch_api_key", func(ctx context.Context) error {
		return g.inner.TouchAPIKey(ctx, id, at, ip)
	})
}

func (g *Guarded) CreateAppPassword(ctx context.Context, rec *AppPasswordRecord) error {
	return g.do(ctx, "store.create_app_password", func(ctx context.Context) error {
		return g.inner.CreateAppPassword(ctx, rec)
	})
}

func (g *Guarded) GetAppPassword(ctx context.Context, id string) (*AppPasswordRecord, error) {
	return guardedValue(ctx, g, "store.get_app_password", func(ctx context.Context) (*AppPasswordRecord, error) {
		return g.inner.GetAppPassword(ctx, id)
	})
}

func (g *Guarded) ListAppPasswords(ctx context.Context, login string) ([]*AppPasswordRecord, error) {
	return guardedValue(ctx, g, "store.list_app_passwords", func(ctx context.Context) ([]*AppPasswordRecord, error) {
		return g.inner.ListAppPasswords(ctx, login)
	})
}

func (g *Guarded) RevokeAppPassword(ctx context.Context, id string, at time.Time) error {
	return g.do(ctx, "store.revoke_app_password", func(ctx context.Context) error {
		return g.inner.RevokeAppPassword(ctx, id, at)
	})
}

func (g *Guarded) TouchAppPassword(ctx context.Context, id string, at time.Time, ip string) error {
	return g.do(ctx, "store.touch_app_password", func(ctx context.Context) error {
		return g.inner.TouchAppPassword(ctx, id, at, ip)
	})
}

// Ping bypasses the breaker so health checks observe the real backend.
func (g *Guarded) Ping(ctx context.Context) error { return g.inner.Ping(ctx) }

func (g *Guarded) Close() error { return g.inner.Close() }

var _ Store = (*Guarded)(nil)
