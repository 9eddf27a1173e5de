package store

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SandraRGdev/wp-api-codeia-sub001/cache"
)

// Cached decorates a Store with a read-through cache of revoked token and
// API key records, and collapses concurrent lookups of the same id into a
// single backend call.
//
// Only revoked records are cached. Revocation is terminal, so a cached
// entry is never less restrictive than the backend.
type Cached struct {
	Store
	cache  cache.Cache
	config CachedConfig
	group  singleflight.Group
}

// DefaultLookupTimeout bounds a shared backend lookup.
const DefaultLookupTimeout = 5 * time.Second

// CachedConfig configures Cached.
type CachedConfig struct {
	// TTL of cached revoked records. Zero defers to the cache's policy.
	TTL time.Duration

	// LookupTimeout bounds a backend lookup shared by coalesced callers.
	// The lookup does not inherit any single caller's cancellation.
	// Default: DefaultLookupTimeout
	LookupTimeout time.Duration
}

// NewCached wraps inner.
func NewCached(inner Store, c cache.Cache, config CachedConfig) *Cached {
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}
	return &Cached{Store: inner, cache: c, config: config}
}

// GetToken serves revoked tokens from cache.
func (c *Cached) GetToken(ctx context.Context, id string) (*TokenRecord, error) {
	key := cache.Key("revoked", "token", id)
	if rec, ok := cachedRecord[TokenRecord](ctx, c.cache, key); ok {
		return rec, nil
	}
	rec, err := sharedLookup(ctx, c, key, func(ctx context.Context) (*TokenRecord, error) {
		return c.Store.GetToken(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if rec.Revoked() {
		c.remember(ctx, key, rec)
	}
	return rec.Clone(), nil
}

// GetAPIKeyByHash serves revoked keys from cache.
func (c *Cached) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	key := cache.Key("revoked", "keyh", keyHash)
	if rec, ok := cachedRecord[APIKeyRecord](ctx, c.cache, key); ok {
		return rec, nil
	}
	rec, err := sharedLookup(ctx, c, key, func(ctx context.Context) (*APIKeyRecord, error) {
		return c.Store.GetAPIKeyByHash(ctx, keyHash)
	})
	if err != nil {
		return nil, err
	}
	if rec.Revoked() {
		c.remember(ctx, key, rec)
	}
	return rec.Clone(), nil
}

// sharedLookup runs fn once for concurrent callers of key. Each caller
// stops waiting when its own ctx is done.
func sharedLookup[T any](ctx context.Context, c *Cached, key string, fn func(context.Context) (*T, error)) (*T, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.LookupTimeout)
		defer cancel()
		return fn(lookupCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*T), nil
	}
}

func (c *Cached) remember(ctx context.Context, key string, rec any) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = c.cache.Set(ctx, key, data, c.config.TTL)
}

func cachedRecord[T any](ctx context.Context, c cache.Cache, key string) (*T, bool) {
	data, ok := c.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

var _ Store = (*Cached)(nil)
