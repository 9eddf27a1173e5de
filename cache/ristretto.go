package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// RistrettoConfig sizes a RistrettoCache.
type RistrettoConfig struct {
	// MaxCost is the total byte budget.
	// Default: 64 MiB
	MaxCost int64

	// NumCounters tracks admission frequency; ~10x expected entries.
	// Default: 1_000_000
	NumCounters int64

	Policy Policy
}

// RistrettoCache is a bounded, admission-controlled in-process cache.
// Writes are buffered; Set waits for the write to land so that a
// subsequent Get observes it.
type RistrettoCache struct {
	cache  *ristretto.Cache[string, []byte]
	policy Policy
}

// NewRistrettoCache creates a ristretto-backed cache.
func NewRistrettoCache(config RistrettoConfig) (*RistrettoCache, error) {
	if config.MaxCost <= 0 {
		config.MaxCost = 64 << 20
	}
	if config.NumCounters <= 0 {
		config.NumCounters = 1_000_000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: init ristretto: %w", err)
	}
	return &RistrettoCache{cache: c, policy: config.Policy}, nil
}

// Get returns a cached value.
func (c *RistrettoCache) Get(_ context.Context, key string) ([]byte, bool) {
	return c.cache.Get(key)
}

// Set stores value with cost equal to its length.
func (c *RistrettoCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}
	c.cache.SetWithTTL(key, value, int64(len(value))+int64(len(key)), ttl)
	c.cache.Wait()
	return nil
}

// Delete removes key.
func (c *RistrettoCache) Delete(_ context.Context, key string) error {
	c.cache.Del(key)
	return nil
}

// Close stops ristretto's background goroutines.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}

// Ensure RistrettoCache implements Cache
var _ Cache = (*RistrettoCache)(nil)
