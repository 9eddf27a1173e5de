package cache

import (
	"context"
	"sync"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
)

// MemoryCache is an unbounded map-backed cache with lazy expiry. It suits
// tests and small deployments; RistrettoCache bounds memory.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	policy  Policy
	clock   clock.Clock
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a memory cache. TTLs passed to Set are clamped by
// policy. A nil clock uses the system clock.
func NewMemoryCache(policy Policy, clk clock.Clock) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		policy:  policy,
		clock:   clock.OrSystem(clk),
	}
}

// Get returns a live entry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// Set stores value until the effective TTL elapses.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// collected.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
