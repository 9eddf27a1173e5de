package cache

import "time"

// Policy clamps TTLs requested by callers.
type Policy struct {
	// DefaultTTL is used when Set is called with ttl <= 0. Zero disables
	// caching for such calls.
	DefaultTTL time.Duration

	// MaxTTL caps every TTL. Zero means no cap.
	MaxTTL time.Duration
}

// DefaultPolicy caches revocation facts for up to 10 minutes.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: time.Minute, MaxTTL: 10 * time.Minute}
}

// EffectiveTTL returns the TTL to use for a requested ttl.
func (p Policy) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
