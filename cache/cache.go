package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Cache stores opaque values with a TTL.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get never errors; a miss and a backend failure both return
//   (nil, false), so callers always fall back to the source of truth.
type Cache interface {
	// Get retrieves a cached value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with the given TTL. TTL <= 0 stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a cached value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ValidateKey checks a key for emptiness, length and line breaks.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Key joins a namespace and parts into a cache key, e.g.
// Key("revoked", "token", id) = "revoked:token:<id>".
func Key(namespace string, parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}
