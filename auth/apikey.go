package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// apiKeyEntropy is the number of random bytes in a generated key.
const apiKeyEntropy = 32

// APIKeyConfig configures the API key authenticator.
type APIKeyConfig struct {
	// HeaderName is the header containing the API key.
	// Default: "X-API-Key"
	HeaderName string

	// QueryParam is the query parameter containing the API key.
	// Default: "api_key"
	QueryParam string

	// Prefix starts every generated key and lets malformed keys be
	// rejected without a lookup.
	// Default: "wack_"
	Prefix string

	// RateLimit and RateLimitWindow are given to keys created without an
	// explicit limit.
	// Default: 1000 per hour
	RateLimit       int
	RateLimitWindow time.Duration
}

func (c *APIKeyConfig) applyDefaults() {
	if c.HeaderName == "" {
		c.HeaderName = "X-API-Key"
	}
	if c.QueryParam == "" {
		c.QueryParam = "api_key"
	}
	if c.Prefix == "" {
		c.Prefix = "wack_"
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 1000
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Hour
	}
}

// APIKeyAuthenticator validates API keys.
type APIKeyAuthenticator struct {
	config APIKeyConfig
	keys   store.APIKeyStore
	clock  clock.Clock
	logger observe.Logger
}

// NewAPIKeyAuthenticator creates a new API key authenticator. A nil clock
// uses the system clock; a nil logger discards.
func NewAPIKeyAuthenticator(config APIKeyConfig, keys store.APIKeyStore, clk clock.Clock, logger observe.Logger) *APIKeyAuthenticator {
	config.applyDefaults()
	return &APIKeyAuthenticator{
		config: config,
		keys:   keys,
		clock:  clock.OrSystem(clk),
		logger: observe.OrNop(logger),
	}
}

// Scheme returns AuthMethodAPIKey.
func (a *APIKeyAuthenticator) Scheme() AuthMethod { return AuthMethodAPIKey }

// Supports returns true if the request carries an API key header or query
// parameter.
func (a *APIKeyAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	return a.credential(req) != ""
}

func (a *APIKeyAuthenticator) credential(req *AuthRequest) string {
	if key := strings.TrimSpace(req.GetHeader(a.config.HeaderName)); key != "" {
		return key
	}
	return strings.TrimSpace(req.GetQuery(a.config.QueryParam))
}

// Validate checks the key's prefix and encoding.
func (a *APIKeyAuthenticator) Validate(_ context.Context, key string) error {
	body, ok := strings.CutPrefix(key, a.config.Prefix)
	if !ok {
		return newError(KindInvalid, "malformed API key")
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) != apiKeyEntropy {
		return newError(KindInvalid, "malformed API key")
	}
	return nil
}

// Authenticate validates the API key.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	key := a.credential(req)
	if key == "" {
		return AuthFailure(newError(KindMissing, "API key required"), AuthMethodAPIKey), nil
	}
	if err := a.Validate(ctx, key); err != nil {
		return AuthFailure(AsError(err), AuthMethodAPIKey), nil
	}

	keyHash := HashAPIKey(key)
	rec, err := a.keys.GetAPIKeyByHash(ctx, keyHash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return AuthFailure(newError(KindInvalid, "unknown API key"), AuthMethodAPIKey), nil
	case err != nil:
		return nil, fmt.Errorf("api_key: lookup: %w", err)
	}
	if !ConstantTimeCompare(rec.KeyHash, keyHash) {
		return AuthFailure(newError(KindInvalid, "unknown API key"), AuthMethodAPIKey), nil
	}

	now := a.clock.Now()
	if rec.Revoked() {
		return AuthFailure(newError(KindRevoked, "API key has been revoked"), AuthMethodAPIKey), nil
	}
	if rec.Expired(now) {
		return AuthFailure(newError(KindExpired, "API key expired"), AuthMethodAPIKey), nil
	}

	// Best effort: a failed touch never changes the decision.
	if err := a.keys.TouchAPIKey(ctx, rec.ID, now, req.ClientIP()); err != nil {
		a.logger.Warn(ctx, "failed to record API key use",
			observe.F("key_id", rec.ID), observe.F("error", err))
	}

	return AuthSuccess(newIdentity(rec.UserID, rec.Roles, rec.Scopes, APIKeyPrincipal{
		KeyID:           rec.ID,
		Name:            rec.Name,
		RateLimit:       rec.RateLimit,
		RateLimitWindow: rec.RateLimitWindow,
	})), nil
}

// GenerateAPIKey returns a new random key with the given prefix.
func GenerateAPIKey(prefix string) (string, error) {
	raw := make([]byte, apiKeyEntropy)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashAPIKey hashes an API key using SHA-256 for storage.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ConstantTimeCompare performs constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Ensure APIKeyAuthenticator implements Authenticator
var _ Authenticator = (*APIKeyAuthenticator)(nil)

// Ensure APIKeyAuthenticator implements CredentialValidator
var _ CredentialValidator = (*APIKeyAuthenticator)(nil)
