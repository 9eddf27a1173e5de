package auth

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// APIKeyOptions are optional settings for a new API key.
type APIKeyOptions struct {
	// Roles granted to the key. Empty grants the caller-supplied default.
	Roles []string

	// ExpiresAt is zero for keys that never expire.
	ExpiresAt time.Time

	// RateLimit and RateLimitWindow override the configured defaults.
	RateLimit       int
	RateLimitWindow time.Duration
}

// CreatedAPIKey is returned once, at creation. Key is the plaintext and
// cannot be retrieved again.
type CreatedAPIKey struct {
	Key    string
	Record *store.APIKeyRecord
}

// CreateAPIKey generates a key for userID. Scopes must be known actions
// or "*"; empty scopes grant the full account scope.
func (m *TokenManager) CreateAPIKey(ctx context.Context, userID, name string, scopes []string, opts APIKeyOptions) (*CreatedAPIKey, error) {
	now := m.jwt.clock.Now()
	problems := map[string]string{}
	if userID == "" {
		problems["user_id"] = "required"
	}
	if strings.TrimSpace(name) == "" {
		problems["name"] = "required"
	}
	for _, s := range scopes {
		if _, ok := ParseAction(s); !ok && s != "*" {
			problems["scopes"] = fmt.Sprintf("unknown scope %q", s)
			break
		}
	}
	if !opts.ExpiresAt.IsZero() && !opts.ExpiresAt.After(now) {
		problems["expires_at"] = "must be in the future"
	}
	if opts.RateLimit < 0 || opts.RateLimitWindow < 0 {
		problems["rate_limit"] = "must not be negative"
	}
	if len(problems) > 0 {
		return nil, ValidationError(problems)
	}

	key, err := GenerateAPIKey(m.apiKeys.Prefix)
	if err != nil {
		return nil, fmt.Errorf("generate API key: %w", err)
	}
	rec := &store.APIKeyRecord{
		ID:              m.newTokenID(),
		KeyHash:         HashAPIKey(key),
		Prefix:          m.apiKeys.Prefix,
		UserID:          userID,
		Name:            name,
		Scopes:          slices.Clone(scopes),
		Roles:           slices.Clone(opts.Roles),
		CreatedAt:       now,
		ExpiresAt:       opts.ExpiresAt,
		RateLimit:       cmp.Or(opts.RateLimit, m.apiKeys.RateLimit),
		RateLimitWindow: cmp.Or(opts.RateLimitWindow, m.apiKeys.RateLimitWindow),
	}
	if err := m.store.CreateAPIKey(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist API key: %w", err)
	}
	m.ins.Logger.Info(ctx, "API key created",
		observe.F("key_id", rec.ID), observe.F("user_id", userID))
	return &CreatedAPIKey{Key: key, Record: rec.Clone()}, nil
}

// CreatedAppPassword is returned once, at creation. Password is the
// plaintext, formatted for display.
type CreatedAppPassword struct {
	Password string
	Record   *store.AppPasswordRecord
}

// CreateAppPassword generates an application password usable with Basic
// auth as login:password.
func (m *TokenManager) CreateAppPassword(ctx context.Context, userID, login, name string, roles []string) (*CreatedAppPassword, error) {
	problems := map[string]string{}
	if userID == "" {
		problems["user_id"] = "required"
	}
	if login == "" || strings.ContainsAny(login, ": ") {
		problems["login"] = "required, without spaces or colons"
	}
	if strings.TrimSpace(name) == "" {
		problems["name"] = "required"
	}
	if len(problems) > 0 {
		return nil, ValidationError(problems)
	}

	password, err := GenerateAppPassword()
	if err != nil {
		return nil, fmt.Errorf("generate app password: %w", err)
	}
	hash, err := HashAppPassword(password, m.argon2)
	if err != nil {
		return nil, fmt.Errorf("hash app password: %w", err)
	}
	rec := &store.AppPasswordRecord{
		ID:        m.newTokenID(),
		UserID:    userID,
		Login:     login,
		Name:      name,
		Hash:      hash,
		Roles:     slices.Clone(roles),
		CreatedAt: m.jwt.clock.Now(),
	}
	if err := m.store.CreateAppPassword(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist app password: %w", err)
	}
	m.ins.Logger.Info(ctx, "application password created",
		observe.F("password_id", rec.ID), observe.F("user_id", userID))
	return &CreatedAppPassword{Password: FormatAppPassword(password), Record: rec.Clone()}, nil
}
