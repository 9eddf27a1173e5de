package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// TokenConfig configures token issuance and rotation.
type TokenConfig struct {
	// AccessTTL is the lifetime of access tokens.
	// Default: 1 hour
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh tokens.
	// Default: 30 days
	RefreshTTL time.Duration

	// RefreshGrace is how long after a rotation a replay of the rotated
	// refresh token is treated as a client retry and answered with the
	// successor pair. Zero disables retries.
	// Default: 5 seconds (see DefaultTokenConfig)
	RefreshGrace time.Duration

	// RevokeOnReuse revokes every token of the user when a rotated refresh
	// token is replayed outside the grace period.
	// Default: true (see DefaultTokenConfig)
	RevokeOnReuse bool

	// RetentionGrace is how long expired token records are kept before
	// Sweep deletes them.
	// Default: 24 hours
	RetentionGrace time.Duration
}

// DefaultTokenConfig returns the default token settings.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		AccessTTL:      time.Hour,
		RefreshTTL:     30 * 24 * time.Hour,
		RefreshGrace:   5 * time.Second,
		RevokeOnReuse:  true,
		RetentionGrace: 24 * time.Hour,
	}
}

func (c *TokenConfig) applyDefaults() {
	d := DefaultTokenConfig()
	if c.AccessTTL <= 0 {
		c.AccessTTL = d.AccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = d.RefreshTTL
	}
	if c.RefreshGrace < 0 {
		c.RefreshGrace = 0
	}
	if c.RetentionGrace <= 0 {
		c.RetentionGrace = d.RetentionGrace
	}
}

// TokenPair is an access token and the refresh token issued with it.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`

	// AccessID and RefreshID are the token ids (jti).
	AccessID  string `json:"-"`
	RefreshID string `json:"-"`
}

// TokenManager issues, rotates and revokes credentials. It is the only
// component that mutates credential records.
type TokenManager struct {
	config     TokenConfig
	jwt        *JWTAuthenticator
	store      store.Store
	apiKeys    APIKeyConfig
	argon2     Argon2Params
	ins        *observe.Instrumentation
	newTokenID func() string
}

// NewTokenManager creates a token manager. jwt supplies the signing keys,
// claims configuration and clock.
func NewTokenManager(config TokenConfig, jwt *JWTAuthenticator, st store.Store, apiKeys APIKeyConfig, passwords AppPasswordConfig, ins *observe.Instrumentation) *TokenManager {
	config.applyDefaults()
	apiKeys.applyDefaults()
	passwords.Argon2.applyDefaults()
	return &TokenManager{
		config:     config,
		jwt:        jwt,
		store:      st,
		apiKeys:    apiKeys,
		argon2:     passwords.Argon2,
		ins:        observe.OrNopInstrumentation(ins),
		newTokenID: uuid.NewString,
	}
}

func (m *TokenManager) now() time.Time {
	// Token timestamps have second precision on the wire.
	return m.jwt.clock.Now().UTC().Truncate(time.Second)
}

// IssueTokens starts a new session for userID and returns its first token
// pair. Both records are persisted before the tokens are returned.
func (m *TokenManager) IssueTokens(ctx context.Context, userID string, roles []string) (*TokenPair, error) {
	if userID == "" {
		return nil, ValidationError(map[string]string{"user_id": "required"})
	}
	now := m.now()
	access, refresh := m.newPair(userID, roles, m.newTokenID(), now)

	if err := m.store.CreateTokens(ctx, access, refresh); err != nil {
		return nil, fmt.Errorf("persist tokens: %w", err)
	}
	pair, err := m.mint(access, refresh)
	if err != nil {
		return nil, err
	}
	m.ins.Metrics.RecordTokens(ctx, observe.TokensIssued, 2)
	return pair, nil
}

func (m *TokenManager) newPair(userID string, roles []string, sessionID string, now time.Time) (access, refresh *store.TokenRecord) {
	access = &store.TokenRecord{
		ID:        m.newTokenID(),
		UserID:    userID,
		Type:      store.TokenAccess,
		SessionID: sessionID,
		Roles:     roles,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.config.AccessTTL),
	}
	refresh = &store.TokenRecord{
		ID:        m.newTokenID(),
		UserID:    userID,
		Type:      store.TokenRefresh,
		SessionID: sessionID,
		Roles:     roles,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.config.RefreshTTL),
	}
	access.PairID, refresh.PairID = refresh.ID, access.ID
	return access.Clone(), refresh.Clone()
}

func (m *TokenManager) mint(access, refresh *store.TokenRecord) (*TokenPair, error) {
	accessToken, err := m.jwt.signRecord(access)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := m.jwt.signRecord(refresh)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        access.SessionID,
		AccessID:         access.ID,
		RefreshID:        refresh.ID,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token
// can be exchanged once; see TokenConfig.RefreshGrace for retries.
func (m *TokenManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ValidationError(map[string]string{"refresh_token": "required"})
	}
	claims, authErr := m.jwt.parse(refreshToken)
	if authErr != nil {
		return nil, authErr
	}
	if claims.Type != store.TokenRefresh {
		return nil, newError(KindInvalid, "not a refresh token")
	}

	rec, err := m.store.GetToken(ctx, claims.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(KindRevoked, "refresh token is not active")
	case err != nil:
		return nil, fmt.Errorf("refresh token lookup: %w", err)
	}
	if rec.Type != store.TokenRefresh || rec.UserID != claims.Subject {
		return nil, newError(KindInvalid, "token does not match its record")
	}
	if rec.Revoked() {
		return m.replay(ctx, rec)
	}

	now := m.now()
	access, refresh := m.newPair(rec.UserID, rec.Roles, rec.SessionID, now)
	err = m.store.RotateRefresh(ctx, rec.ID, now, []*store.TokenRecord{access, refresh})
	switch {
	case errors.Is(err, store.ErrAlreadyRotated):
		// Lost a race with a concurrent exchange.
		current, getErr := m.store.GetToken(ctx, rec.ID)
		if getErr != nil {
			return nil, fmt.Errorf("refresh token lookup: %w", getErr)
		}
		return m.replay(ctx, current)
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(KindRevoked, "refresh token is not active")
	case err != nil:
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	pair, err := m.mint(access, refresh)
	if err != nil {
		return nil, err
	}
	m.ins.Metrics.RecordTokens(ctx, observe.TokensRefreshed, 1)
	return pair, nil
}

// replay handles a refresh token that is already revoked. A retry within
// the grace period gets the successor pair; anything else is reuse. A
// failed successor lookup is reported as such and never treated as reuse.
func (m *TokenManager) replay(ctx context.Context, rec *store.TokenRecord) (*TokenPair, error) {
	now := m.jwt.clock.Now()
	pair, err := m.successorPair(ctx, rec, now)
	if err != nil {
		return nil, err
	}
	if pair != nil {
		m.ins.Logger.Info(ctx, "refresh retried within grace period",
			observe.F("user_id", rec.UserID), observe.F("session_id", rec.SessionID))
		return pair, nil
	}

	m.ins.Logger.Warn(ctx, "revoked refresh token presented",
		observe.F("user_id", rec.UserID),
		observe.F("session_id", rec.SessionID),
		observe.F("revoke_reason", rec.RevokeReason))
	if m.config.RevokeOnReuse {
		n, err := m.store.RevokeUserTokens(ctx, rec.UserID, store.ReasonCompromised, now)
		if err != nil {
			return nil, fmt.Errorf("revoke compromised tokens: %w", err)
		}
		m.ins.Metrics.RecordTokens(ctx, observe.TokensRevoked, n)
	}
	return nil, newError(KindRevoked, "refresh token has already been used")
}

// successorPair returns the pair that replaced rec, or nil when there is
// none to hand out: rec was not rotated, the grace period is over, or the
// successor is gone, revoked or expired.
func (m *TokenManager) successorPair(ctx context.Context, rec *store.TokenRecord, now time.Time) (*TokenPair, error) {
	if rec.RevokeReason != store.ReasonRotated || rec.SuccessorID == "" {
		return nil, nil
	}
	if !now.Before(rec.RevokedAt.Add(m.config.RefreshGrace)) {
		return nil, nil
	}
	refresh, err := m.store.GetToken(ctx, rec.SuccessorID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("successor refresh token lookup: %w", err)
	}
	if refresh.Revoked() || refresh.Expired(now) {
		return nil, nil
	}
	access, err := m.store.GetToken(ctx, refresh.PairID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("successor access token lookup: %w", err)
	}
	if access.Revoked() {
		return nil, nil
	}
	return m.mint(access, refresh)
}

// Revoke revokes a token, API key or application password by id.
// Revoking something already revoked succeeds.
func (m *TokenManager) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return ValidationError(map[string]string{"id": "required"})
	}
	now := m.jwt.clock.Now()

	err := m.store.RevokeToken(ctx, id, store.ReasonLogout, now)
	if errors.Is(err, store.ErrNotFound) {
		err = m.store.RevokeAPIKey(ctx, id, now)
	}
	if errors.Is(err, store.ErrNotFound) {
		err = m.store.RevokeAppPassword(ctx, id, now)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ValidationError(map[string]string{"id": "no credential with this id"})
	case err != nil:
		return fmt.Errorf("revoke %s: %w", id, err)
	}
	m.ins.Metrics.RecordTokens(ctx, observe.TokensRevoked, 1)
	return nil
}

// RevokeSession revokes every active token of a session.
func (m *TokenManager) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, ValidationError(map[string]string{"session_id": "required"})
	}
	n, err := m.store.RevokeSession(ctx, sessionID, store.ReasonLogout, m.jwt.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("revoke session: %w", err)
	}
	m.ins.Metrics.RecordTokens(ctx, observe.TokensRevoked, n)
	return n, nil
}

// RevokeUser revokes every active token of a user.
func (m *TokenManager) RevokeUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ValidationError(map[string]string{"user_id": "required"})
	}
	n, err := m.store.RevokeUserTokens(ctx, userID, store.ReasonAdmin, m.jwt.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	m.ins.Metrics.RecordTokens(ctx, observe.TokensRevoked, n)
	return n, nil
}

// Sweep deletes token records that expired more than RetentionGrace ago.
func (m *TokenManager) Sweep(ctx context.Context) (int, error) {
	cutoff := m.jwt.clock.Now().Add(-m.config.RetentionGrace)
	n, err := m.store.DeleteExpiredTokens(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep tokens: %w", err)
	}
	return n, nil
}
