package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyRotated is returned by RotateRefresh when the presented
	// refresh token was already exchanged or revoked.
	ErrAlreadyRotated = errors.New("store: refresh token already rotated")

	// ErrDuplicate is returned when a record id or secret hash already exists.
	ErrDuplicate = errors.New("store: duplicate record")

	// ErrUnavailable wraps backend connectivity failures.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// TokenType distinguishes access and refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Revocation reasons recorded on tokens.
const (
	ReasonLogout      = "logout"
	ReasonRotated     = "rotated"
	ReasonCompromised = "compromised"
	ReasonAdmin       = "admin"
)

// TokenRecord is the persisted state of an issued JWT.
type TokenRecord struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Type   TokenType `json:"type"`

	// SessionID groups every token descending from one login.
	SessionID string `json:"session_id"`

	// PairID is the sibling token minted in the same issuance.
	PairID string `json:"pair_id"`

	Roles     []string  `json:"roles"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"` // zero = non-expiring

	RevokedAt    time.Time `json:"revoked_at"`
	RevokeReason string    `json:"revoke_reason,omitempty"`

	// SupersededAt is set on an access token once its refresh sibling
	// has been rotated.
	SupersededAt time.Time `json:"superseded_at"`

	// SuccessorID is the refresh token issued in exchange for this one.
	SuccessorID string `json:"successor_id,omitempty"`
}

// Revoked reports whether the token has been revoked.
func (r *TokenRecord) Revoked() bool { return !r.RevokedAt.IsZero() }

// Expired reports whether the token is expired at now. Expiry is exclusive:
// a token whose expiry equals now is expired.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Clone returns a deep copy.
func (r *TokenRecord) Clone() *TokenRecord {
	c := *r
	c.Roles = slices.Clone(r.Roles)
	return &c
}

// APIKeyRecord is a long-lived credential. Only the SHA-256 hash of the
// secret is stored.
type APIKeyRecord struct {
	ID              string        `json:"id"`
	KeyHash         string        `json:"key_hash"`
	Prefix          string        `json:"prefix"`
	UserID          string        `json:"user_id"`
	Name            string        `json:"name"`
	Scopes          []string      `json:"scopes"`
	Roles           []string      `json:"roles"`
	LastUsed        time.Time     `json:"last_used"`
	LastIP          string        `json:"last_ip,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	RateLimit       int           `json:"rate_limit"`
	RateLimitWindow time.Duration `json:"rate_limit_window"`
	RevokedAt       time.Time     `json:"revoked_at"`
}

// Revoked reports whether the key has been revoked.
func (r *APIKeyRecord) Revoked() bool { return !r.RevokedAt.IsZero() }

// Expired reports whether the key is expired at now.
func (r *APIKeyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Clone returns a deep copy.
func (r *APIKeyRecord) Clone() *APIKeyRecord {
	c := *r
	c.Scopes = slices.Clone(r.Scopes)
	c.Roles = slices.Clone(r.Roles)
	return &c
}

// AppPasswordRecord is an application password used with HTTP Basic auth.
type AppPasswordRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Login     string    `json:"login"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash"` // argon2id PHC string
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	LastIP    string    `json:"last_ip,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Revoked reports whether the password has been revoked.
func (r *AppPasswordRecord) Revoked() bool { return !r.RevokedAt.IsZero() }

// Clone returns a deep copy.
func (r *AppPasswordRecord) Clone() *AppPasswordRecord {
	c := *r
	c.Roles = slices.Clone(r.Roles)
	return &c
}

// TokenStore persists issued tokens and their revocation state.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: RotateRefresh is a compare-and-set; of two concurrent calls
//   for the same refresh token at most one succeeds.
// - Errors: lookups of unknown ids return ErrNotFound.
type TokenStore interface {
	// CreateTokens persists newly issued token records.
	CreateTokens(ctx context.Context, records ...*TokenRecord) error

	// GetToken returns the record with the given id.
	GetToken(ctx context.Context, id string) (*TokenRecord, error)

	// RotateRefresh atomically marks the refresh token oldID as rotated at
	// the given time, supersedes its access sibling and persists next.
	// Returns ErrAlreadyRotated if oldID is already revoked.
	RotateRefresh(ctx context.Context, oldID string, at time.Time, next []*TokenRecord) error

	// RevokeToken marks a token revoked. Revoking a revoked token is a no-op.
	RevokeToken(ctx context.Context, id, reason string, at time.Time) error

	// RevokeSession revokes every active token of a session.
	RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) (int, error)

	// RevokeUserTokens revokes every active token of a user.
	RevokeUserTokens(ctx context.Context, userID, reason string, at time.Time) (int, error)

	// DeleteExpiredTokens removes tokens that expired before cutoff.
	DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int, error)
}

// APIKeyStore persists API keys. Keys are never physically deleted.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error
	GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKeyRecord, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKeyRecord, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error

	// TouchAPIKey records a successful use.
	TouchAPIKey(ctx context.Context, id string, at time.Time, ip string) error
}

// AppPasswordStore persists application passwords.
type AppPasswordStore interface {
	CreateAppPassword(ctx context.Context, rec *AppPasswordRecord) error
	GetAppPassword(ctx context.Context, id string) (*AppPasswordRecord, error)
	ListAppPasswords(ctx context.Context, login string) ([]*AppPasswordRecord, error)
	RevokeAppPassword(ctx context.Context, id string, at time.Time) error
	TouchAppPassword(ctx context.Context, id string, at time.Time, ip string) error
}

// Store is the full persistence surface used by the auth core.
type Store interface {
	TokenStore
	APIKeyStore
	AppPasswordStore

	// Ping checks backend reachability.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// IsPermanent reports whether err is a definitive answer from the store
// rather than a transient failure worth retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyRotated) ||
		errors.Is(err, ErrDuplicate)
}
