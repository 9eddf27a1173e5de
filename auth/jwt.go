package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// TokenClaims are the claims carried by issued tokens.
type TokenClaims struct {
	Type      store.TokenType `json:"typ"`
	SessionID string          `json:"sid"`
	Roles     []string        `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Issuer is the iss claim written and required. Empty skips the check.
	Issuer string

	// Audience is the aud claim written and required. Empty skips the check.
	Audience string

	// ClockSkew is tolerated when checking exp.
	// Default: 0
	ClockSkew time.Duration

	// LeaseTTL bounds token age for lease-sensitive requests.
	// Default: 5 minutes
	LeaseTTL time.Duration

	// HeaderName is the header containing the token.
	// Default: "Authorization"
	HeaderName string

	// TokenPrefix is the prefix before the token in the header. It is
	// matched case-insensitively.
	// Default: "Bearer "
	TokenPrefix string
}

// ValidateOptions adjust access token validation.
type ValidateOptions struct {
	// Lease additionally requires the token to have been issued, or
	// superseded by a rotation, less than LeaseTTL ago.
	Lease bool
}

// JWTAuthenticator validates access tokens against their signature, the
// configured issuer and audience, and the token store.
type JWTAuthenticator struct {
	config JWTConfig
	keys   *SigningKeys
	tokens store.TokenStore
	clock  clock.Clock
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a new JWT authenticator. A nil clock uses the
// system clock.
func NewJWTAuthenticator(config JWTConfig, keys *SigningKeys, tokens store.TokenStore, clk clock.Clock) *JWTAuthenticator {
	// Apply defaults
	if config.HeaderName == "" {
		config.HeaderName = "Authorization"
	}
	if config.TokenPrefix == "" {
		config.TokenPrefix = "Bearer "
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = 5 * time.Minute
	}
	clk = clock.OrSystem(clk)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.Algorithm()}),
		jwt.WithTimeFunc(clk.Now),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	if config.ClockSkew > 0 {
		opts = append(opts, jwt.WithLeeway(config.ClockSkew))
	}

	return &JWTAuthenticator{
		config: config,
		keys:   keys,
		tokens: tokens,
		clock:  clk,
		parser: jwt.NewParser(opts...),
	}
}

// Scheme returns AuthMethodJWT.
func (a *JWTAuthenticator) Scheme() AuthMethod { return AuthMethodJWT }

// Supports returns true if the request contains a bearer token.
func (a *JWTAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	_, ok := a.bearer(req)
	return ok
}

func (a *JWTAuthenticator) bearer(req *AuthRequest) (string, bool) {
	header := req.GetHeader(a.config.HeaderName)
	prefix := a.config.TokenPrefix
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// Validate checks the token's signature and registered claims.
func (a *JWTAuthenticator) Validate(_ context.Context, token string) error {
	if _, authErr := a.parse(token); authErr != nil {
		return authErr
	}
	return nil
}

// Authenticate validates the bearer access token.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	token, ok := a.bearer(req)
	if !ok || token == "" {
		return AuthFailure(newError(KindMissing, "bearer token required"), AuthMethodJWT), nil
	}
	return a.ValidateAccess(ctx, token, ValidateOptions{Lease: req.Lease})
}

// ValidateAccess fully validates an access token: signature and claims,
// token type, store revocation state and, if requested, the lease.
func (a *JWTAuthenticator) ValidateAccess(ctx context.Context, token string, opts ValidateOptions) (*AuthResult, error) {
	claims, authErr := a.parse(token)
	if authErr != nil {
		return AuthFailure(authErr, AuthMethodJWT), nil
	}
	if claims.Type != store.TokenAccess {
		return AuthFailure(newError(KindInvalid, "not an access token"), AuthMethodJWT), nil
	}

	rec, err := a.tokens.GetToken(ctx, claims.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return AuthFailure(newError(KindRevoked, "token is not active"), AuthMethodJWT), nil
	case err != nil:
		return nil, fmt.Errorf("jwt: token lookup: %w", err)
	}
	if rec.Revoked() {
		return AuthFailure(newError(KindRevoked, "token has been revoked"), AuthMethodJWT), nil
	}
	if rec.UserID != claims.Subject || rec.Type != store.TokenAccess {
		return AuthFailure(newError(KindInvalid, "token does not match its record"), AuthMethodJWT), nil
	}
	if opts.Lease && !a.leaseValid(rec) {
		return AuthFailure(newError(KindExpired, "token lease expired"), AuthMethodJWT), nil
	}

	return AuthSuccess(newIdentity(rec.UserID, rec.Roles, nil, JWTPrincipal{
		TokenID:   rec.ID,
		SessionID: rec.SessionID,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	})), nil
}

// leaseValid anchors the lease at the rotation that superseded the token,
// or at issuance. It never extends the primary expiry.
func (a *JWTAuthenticator) leaseValid(rec *store.TokenRecord) bool {
	anchor := rec.IssuedAt
	if !rec.SupersededAt.IsZero() {
		anchor = rec.SupersededAt
	}
	return a.clock.Now().Before(anchor.Add(a.config.LeaseTTL))
}

// parse verifies the signature and registered claims.
func (a *JWTAuthenticator) parse(token string) (*TokenClaims, *Error) {
	if token == "" {
		return nil, newError(KindInvalid, "empty token")
	}
	claims := &TokenClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, a.keyFunc)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &Error{Kind: KindExpired, Message: "token expired", Cause: err}
	default:
		return nil, &Error{Kind: KindInvalid, Message: "token is invalid", Cause: err}
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, newError(KindInvalid, "token is missing jti or sub")
	}
	return claims, nil
}

func (a *JWTAuthenticator) keyFunc(token *jwt.Token) (any, error) {
	if kid, _ := token.Header["kid"].(string); a.keys.keyID != "" && kid != a.keys.keyID {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return a.keys.public, nil
}

// sign encodes claims with the private key.
func (a *JWTAuthenticator) sign(claims *TokenClaims) (string, error) {
	if !a.keys.CanSign() {
		return "", ErrNoSigningKey
	}
	token := jwt.NewWithClaims(a.keys.method, claims)
	if a.keys.keyID != "" {
		token.Header["kid"] = a.keys.keyID
	}
	return token.SignedString(a.keys.private)
}

// signRecord mints the token for a stored record. The claims are a pure
// function of the record, so re-minting yields an equivalent token.
func (a *JWTAuthenticator) signRecord(rec *store.TokenRecord) (string, error) {
	claims := &TokenClaims{
		Type:      rec.Type,
		SessionID: rec.SessionID,
		Roles:     rec.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       rec.ID,
			Subject:  rec.UserID,
			Issuer:   a.config.Issuer,
			IssuedAt: jwt.NewNumericDate(rec.IssuedAt),
		},
	}
	if a.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.config.Audience}
	}
	if !rec.ExpiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(rec.ExpiresAt)
	}
	return a.sign(claims)
}

// Ensure JWTAuthenticator implements Authenticator
var _ Authenticator = (*JWTAuthenticator)(nil)

// Ensure JWTAuthenticator implements CredentialValidator
var _ CredentialValidator = (*JWTAuthenticator)(nil)
