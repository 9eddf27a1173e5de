package auth

import (
	"slices"
	"time"
)

// AuthMethod indicates how authentication was performed.
type AuthMethod string

const (
	AuthMethodNone        AuthMethod = "none"
	AuthMethodJWT         AuthMethod = "jwt"
	AuthMethodAPIKey      AuthMethod = "api_key"
	AuthMethodAppPassword AuthMethod = "app_password"
	AuthMethodAnonymous   AuthMethod = "anonymous"
)

// RoleAnonymous is the role of unauthenticated callers.
const RoleAnonymous = "anonymous"

// Principal describes the credential an Identity was derived from. It is
// one of JWTPrincipal, APIKeyPrincipal or AppPasswordPrincipal.
type Principal interface {
	Method() AuthMethod
	principal()
}

// JWTPrincipal is derived from a verified access token.
type JWTPrincipal struct {
	TokenID   string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// APIKeyPrincipal is derived from an API key.
type APIKeyPrincipal struct {
	KeyID           string
	Name            string
	RateLimit       int
	RateLimitWindow time.Duration
}

// AppPasswordPrincipal is derived from an application password.
type AppPasswordPrincipal struct {
	PasswordID string
	Login      string
	Name       string
}

func (JWTPrincipal) Method() AuthMethod         { return AuthMethodJWT }
func (APIKeyPrincipal) Method() AuthMethod      { return AuthMethodAPIKey }
func (AppPasswordPrincipal) Method() AuthMethod { return AuthMethodAppPassword }

func (JWTPrincipal) principal()         {}
func (APIKeyPrincipal) principal()      {}
func (AppPasswordPrincipal) principal() {}

// Identity is the request-scoped result of authentication. It is never
// persisted.
type Identity struct {
	UserID string

	// Roles are the policy roles of the caller.
	Roles []string

	// Scopes narrow what the caller may do. Empty means the full scope of
	// the account.
	Scopes []string

	// Method indicates how authentication was performed.
	Method AuthMethod

	// Principal is nil for anonymous identities.
	Principal Principal
}

// HasRole checks if the identity has a specific role.
func (id *Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

// HasScope reports whether the identity's scopes permit scope.
func (id *Identity) HasScope(scope string) bool {
	if len(id.Scopes) == 0 {
		return true
	}
	return slices.Contains(id.Scopes, scope) || slices.Contains(id.Scopes, "*")
}

// IsAnonymous returns true if this is an anonymous identity.
func (id *Identity) IsAnonymous() bool {
	return id.Method == AuthMethodAnonymous || id.UserID == ""
}

// AnonymousIdentity creates an identity holding only the anonymous role.
func AnonymousIdentity() *Identity {
	return &Identity{
		Roles:  []string{RoleAnonymous},
		Method: AuthMethodAnonymous,
	}
}

func newIdentity(userID string, roles, scopes []string, p Principal) *Identity {
	return &Identity{
		UserID:    userID,
		Roles:     slices.Clone(roles),
		Scopes:    slices.Clone(scopes),
		Method:    p.Method(),
		Principal: p,
	}
}
