package auth

import (
	"context"
	"net"
	"net/http"
)

// Authenticator is one credential strategy.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines.
// - Errors: Authenticate returns (nil, error) for internal errors;
//   returns (AuthResult, nil) for auth failures (check result.Authenticated).
type Authenticator interface {
	// Scheme returns the method this authenticator handles.
	Scheme() AuthMethod

	// Supports returns true if the request carries a credential of this
	// scheme.
	Supports(ctx context.Context, req *AuthRequest) bool

	// Authenticate validates the credential and resolves an identity.
	Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error)
}

// CredentialValidator checks the syntax and, where the scheme allows it,
// the signature of a raw credential without consulting any store.
type CredentialValidator interface {
	// Validate returns nil if credential is well formed, or an *Error.
	Validate(ctx context.Context, credential string) error
}

// AuthRequest contains the information needed for authentication.
type AuthRequest struct {
	// Headers contains HTTP headers (Authorization, X-API-Key, etc.)
	Headers map[string][]string

	// Query contains URL query parameters.
	Query map[string][]string

	// RemoteAddr is the client address, as host or host:port.
	RemoteAddr string

	// Lease requests the additional lease check on bearer tokens.
	Lease bool
}

// GetHeader returns the first value for a header, or empty string. Keys
// are matched case-insensitively.
func (r *AuthRequest) GetHeader(key string) string {
	if r.Headers == nil {
		return ""
	}
	if values := r.Headers[key]; len(values) > 0 {
		return values[0]
	}
	return http.Header(r.Headers).Get(key)
}

// GetQuery returns the first value of a query parameter, or empty string.
func (r *AuthRequest) GetQuery(key string) string {
	if values := r.Query[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// ClientIP returns the host part of RemoteAddr.
func (r *AuthRequest) ClientIP() string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthResult is the result of an authentication attempt.
type AuthResult struct {
	// Authenticated is true if authentication succeeded.
	Authenticated bool

	// Identity is the authenticated identity (only if Authenticated=true).
	Identity *Identity

	// Error is the failure (only if Authenticated=false).
	Error *Error

	// Method indicates which strategy produced the result.
	Method AuthMethod
}

// AuthSuccess creates a successful authentication result.
func AuthSuccess(identity *Identity) *AuthResult {
	return &AuthResult{
		Authenticated: true,
		Identity:      identity,
		Method:        identity.Method,
	}
}

// AuthFailure creates a failed authentication result.
func AuthFailure(err *Error, method AuthMethod) *AuthResult {
	return &AuthResult{
		Authenticated: false,
		Error:         err,
		Method:        method,
	}
}

// AuthenticatorFunc is an adapter to allow use of ordinary functions as Authenticators.
type AuthenticatorFunc struct {
	scheme   AuthMethod
	supports func(ctx context.Context, req *AuthRequest) bool
	auth     func(ctx context.Context, req *AuthRequest) (*AuthResult, error)
}

// NewAuthenticatorFunc creates an AuthenticatorFunc.
func NewAuthenticatorFunc(
	scheme AuthMethod,
	supports func(ctx context.Context, req *AuthRequest) bool,
	auth func(ctx context.Context, req *AuthRequest) (*AuthResult, error),
) *AuthenticatorFunc {
	return &AuthenticatorFunc{scheme: scheme, supports: supports, auth: auth}
}

// Scheme returns the scheme given at construction.
func (f *AuthenticatorFunc) Scheme() AuthMethod { return f.scheme }

// Supports calls the supports function.
func (f *AuthenticatorFunc) Supports(ctx context.Context, req *AuthRequest) bool {
	return f.supports(ctx, req)
}

// Authenticate calls the auth function.
func (f *AuthenticatorFunc) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	return f.auth(ctx, req)
}
