package auth

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

// RequestAuthenticator resolves the identity behind a request. *Service
// implements it.
type RequestAuthenticator interface {
	Authenticate(ctx context.Context, req *AuthRequest) (*Identity, error)
}

// RequestFromHTTP builds an AuthRequest from r.
func RequestFromHTTP(r *http.Request) *AuthRequest {
	return &AuthRequest{
		Headers:    r.Header,
		Query:      r.URL.Query(),
		RemoteAddr: r.RemoteAddr,
	}
}

// Middleware authenticates every request and stores the identity in the
// request context. Failures are rendered with WriteError.
//
// Usage:
//
//	mux.Handle("/api/", auth.Middleware(svc)(apiHandler))
func Middleware(authn RequestAuthenticator) func(http.Handler) http.Handler {
	return middleware(authn, false)
}

// LeaseMiddleware is Middleware for lease-sensitive routes: bearer tokens
// must also have been issued, or rotated, within the lease TTL.
func LeaseMiddleware(authn RequestAuthenticator) func(http.Handler) http.Handler {
	return middleware(authn, true)
}

func middleware(authn RequestAuthenticator, lease bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := RequestFromHTTP(r)
			req.Lease = lease
			id, err := authn.Authenticate(r.Context(), req)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAction authorizes action for the identity in the request context.
// owner returns the owner of the addressed resource and may be nil.
func RequireAction(authz Authorizer, action Action, owner func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				WriteError(w, newError(KindMissing, "authentication required"))
				return
			}
			req := &AuthzRequest{Subject: id, Action: action}
			if owner != nil {
				req.OwnerID = owner(r)
			}
			if err := authz.Authorize(r.Context(), req); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorBody is the JSON body written by WriteError.
type ErrorBody struct {
	Code       ErrorKind         `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	RetryAfter int               `json:"retry_after,omitempty"`
}

// WriteError renders err as JSON with the status of its kind. Internal
// errors get a generic message.
func WriteError(w http.ResponseWriter, err error) {
	ae := AsError(err)
	if ae == nil {
		ae = newError(KindInternal, KindInternal.defaultMessage())
	}
	body := ErrorBody{Code: ae.Kind, Message: ae.Message, Fields: ae.Fields}
	if ae.Kind == KindInternal {
		body.Message = KindInternal.defaultMessage()
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	switch ae.Kind {
	case KindMissing, KindInvalid, KindExpired, KindRevoked:
		h.Set("WWW-Authenticate", `Bearer realm="api"`)
	case KindRateLimited:
		seconds := int(math.Ceil(ae.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		h.Set("Retry-After", strconv.Itoa(seconds))
		body.RetryAfter = seconds
	}
	w.WriteHeader(ae.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}
