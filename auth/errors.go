package auth

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"
)

// Sentinel errors. Every *Error matches the sentinel for its kind via
// errors.Is.
var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: credentials expired")
	ErrTokenRevoked       = errors.New("auth: credentials revoked")
	ErrForbidden          = errors.New("auth: access denied")
	ErrRateLimited        = errors.New("auth: rate limited")
	ErrValidation         = errors.New("auth: validation failed")
	ErrInternal           = errors.New("auth: internal error")
)

// ErrorKind classifies an auth failure.
type ErrorKind string

const (
	KindMissing     ErrorKind = "AUTH_MISSING"
	KindInvalid     ErrorKind = "AUTH_INVALID"
	KindExpired     ErrorKind = "AUTH_EXPIRED"
	KindRevoked     ErrorKind = "AUTH_REVOKED"
	KindForbidden   ErrorKind = "FORBIDDEN"
	KindRateLimited ErrorKind = "RATE_LIMITED"
	KindValidation  ErrorKind = "VALIDATION_ERROR"
	KindInternal    ErrorKind = "INTERNAL"
)

// HTTPStatus returns the status code a transport should render for k.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindMissing, KindInvalid, KindExpired, KindRevoked:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMissing:
		return ErrMissingCredentials
	case KindInvalid:
		return ErrInvalidCredentials
	case KindExpired:
		return ErrTokenExpired
	case KindRevoked:
		return ErrTokenRevoked
	case KindForbidden:
		return ErrForbidden
	case KindRateLimited:
		return ErrRateLimited
	case KindValidation:
		return ErrValidation
	default:
		return ErrInternal
	}
}

// Error is an auth failure with a kind, a client-safe message and optional
// detail.
type Error struct {
	Kind    ErrorKind
	Message string

	// RetryAfter is set for RATE_LIMITED.
	RetryAfter time.Duration

	// Fields maps input field names to problems for VALIDATION_ERROR.
	Fields map[string]string

	// Cause is the underlying error. It is never shown to clients.
	Cause error
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// HTTPStatus returns the status code for e's kind.
func (e *Error) HTTPStatus() int { return e.Kind.HTTPStatus() }

// ValidationError reports malformed input, keyed by field.
func ValidationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "invalid request", Fields: maps.Clone(fields)}
}

// AsError converts err into an *Error. *Error values and *AuthzError pass
// through with their kind; anything else is INTERNAL with a generic message
// and err kept as the cause. AsError(nil) returns nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var ze *AuthzError
	if errors.As(err, &ze) {
		return &Error{Kind: KindForbidden, Message: ze.Reason, Cause: err}
	}
	for _, kind := range []ErrorKind{KindMissing, KindInvalid, KindExpired, KindRevoked, KindForbidden, KindRateLimited, KindValidation} {
		if errors.Is(err, kind.sentinel()) {
			return &Error{Kind: kind, Message: kind.defaultMessage(), Cause: err}
		}
	}
	return &Error{Kind: KindInternal, Message: KindInternal.defaultMessage(), Cause: err}
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if ae := AsError(err); ae != nil {
		return ae.Kind
	}
	return ""
}

func (k ErrorKind) defaultMessage() string {
	switch k {
	case KindMissing:
		return "authentication required"
	case KindInvalid:
		return "invalid credentials"
	case KindExpired:
		return "credentials expired"
	case KindRevoked:
		return "credentials revoked"
	case KindForbidden:
		return "access denied"
	case KindRateLimited:
		return "too many requests"
	case KindValidation:
		return "invalid request"
	default:
		return "internal server error"
	}
}
