package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{KindMissing, http.StatusUnauthorized},
		{KindInvalid, http.StatusUnauthorized},
		{KindExpired, http.StatusUnauthorized},
		{KindRevoked, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindValidation, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
		{ErrorKind("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestError_MatchesSentinel(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		sentinel error
	}{
		{KindMissing, ErrMissingCredentials},
		{KindInvalid, ErrInvalidCredentials},
		{KindExpired, ErrTokenExpired},
		{KindRevoked, ErrTokenRevoked},
		{KindForbidden, ErrForbidden},
		{KindRateLimited, ErrRateLimited},
		{KindValidation, ErrValidation},
		{KindInternal, ErrInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", newError(tt.kind, "x"))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			if errors.Is(err, ErrInternal) && tt.kind != KindInternal {
				t.Errorf("%s unexpectedly matches ErrInternal", tt.kind)
			}
		})
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &Error{Kind: KindInternal, Message: "internal error", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got := err.Error(); got != "auth: INTERNAL: internal error: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAsError(t *testing.T) {
	ae := newError(KindExpired, "token expired")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"auth error", ae, KindExpired},
		{"wrapped auth error", fmt.Errorf("ctx: %w", ae), KindExpired},
		{"authz error", &AuthzError{Subject: "42", Action: ActionDelete, Reason: "role denies delete"}, KindForbidden},
		{"sentinel", fmt.Errorf("lookup: %w", ErrTokenRevoked), KindRevoked},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsError(tt.err)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("AsError(nil) = %v, want nil", got)
				}
				return
			}
			if got.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.want)
			}
			if got.Message == "" {
				t.Error("Message is empty")
			}
		})
	}

	if got := AsError(ae); got != ae {
		t.Error("AsError(*Error) did not pass the value through")
	}
	if got := AsError(errors.New("dial tcp 10.0.0.5:5432: timeout")); got.Message != "internal server error" {
		t.Errorf("internal message = %q, want generic", got.Message)
	}
}

func TestValidationError(t *testing.T) {
	fields := map[string]string{"user_id": "required"}
	err := ValidationError(fields)
	fields["user_id"] = "changed"

	if err.Kind != KindValidation || err.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("ValidationError = %+v", err)
	}
	if err.Fields["user_id"] != "required" {
		t.Errorf("Fields = %v, want a copy of the input", err.Fields)
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("errors.Is(err, ErrValidation) = false")
	}
}
