package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("PRESENT", "ok")
	t.Setenv("EMPTY", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no variables", "plain", "plain"},
		{"braced", "a=${PRESENT}", "a=ok"},
		{"empty is not missing", "[${EMPTY}]", "[]"},
		{"dollar escape", "$$${PRESENT}", "$ok"},
		{"bare dollar kept", "p4$$word$PRESENT", "p4$word$PRESENT"},
		{"argon2 hash kept", "$argon2id$v=19$m=65536", "$argon2id$v=19$m=65536"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnvStrict(tt.in)
			if err != nil {
				t.Fatalf("ExpandEnvStrict() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvStrict() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnvStrict_MissingVarErrors(t *testing.T) {
	t.Setenv("PRESENT", "ok")

	_, err := ExpandEnvStrict("a=${PRESENT} b=${MISSING_B} c=${MISSING_A} d=${MISSING_B}")
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("error = %v, want ErrMissingEnv", err)
	}
	if !strings.HasSuffix(err.Error(), "MISSING_A, MISSING_B") {
		t.Fatalf("expected sorted unique names in error, got: %v", err)
	}
}
