package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubProvider struct {
	name   string
	values map[string]string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := s.values[ref]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		ref      string
		ok       bool
	}{
		{"secretref:env:JWT_KEY", "env", "JWT_KEY", true},
		{"secretref:file:/run/secrets/a:b", "file", "/run/secrets/a:b", true},
		{"secretref:env:", "", "", false},
		{"secretref::x", "", "", false},
		{"not-a-secretref", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			provider, ref, ok := ParseSecretRef(tt.in)
			if provider != tt.provider || ref != tt.ref || ok != tt.ok {
				t.Errorf("ParseSecretRef() = %q, %q, %v", provider, ref, ok)
			}
		})
	}
}

func TestResolver_ResolveValue(t *testing.T) {
	t.Setenv("STAGE", "prod")
	r := NewResolver(&stubProvider{name: "stub", values: map[string]string{
		"prod/dsn": "postgres://db",
		"blank":    "",
	}})
	ctx := context.Background()

	got, err := r.ResolveValue(ctx, "secretref:stub:${STAGE}/dsn")
	if err != nil || got != "postgres://db" {
		t.Errorf("ResolveValue() = %q, %v", got, err)
	}

	got, err = r.ResolveValue(ctx, "literal-${STAGE}")
	if err != nil || got != "literal-prod" {
		t.Errorf("ResolveValue(literal) = %q, %v", got, err)
	}

	if _, err := r.ResolveValue(ctx, "secretref:vault:x"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("unknown provider error = %v", err)
	}
	if _, err := r.ResolveValue(ctx, "secretref:stub:blank"); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty value error = %v", err)
	}
	if _, err := r.ResolveValue(ctx, "secretref:stub:none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing value error = %v", err)
	}

	var nilResolver *Resolver
	if got, err := nilResolver.ResolveValue(ctx, "${STAGE}"); err != nil || got != "prod" {
		t.Errorf("nil resolver = %q, %v", got, err)
	}
}

func TestResolver_Builtins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "key.pem"), []byte("-----BEGIN KEY-----\nabc\n-----END KEY-----\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_PASSWORD", "hunter2")
	r := Default(dir)
	ctx := context.Background()

	got, err := r.ResolveValue(ctx, "secretref:file:key.pem")
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if !strings.HasPrefix(got, "-----BEGIN KEY-----") || strings.HasSuffix(got, "\n") {
		t.Errorf("file value = %q", got)
	}

	got, err = r.ResolveValue(ctx, "secretref:env:REDIS_PASSWORD")
	if err != nil || got != "hunter2" {
		t.Errorf("env = %q, %v", got, err)
	}

	if _, err := r.ResolveValue(ctx, "secretref:file:missing.pem"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestResolver_ResolveFields(t *testing.T) {
	t.Setenv("DSN", "postgres://secret")
	dsn, empty := "${DSN}", ""
	broken := "secretref:env:NOPE_NOT_SET"

	r := Default("")
	if err := r.ResolveFields(context.Background(), map[string]*string{"dsn": &dsn, "empty": &empty}); err != nil {
		t.Fatalf("ResolveFields() error = %v", err)
	}
	if dsn != "postgres://secret" || empty != "" {
		t.Errorf("dsn = %q, empty = %q", dsn, empty)
	}

	err := r.ResolveFields(context.Background(), map[string]*string{"jwt.private_key": &broken})
	if err == nil || !strings.Contains(err.Error(), "jwt.private_key") {
		t.Errorf("error = %v, want field name", err)
	}
}
