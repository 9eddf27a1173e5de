package secret

import (
	"context"
	"fmt"
	"strings"
)

// Resolver resolves environment variables and secret references in
// configuration values.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver over providers. Later providers replace
// earlier ones with the same name.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Default returns a resolver with the env and file providers. Relative
// file references are taken relative to dir.
func Default(dir string) *Resolver {
	return NewResolver(EnvProvider{}, FileProvider{Dir: dir})
}

// ResolveValue expands ${VAR} in value, then resolves it if it is a
// secretref. A nil Resolver only expands the environment.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	providerName, ref, ok := ParseSecretRef(expanded)
	if !ok {
		return expanded, nil
	}
	if r == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	provider, ok := r.providers[providerName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	resolved, err := provider.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", fmt.Errorf("%w: secretref:%s", ErrEmpty, providerName)
	}
	return resolved, nil
}

// ResolveFields resolves each named field in place. Empty fields are left
// alone. Errors name the field, never its value.
func (r *Resolver) ResolveFields(ctx context.Context, fields map[string]*string) error {
	for name, ptr := range fields {
		if ptr == nil || *ptr == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *ptr)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*ptr = v
	}
	return nil
}

// ParseSecretRef parses a full secret reference of the form:
//
//	secretref:<provider>:<ref>
func ParseSecretRef(value string) (provider string, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, "secretref:")
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}
