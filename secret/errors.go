package secret

import "errors"

var (
	// ErrUnknownProvider is returned for references to a provider that is
	// not registered with the Resolver.
	ErrUnknownProvider = errors.New("secret: unknown provider")

	// ErrNotFound is returned when a provider has no value for a reference.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmpty is returned when a reference resolves to an empty value.
	ErrEmpty = errors.New("secret: empty value")

	// ErrMissingEnv is returned by ExpandEnvStrict for unset variables.
	ErrMissingEnv = errors.New("secret: missing environment variables")
)
