// Package secret resolves secret references in configuration values.
//
// A value is first expanded strictly against the environment (see
// ExpandEnvStrict). If the result is a reference of the form
//
//	secretref:<provider>:<ref>
//
// it is replaced by the value the named provider returns. Two providers are
// built in:
//   - env:  secretref:env:JWT_PRIVATE_KEY reads an environment variable
//   - file: secretref:file:/run/secrets/jwt.pem reads a file
//
// Secret values are never logged.
package secret
