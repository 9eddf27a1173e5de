// Package config loads the authd YAML configuration.
//
// Load reads a file over Default, so every key is optional. Durations
// accept Go duration strings ("15m") or integer seconds (900). Values of
// jwt.private_key, jwt.public_key, storage.redis.password and
// storage.postgres.dsn may be secret references, resolved once at load:
//
//	jwt:
//	  private_key: secretref:file:/run/secrets/jwt.pem
//	storage:
//	  postgres:
//	    dsn: postgres://auth:${PGPASSWORD}@db/auth
//
// Watcher reloads the file when it changes. Only settings that can be
// swapped at runtime (the role policy) are applied by the server on
// reload.
package config
