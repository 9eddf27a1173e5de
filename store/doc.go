// Package store persists token, API-key and application-password records.
//
// Three backends implement Store:
//   - Memory: process-local maps guarded by a mutex (tests, single node)
//   - Redis: JSON records with WATCH/MULTI compare-and-set for rotation
//   - Postgres: database/sql over pgx with goose migrations
//
// Two decorators wrap any Store:
//   - Guarded applies bounded timeouts, retry and a circuit breaker
//   - Cached memoizes revoked records, which never change once revoked,
//     and coalesces concurrent lookups of the same id
//
// Only the token lifecycle manager in package auth mutates records.
package store
