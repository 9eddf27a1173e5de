// Package cache provides the byte-oriented cache consumed by the auth
// core, with an unbounded map implementation and a bounded ristretto one.
//
// The auth core only caches facts that cannot change once observed, such as
// a token or API key having been revoked, so a stale entry can never grant
// access that the store would refuse.
package cache
