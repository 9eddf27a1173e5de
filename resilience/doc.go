// Package resilience bounds calls to token stores, caches and rate-limit
// backends.
//
// A Guard composes three patterns around each call:
//
//   - Timeout: no backend call blocks past its deadline
//   - Retry: transient failures are retried with jittered backoff
//   - Circuit breaker: a failing backend is short-circuited until it recovers
//
// Callers decide what a failure means. Authentication paths deny on any
// guard error; rate limiting may be configured to fail open.
//
//	guard := resilience.NewGuard(resilience.GuardConfig{
//	    Timeout:     2 * time.Second,
//	    MaxAttempts: 2,
//	    IsTransient: func(err error) bool { return !store.IsPermanent(err) },
//	})
//
//	err := guard.Do(ctx, "store.get_token", func(ctx context.Context) error {
//	    rec, err = backend.GetToken(ctx, id)
//	    return err
//	})
package resilience
