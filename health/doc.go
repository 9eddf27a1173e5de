// Package health reports whether the auth service's backends are reachable.
//
// Each backend (token store, rate limiter, revocation cache) is wrapped in a
// Checker, usually a PingChecker. An Aggregator runs all checkers in
// parallel under a shared timeout and folds their results into one Status:
// unhealthy if any check failed, degraded if any check was slow.
//
// The HTTP handlers expose the conventional probes:
//
//	/healthz  liveness: the process is serving
//	/readyz   readiness: every backend answered
//	/health   detailed JSON report
package health
