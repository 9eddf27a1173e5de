// Package observe provides the logging, metrics and tracing primitives used
// across the auth core.
//
// NewObserver wires OpenTelemetry providers from Config; NewInstrumentation
// derives the auth-specific instruments from an Observer. Components accept
// a Logger or *Instrumentation and fall back to no-ops when given nil, so
// tests never need an observer.
//
// The JSON logger redacts credential-bearing fields (see RedactedFields)
// regardless of level.
package observe
