package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Token lifecycle events recorded by Metrics.RecordTokens.
const (
	TokensIssued    = "issued"
	TokensRefreshed = "refreshed"
	TokensRevoked   = "revoked"
)

// Metrics records auth outcomes.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAuthentication records one authentication attempt. kind is the
	// failure kind, empty on success.
	RecordAuthentication(ctx context.Context, method, kind string, duration time.Duration)

	// RecordTokens records n tokens passing through a lifecycle event.
	RecordTokens(ctx context.Context, event string, n int)

	// RecordRateLimited records a rate limit denial on a layer.
	RecordRateLimited(ctx context.Context, layer string, banned bool)
}

type metricsImpl struct {
	attempts     metric.Int64Counter
	failures     metric.Int64Counter
	durationHist metric.Float64Histogram
	tokens       metric.Int64Counter
	denied       metric.Int64Counter
}

// NewMetrics creates Metrics backed by meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	attempts, err := meter.Int64Counter(
		"auth.attempts",
		metric.WithDescription("Authentication attempts by method and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"auth.failures",
		metric.WithDescription("Authentication failures by error kind"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"auth.duration_ms",
		metric.WithDescription("Authentication latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	tokens, err := meter.Int64Counter(
		"auth.tokens",
		metric.WithDescription("Tokens issued, refreshed or revoked"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	denied, err := meter.Int64Counter(
		"ratelimit.denied",
		metric.WithDescription("Requests denied by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		attempts:     attempts,
		failures:     failures,
		durationHist: durationHist,
		tokens:       tokens,
		denied:       denied,
	}, nil
}

func (m *metricsImpl) RecordAuthentication(ctx context.Context, method, kind string, duration time.Duration) {
	outcome := "success"
	if kind != "" {
		outcome = "failure"
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.method", method),
		attribute.String("auth.outcome", outcome),
	))
	if kind != "" {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("auth.error_kind", kind)))
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000,
		metric.WithAttributes(attribute.String("auth.method", method)))
}

func (m *metricsImpl) RecordTokens(ctx context.Context, event string, n int) {
	if n <= 0 {
		return
	}
	m.tokens.Add(ctx, int64(n), metric.WithAttributes(attribute.String("token.event", event)))
}

func (m *metricsImpl) RecordRateLimited(ctx context.Context, layer string, banned bool) {
	m.denied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ratelimit.layer", layer),
		attribute.Bool("ratelimit.banned", banned),
	))
}

type noopMetrics struct{}

func (noopMetrics) RecordAuthentication(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordTokens(context.Context, string, int)                           {}
func (noopMetrics) RecordRateLimited(context.Context, string, bool)                     {}

// OrNopMetrics returns m, or a no-op Metrics when m is nil.
func OrNopMetrics(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
