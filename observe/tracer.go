package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Operation describes an auth operation for telemetry.
type Operation struct {
	Name   string // authenticate, refresh, issue, revoke, ...
	Method string // jwt, api_key, app_password (optional)
	UserID string // optional
}

// SpanName returns the deterministic span name: auth.<name>.
func (o Operation) SpanName() string {
	return "auth." + o.Name
}

func (o Operation) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("auth.operation", o.Name)}
	if o.Method != "" {
		attrs = append(attrs, attribute.String("auth.method", o.Method))
	}
	if o.UserID != "" {
		attrs = append(attrs, attribute.String("enduser.id", o.UserID))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing for auth operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, op Operation) (context.Context, trace.Span)

	// EndSpan ends the span. kind is the auth error kind, empty on success.
	EndSpan(span trace.Span, kind string, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, op Operation) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, op.SpanName(),
		trace.WithAttributes(op.attributes()...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, kind string, err error) {
	switch {
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	case kind != "":
		// Expected denials are not span errors.
		span.SetAttributes(attribute.String("auth.error_kind", kind))
		span.SetStatus(codes.Unset, "")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func newNoopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
