package observe

import (
	"context"
	"time"
)

// Instrumentation bundles the tracer, metrics and logger used by auth
// components. A nil *Instrumentation is valid and records nothing.
type Instrumentation struct {
	Tracer  Tracer
	Metrics Metrics
	Logger  Logger
}

// NewInstrumentation derives auth instrumentation from an Observer.
func NewInstrumentation(obs Observer) (*Instrumentation, error) {
	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return &Instrumentation{
		Tracer:  NewTracer(obs.Tracer()),
		Metrics: metrics,
		Logger:  obs.Logger(),
	}, nil
}

// Nop returns instrumentation that records nothing.
func Nop() *Instrumentation {
	return &Instrumentation{Tracer: newNoopTracer(), Metrics: noopMetrics{}, Logger: NopLogger()}
}

// OrNopInstrumentation fills nil members of in with no-ops.
func OrNopInstrumentation(in *Instrumentation) *Instrumentation {
	nop := Nop()
	if in == nil {
		return nop
	}
	out := *in
	if out.Tracer == nil {
		out.Tracer = nop.Tracer
	}
	if out.Metrics == nil {
		out.Metrics = nop.Metrics
	}
	if out.Logger == nil {
		out.Logger = nop.Logger
	}
	return &out
}

// Outcome is what an instrumented call reports back: the auth error kind
// for expected denials, or an unexpected error. Method and UserID, when
// set, refine the Operation once they are known.
type Outcome struct {
	Kind   string
	Err    error
	Method string
	UserID string
}

// Observe runs fn inside a span, then logs and records the outcome. Only
// the authenticate operation feeds the attempt metrics; other operations
// record their own counters.
func (in *Instrumentation) Observe(ctx context.Context, op Operation, fn func(context.Context) Outcome) Outcome {
	in = OrNopInstrumentation(in)
	ctx, span := in.Tracer.StartSpan(ctx, op)
	start := time.Now()

	out := fn(ctx)
	if out.Method != "" {
		op.Method = out.Method
	}
	if out.UserID != "" {
		op.UserID = out.UserID
	}

	duration := time.Since(start)
	in.Tracer.EndSpan(span, out.Kind, out.Err)
	if op.Name == "authenticate" {
		in.Metrics.RecordAuthentication(ctx, op.Method, out.Kind, duration)
	}

	fields := []Field{
		F("operation", op.Name),
		F("duration_ms", float64(duration.Microseconds())/1000),
	}
	if op.Method != "" {
		fields = append(fields, F("method", op.Method))
	}
	if op.UserID != "" {
		fields = append(fields, F("user_id", op.UserID))
	}
	switch {
	case out.Err != nil:
		in.Logger.Error(ctx, "auth operation failed", append(fields, F("error", out.Err))...)
	case out.Kind != "":
		in.Logger.Info(ctx, "auth operation denied", append(fields, F("kind", out.Kind))...)
	default:
		in.Logger.Debug(ctx, "auth operation completed", fields...)
	}
	return out
}
