package observe

import (
	"context"
	"errors"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing service", Config{}, ErrMissingServiceName},
		{"bad tracing exporter", Config{ServiceName: "authd", Tracing: TracingConfig{Enabled: true, Exporter: "zipkin"}}, ErrInvalidTracingExporter},
		{"bad sample pct", Config{ServiceName: "authd", Tracing: TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.5}}, ErrInvalidSamplePct},
		{"bad metrics exporter", Config{ServiceName: "authd", Metrics: MetricsConfig{Enabled: true, Exporter: "statsd"}}, ErrInvalidMetricsExporter},
		{"bad log level", Config{ServiceName: "authd", Logging: LoggingConfig{Enabled: true, Level: "trace"}}, ErrInvalidLogLevel},
		{"disabled ignores values", Config{ServiceName: "authd", Tracing: TracingConfig{Exporter: "zipkin"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewObserver_Disabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "authd"})
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}
	if obs.Tracer() == nil || obs.Meter() == nil || obs.Logger() == nil {
		t.Fatal("expected non-nil telemetry primitives")
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewObserver_PrometheusInstrumentation(t *testing.T) {
	reg := promclient.NewRegistry()
	obs, err := NewObserver(context.Background(), Config{
		ServiceName: "authd",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "prometheus", Registerer: reg},
	})
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}
	defer obs.Shutdown(context.Background())

	in, err := NewInstrumentation(obs)
	if err != nil {
		t.Fatalf("NewInstrumentation failed: %v", err)
	}
	in.Metrics.RecordTokens(context.Background(), TokensIssued, 2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "auth_tokens") {
			found = true
		}
	}
	if !found {
		t.Error("auth.tokens not exported to Prometheus")
	}
}
