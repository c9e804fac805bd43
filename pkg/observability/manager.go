package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the process-wide tracer provider and metrics registry and
// gives the runtime (C8) a single lifecycle object to start and stop.
type Manager struct {
	provider trace.TracerProvider
	metrics  *Metrics
	shutdown func(context.Context) error
}

// NewManager initializes tracing and metrics from cfg and registers the
// metric series against reg (pass nil to use prometheus.DefaultRegisterer).
func NewManager(ctx context.Context, cfg TracerConfig, reg prometheus.Registerer) (*Manager, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	provider, err := InitGlobalTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: init tracer: %w", err)
	}

	metrics := NewMetrics(reg)
	SetGlobalMetrics(metrics)

	shutdown := func(context.Context) error { return nil }
	if sdkProvider, ok := provider.(*sdktrace.TracerProvider); ok {
		shutdown = sdkProvider.Shutdown
	}

	return &Manager{
		provider: provider,
		metrics:  metrics,
		shutdown: shutdown,
	}, nil
}

// Tracer returns a named tracer backed by the manager's provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	return m.provider.Tracer(name)
}

// Metrics returns the process-wide metric series.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Shutdown flushes and stops the tracer provider. Safe to call even when
// tracing was disabled (a no-op provider has no SDK shutdown hook).
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}
