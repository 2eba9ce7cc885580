package tracer

import (
	"context"
	"io"
	"os"

	"github.com/stleox/tracepost/pkg/config"
	"go.opentelemetry.io/otel/propagation"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	tr "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerManager owns the TracerProvider of one tracepost process.
// It is created by the command, handed to the components that emit spans,
// and shut down by the command before it returns.
type TracerManager struct {
	ShutdownCtx context.Context

	// ExportWriter receives spans when the stdout exporter is selected.
	ExportWriter io.Writer

	cfg *config.Config

	tracerProvider *sdktr.TracerProvider

	propagator propagation.TextMapPropagator
}

func NewTracerManager(cfg *config.Config) *TracerManager {
	if cfg == nil {
		cfg = &config.Config{ServiceName: config.DefaultServiceName}
	}
	return &TracerManager{
		ShutdownCtx:  context.Background(),
		ExportWriter: os.Stderr,
		cfg:          cfg,
		propagator:   propagation.TraceContext{},
	}
}

// Tracer returns a named tracer. Before an exporter is initialized it
// returns a no-op tracer, so callers never need a nil check.
func (tm *TracerManager) Tracer(name string) tr.Tracer {
	if tm.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return tm.tracerProvider.Tracer(name)
}

func (tm *TracerManager) Propagator() propagation.TextMapPropagator {
	return tm.propagator
}

// Shutdown flushes pending spans and stops the provider. It blocks until
// the exporter confirms or ctx expires.
func (tm *TracerManager) Shutdown(ctx context.Context) error {
	if tm.tracerProvider == nil {
		return nil
	}
	return tm.tracerProvider.Shutdown(ctx)
}
