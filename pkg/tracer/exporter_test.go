package tracer

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stleox/tracepost/pkg/config"
	r "github.com/stretchr/testify/require"
)

func TestExporter_tracesURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no path", "https://apm.example.com", "https://apm.example.com/v1/traces"},
		{"slash", "https://apm.example.com/", "https://apm.example.com/v1/traces"},
		{"prefix", "http://localhost:4318/otlp/", "http://localhost:4318/otlp/v1/traces"},
		{"already set", "http://localhost:4318/v1/traces", "http://localhost:4318/v1/traces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			r.NoError(t, err)
			r.Equal(t, tt.want, tracesURL(u))
		})
	}
}

func TestExporter_authHeaders(t *testing.T) {
	r.Equal(t, map[string]string{"Authorization": "Bearer s3cr3t"}, authHeaders("s3cr3t"))
}

func TestExporter_InitExporter_Stdout(t *testing.T) {
	tm := NewTracerManager(&config.Config{
		CollectorEndpoint: "localhost:4318",
		CollectorToken:    "token",
		Exporter:          config.ExporterStdout,
		ServiceName:       "tracepost-test",
	})
	buf := &bytes.Buffer{}
	tm.ExportWriter = buf

	shutdown, err := tm.InitExporter(context.Background())
	r.NoError(t, err)

	_, span := tm.Tracer("test").Start(context.Background(), "stdout-span")
	span.End()

	r.NoError(t, shutdown(context.Background()))
	r.Contains(t, buf.String(), "stdout-span")
	r.Contains(t, buf.String(), "tracepost-test")
}

func TestExporter_InitExporter_HTTP(t *testing.T) {
	tm := NewTracerManager(&config.Config{
		CollectorEndpoint: "http://127.0.0.1:4318",
		CollectorToken:    "token",
		Exporter:          config.ExporterOTLPHTTP,
		ServiceName:       "tracepost-test",
	})

	// the exporter connects lazily, so creating it needs no collector
	shutdown, err := tm.InitExporter(context.Background())
	r.NoError(t, err)
	r.NotNil(t, shutdown)
	r.NotNil(t, tm.tracerProvider)
}

func TestExporter_InitExporter_GRPC(t *testing.T) {
	tm := NewTracerManager(&config.Config{
		CollectorEndpoint: "http://127.0.0.1:4317",
		CollectorToken:    "token",
		Exporter:          config.ExporterOTLPGRPC,
		ServiceName:       "tracepost-test",
	})

	// grpc dials lazily as well
	shutdown, err := tm.InitExporter(context.Background())
	r.NoError(t, err)
	r.NotNil(t, shutdown)
	r.NotNil(t, tm.tracerProvider)
}

func TestExporter_InitExporter_Unknown(t *testing.T) {
	tm := NewTracerManager(&config.Config{Exporter: "zipkin"})

	_, err := tm.InitExporter(context.Background())
	r.ErrorIs(t, err, config.ErrConfiguration)
}

func TestTracerManager_NoopBeforeInit(t *testing.T) {
	tm := NewTracerManager(nil)

	_, span := tm.Tracer("test").Start(context.Background(), "noop")
	span.End()

	r.False(t, span.SpanContext().IsValid())
	r.NoError(t, tm.Shutdown(context.Background()))
}

func TestTracerManager_Shutdown_DrainsBatch(t *testing.T) {
	tm := NewTracerManager(&config.Config{Exporter: config.ExporterStdout, ServiceName: "tracepost-test"})
	buf := &bytes.Buffer{}
	tm.ExportWriter = buf

	_, err := tm.InitExporter(context.Background())
	r.NoError(t, err)

	_, span := tm.Tracer("test").Start(context.Background(), "batched-span")
	span.End()
	r.Empty(t, buf.String())

	r.NoError(t, tm.Shutdown(context.Background()))
	r.Equal(t, 1, strings.Count(buf.String(), "batched-span"))
}
