package tracer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stleox/tracepost/pkg/config"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"google.golang.org/grpc"
)

const (
	tracesPath = "/v1/traces"
	userAgent  = "tracepost"
)

// InitExporter builds the exporter selected by the configuration and
// installs a batching TracerProvider around it.
func (tm *TracerManager) InitExporter(ctx context.Context) (func(context.Context) error, error) {
	switch tm.cfg.Exporter {
	case config.ExporterOTLPGRPC:
		return tm.InitGRPCExporter(ctx)
	case config.ExporterStdout:
		return tm.InitStdoutExporter()
	case config.ExporterOTLPHTTP, "":
		return tm.InitHTTPExporter(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported exporter %q", config.ErrConfiguration, tm.cfg.Exporter)
	}
}

func (tm *TracerManager) InitHTTPExporter(ctx context.Context) (func(context.Context) error, error) {
	u, err := config.CollectorURL(tm.cfg.CollectorEndpoint)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(tracesURL(u)),
		otlptracehttp.WithHeaders(authHeaders(tm.cfg.CollectorToken)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP exporter: %w", err)
	}
	logrus.WithField("endpoint", tracesURL(u)).Debug("tracepost exports spans over OTLP/HTTP")
	return tm.install(sdktr.WithBatcher(exporter)), nil
}

func (tm *TracerManager) InitGRPCExporter(ctx context.Context) (func(context.Context) error, error) {
	u, err := config.CollectorURL(tm.cfg.CollectorEndpoint)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpointURL(u.String()),
		otlptracegrpc.WithHeaders(authHeaders(tm.cfg.CollectorToken)),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC exporter: %w", err)
	}
	logrus.WithField("endpoint", u.Host).Debug("tracepost exports spans over OTLP/gRPC")
	return tm.install(sdktr.WithBatcher(exporter)), nil
}

func (tm *TracerManager) InitStdoutExporter() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithWriter(tm.ExportWriter),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stdout exporter: %w", err)
	}
	return tm.install(sdktr.WithBatcher(exporter)), nil
}

// InitSyncExporter exports every span as soon as it ends. Tests pass a
// tracetest.InMemoryExporter here.
func (tm *TracerManager) InitSyncExporter(exporter sdktr.SpanExporter) func(context.Context) error {
	return tm.install(sdktr.WithSyncer(exporter))
}

func (tm *TracerManager) install(processor sdktr.TracerProviderOption) func(context.Context) error {
	tm.tracerProvider = sdktr.NewTracerProvider(
		sdktr.WithSampler(sdktr.AlwaysSample()),
		processor,
		sdktr.WithResource(resource.NewSchemaless(semconv.ServiceNameKey.String(tm.cfg.ServiceName))),
	)
	return tm.Shutdown
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// tracesURL appends the OTLP traces path unless the endpoint already names it.
func tracesURL(u *url.URL) string {
	c := *u
	path := strings.TrimRight(c.Path, "/")
	if !strings.HasSuffix(path, tracesPath) {
		path += tracesPath
	}
	c.Path = path
	return c.String()
}
