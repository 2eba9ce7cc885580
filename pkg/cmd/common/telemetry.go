package common

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stleox/tracepost/pkg/config"
	"github.com/stleox/tracepost/pkg/olap"
	"github.com/stleox/tracepost/pkg/tracer"
)

// InitTelemetry loads the configuration and starts the span exporter.
// The returned cleanup flushes and shuts the exporter down, bounded by the
// configured shutdown timeout; callers defer it.
func InitTelemetry(ctx context.Context, vp *viper.Viper, exportWriter io.Writer) (*config.Config, *tracer.TracerManager, func() error, error) {
	cfg, err := config.Load(vp)
	if err != nil {
		return nil, nil, nil, err
	}

	tm := tracer.NewTracerManager(cfg)
	tm.ExportWriter = exportWriter
	shutdown, err := tm.InitExporter(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	logrus.WithFields(logrus.Fields{
		"exporter": cfg.Exporter,
		"service":  cfg.ServiceName,
	}).Debug("tracepost started telemetry")

	cleanup := func() error {
		shutdownCtx, cancel := context.WithTimeout(tm.ShutdownCtx, cfg.ShutdownTimeout)
		defer cancel()
		return shutdown(shutdownCtx)
	}
	return cfg, tm, cleanup, nil
}

// NewSender builds a sender from cfg. When a run ledger is configured the
// returned flush writes its pending rows; it is always safe to call.
func NewSender(cfg *config.Config, tm *tracer.TracerManager, out, errOut io.Writer) (*tracer.Sender, func()) {
	opts := []tracer.SenderOption{
		tracer.WithTimeout(cfg.RequestTimeout),
		tracer.WithOutput(out, errOut),
		tracer.WithTransportFailureFatal(cfg.TreatTransportFailureAsFatal),
	}

	flush := func() {}
	if cfg.OlapDSN != "" {
		ledger, err := olap.NewOlap(cfg.OlapDSN)
		if err != nil {
			logrus.WithError(err).Error("tracepost couldn't open the run ledger, runs won't be recorded")
		} else {
			opts = append(opts, tracer.WithRecorder(ledger))
			flush = ledger.Flush
		}
	}
	return tracer.NewSender(tm, opts...), flush
}

// Cleanup runs a deferred cleanup and logs its error.
func Cleanup(cleanup func() error) {
	if err := cleanup(); err != nil {
		logrus.WithError(err).Warn("tracepost couldn't shut down telemetry")
	}
}
