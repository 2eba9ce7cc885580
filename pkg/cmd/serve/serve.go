package serve

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stleox/tracepost/pkg/cmd/common"
	"github.com/stleox/tracepost/pkg/config"
	"github.com/stleox/tracepost/pkg/receiver"
	"golang.org/x/sync/errgroup"
)

func New(vp *viper.Viper) *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Echo requests back inside a server span that continues the caller's trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// init main context of `serve`
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, tm, cleanup, err := common.InitTelemetry(ctx, vp, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer common.Cleanup(cleanup)

			rc, err := receiver.NewReceiver(tm, cfg.TraceCacheSize)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           rc.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logrus.WithField("listen", cfg.Listen).Info("tracepost receiver listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				logrus.Info("tracepost receiver shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	serve.Flags().String(config.KeyListen, config.DefaultListen, "Address the receiver listens on")
	serve.Flags().Int(config.KeyTraceCacheSize, config.DefaultTraceCacheSize, "Number of received traces kept for GET /traces/{traceID}")
	_ = vp.BindPFlags(serve.Flags())
	return serve
}
