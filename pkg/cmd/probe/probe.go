package probe

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stleox/tracepost/pkg/cmd/common"
	"github.com/stleox/tracepost/pkg/config"
	"github.com/stleox/tracepost/pkg/tracer"
)

func New(vp *viper.Viper) *cobra.Command {
	probe := &cobra.Command{
		Use:   "probe <url>",
		Short: "Send a traced request now and then on a cron schedule until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, tm, cleanup, err := common.InitTelemetry(ctx, vp, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer common.Cleanup(cleanup)

			sender, flush := common.NewSender(cfg, tm, cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer flush()

			c, err := NewScheduler(ctx, cfg.Schedule, sender, args[0])
			if err != nil {
				return err
			}

			runOnce(ctx, sender, args[0])
			c.Start()
			logrus.WithField("schedule", cfg.Schedule).Info("tracepost probing")

			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}
	probe.Flags().String(config.KeySchedule, config.DefaultSchedule, "Cron spec or @every descriptor between runs")
	_ = vp.BindPFlags(probe.Flags())
	return probe
}

// NewScheduler registers a run of sender against target on schedule.
// A tick is skipped while the previous run is still in flight.
func NewScheduler(ctx context.Context, schedule string, sender *tracer.Sender, target string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger()))))
	_, err := c.AddFunc(schedule, func() {
		runOnce(ctx, sender, target)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %q: %v", config.ErrConfiguration, config.KeySchedule, schedule, err)
	}
	return c, nil
}

func runOnce(ctx context.Context, sender *tracer.Sender, target string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := sender.Run(ctx, target); err != nil {
		logrus.WithError(err).WithField("target", target).Warn("tracepost probe failed")
	}
}
