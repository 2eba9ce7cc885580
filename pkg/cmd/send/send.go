package send

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stleox/tracepost/pkg/cmd/common"
)

func New(vp *viper.Viper) *cobra.Command {
	send := &cobra.Command{
		Use:   "send <url>",
		Short: "Send one traced POST request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd, vp, args[0])
		},
	}
	return send
}

// Run performs one traced send to target. Telemetry is flushed before it returns.
func Run(cmd *cobra.Command, vp *viper.Viper, target string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, tm, cleanup, err := common.InitTelemetry(ctx, vp, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer common.Cleanup(cleanup)

	sender, flush := common.NewSender(cfg, tm, cmd.OutOrStdout(), cmd.ErrOrStderr())
	defer flush()

	_, err = sender.Run(ctx, target)
	return err
}
