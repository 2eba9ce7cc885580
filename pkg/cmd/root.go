package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stleox/tracepost/pkg/cmd/probe"
	"github.com/stleox/tracepost/pkg/cmd/send"
	"github.com/stleox/tracepost/pkg/cmd/serve"
	"github.com/stleox/tracepost/pkg/config"
)

var configFile string

// NewViper creates a new viper instance configured.
func NewViper() *viper.Viper {
	vp := viper.New()

	// read config from a file
	vp.SetConfigName("config") // name of config file (without extension)
	vp.SetConfigType("yaml")   // useful if the given config file does not have the extension in the name
	vp.AddConfigPath(".")      // look for a config in the working directory first
	if home, err := os.UserHomeDir(); err == nil {
		vp.AddConfigPath(filepath.Join(home, ".tracepost"))
	}

	// read config from environment variables
	vp.SetEnvPrefix("tracepost") // env var must start with TRACEPOST_
	// replace - by _ for environment variable names
	// (eg: the env var for collector-token is TRACEPOST_COLLECTOR_TOKEN)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv() // read in environment variables that match

	config.SetDefaults(vp)
	return vp
}

func New(vp *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:          "tracepost <url>",
		Short:        "Send a trace-annotated HTTP POST and export its spans to an OTLP collector",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.InitLogrus()
			if config.Debug {
				logrus.Debug("enabled debug mode")
			}
			return readConfigFile(vp)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return send.Run(cmd, vp, args[0])
		},
	}

	root.PersistentFlags().BoolVar(&config.Debug, "debug", false, "Enable debug mode")
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./config.yaml or ~/.tracepost/config.yaml)")
	root.PersistentFlags().AddFlagSet(newTelemetryFlags())
	_ = vp.BindPFlags(root.PersistentFlags())

	root.AddCommand(
		send.New(vp),
		serve.New(vp),
		probe.New(vp),
	)
	return root
}

// telemetry flags, shared by every command
func newTelemetryFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("telemetry", pflag.ContinueOnError)
	flags.String(config.KeyCollectorEndpoint, "", "OTLP collector endpoint, host[:port] or URL (required)")
	flags.String(config.KeyCollectorToken, "", "Bearer token for the collector (required)")
	flags.String(config.KeyExporter, config.DefaultExporter, "Span exporter: otlphttp, otlpgrpc or stdout")
	flags.String(config.KeyServiceName, config.DefaultServiceName, "service.name reported with every span")
	flags.Duration(config.KeyRequestTimeout, config.DefaultRequestTimeout, "Timeout of the outbound request, 0 for none")
	flags.Duration(config.KeyShutdownTimeout, config.DefaultShutdownTimeout, "Time allowed to flush spans before exit")
	flags.Bool(config.KeyTransportFatal, false, "Exit non-zero when the request could not be sent")
	flags.String(config.KeyOlapDSN, "", "MySQL DSN of the run ledger, empty to disable")
	return flags
}

func readConfigFile(vp *viper.Viper) error {
	if configFile != "" {
		vp.SetConfigFile(configFile)
	}
	err := vp.ReadInConfig()
	if err == nil {
		logrus.WithField("file", vp.ConfigFileUsed()).Debug("tracepost read config file")
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("%w: reading config file: %v", config.ErrConfiguration, err)
}

func Execute() {
	vp := NewViper()

	root := New(vp)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
