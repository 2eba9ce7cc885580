package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration marks every error that must stop tracepost before any network activity.
var ErrConfiguration = errors.New("configuration error")

// for root
var (
	Debug = false
)

// viper keys
const (
	KeyCollectorEndpoint = "collector-endpoint"
	KeyCollectorToken    = "collector-token"
	KeyExporter          = "exporter"
	KeyServiceName       = "service-name"
	KeyRequestTimeout    = "request-timeout"
	KeyShutdownTimeout   = "shutdown-timeout"
	KeyTransportFatal    = "treat-transport-failure-as-fatal"
	KeyOlapDSN           = "olap-dsn"
	KeySchedule          = "schedule"
	KeyListen            = "listen"
	KeyTraceCacheSize    = "trace-cache-size"
)

const (
	ExporterOTLPHTTP = "otlphttp"
	ExporterOTLPGRPC = "otlpgrpc"
	ExporterStdout   = "stdout"
)

// defaults
var (
	DefaultExporter        = ExporterOTLPHTTP
	DefaultServiceName     = "node-client"
	DefaultRequestTimeout  = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultSchedule        = "@every 30s"
	DefaultListen          = ":9999"
	DefaultTraceCacheSize  = 128
)

// Config is the resolved configuration shared by all commands.
type Config struct {
	CollectorEndpoint string
	CollectorToken    string
	Exporter          string
	ServiceName       string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// TreatTransportFailureAsFatal makes a failed send exit non-zero.
	TreatTransportFailureAsFatal bool

	// OlapDSN enables the run ledger when not empty.
	OlapDSN string

	// probe
	Schedule string

	// serve
	Listen         string
	TraceCacheSize int
}

// SetDefaults registers the default value of every key on vp.
func SetDefaults(vp *viper.Viper) {
	vp.SetDefault(KeyExporter, DefaultExporter)
	vp.SetDefault(KeyServiceName, DefaultServiceName)
	vp.SetDefault(KeyRequestTimeout, DefaultRequestTimeout)
	vp.SetDefault(KeyShutdownTimeout, DefaultShutdownTimeout)
	vp.SetDefault(KeyTransportFatal, false)
	vp.SetDefault(KeySchedule, DefaultSchedule)
	vp.SetDefault(KeyListen, DefaultListen)
	vp.SetDefault(KeyTraceCacheSize, DefaultTraceCacheSize)
}

// Load reads a Config from vp and validates it.
func Load(vp *viper.Viper) (*Config, error) {
	cfg := &Config{
		CollectorEndpoint:            strings.TrimSpace(vp.GetString(KeyCollectorEndpoint)),
		CollectorToken:               strings.TrimSpace(vp.GetString(KeyCollectorToken)),
		Exporter:                     strings.ToLower(vp.GetString(KeyExporter)),
		ServiceName:                  vp.GetString(KeyServiceName),
		RequestTimeout:               vp.GetDuration(KeyRequestTimeout),
		ShutdownTimeout:              vp.GetDuration(KeyShutdownTimeout),
		TreatTransportFailureAsFatal: vp.GetBool(KeyTransportFatal),
		OlapDSN:                      vp.GetString(KeyOlapDSN),
		Schedule:                     vp.GetString(KeySchedule),
		Listen:                       vp.GetString(KeyListen),
		TraceCacheSize:               vp.GetInt(KeyTraceCacheSize),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the sender and the exporters depend on.
func (c *Config) Validate() error {
	if c.CollectorEndpoint == "" {
		return fmt.Errorf("%w: %s is required", ErrConfiguration, KeyCollectorEndpoint)
	}
	if c.CollectorToken == "" {
		return fmt.Errorf("%w: %s is required", ErrConfiguration, KeyCollectorToken)
	}
	if _, err := CollectorURL(c.CollectorEndpoint); err != nil {
		return err
	}
	switch c.Exporter {
	case ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterStdout:
	default:
		return fmt.Errorf("%w: unsupported %s %q", ErrConfiguration, KeyExporter, c.Exporter)
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrConfiguration, KeyRequestTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.TraceCacheSize <= 0 {
		c.TraceCacheSize = DefaultTraceCacheSize
	}
	return nil
}

// CollectorURL turns the configured collector endpoint into an absolute URL.
// A bare host[:port] is treated as https, the way the collector is usually exposed.
func CollectorURL(endpoint string) (*url.URL, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", ErrConfiguration, KeyCollectorEndpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %s %q has no host", ErrConfiguration, KeyCollectorEndpoint, endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s scheme must be http or https", ErrConfiguration, KeyCollectorEndpoint)
	}
	return u, nil
}
