package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/fxsml/gopipe-cep/cep"
)

// EnvPrefix prefixes environment overrides, e.g. GOPIPE_CEP_LOGGING_LEVEL.
const EnvPrefix = "GOPIPE_CEP"

// Sink kinds.
const (
	SinkStdout   = "stdout"
	SinkNATS     = "nats"
	SinkKafka    = "kafka"
	SinkRabbitMQ = "rabbitmq"
	SinkRedis    = "redis"
	SinkHTTP     = "http"
)

// Input kinds.
const (
	InputNone  = "none"
	InputStdin = "stdin"
	InputNATS  = "nats"
	InputHTTP  = "http"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("app: invalid configuration")

// Config is the configuration of a gopipe-cep process.
type Config struct {
	Engine    EngineConfig     `mapstructure:"engine"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
	Input     InputConfig      `mapstructure:"input"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	// ShutdownTimeout bounds draining sinks after the input ends.
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// EngineConfig configures the in-memory engine.
type EngineConfig struct {
	MaxPartials int `mapstructure:"maxPartials"`
}

// EndpointConfig declares one endpoint and where its results go. URI, when
// set, replaces Name, Pattern, Query and MapEvents.
type EndpointConfig struct {
	Name      string     `mapstructure:"name"`
	URI       string     `mapstructure:"uri"`
	Pattern   string     `mapstructure:"pattern"`
	Query     string     `mapstructure:"query"`
	MapEvents bool       `mapstructure:"mapEvents"`
	Sink      SinkConfig `mapstructure:"sink"`
}

// SinkConfig selects the publisher for an endpoint's results.
type SinkConfig struct {
	Kind string `mapstructure:"kind"`
	// URL of the broker or, for http, the CloudEvents target.
	URL string `mapstructure:"url"`
	// Brokers lists Kafka bootstrap servers; URL is used when empty.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the subject, topic, routing key or stream. Defaults to the
	// endpoint name.
	Topic    string      `mapstructure:"topic"`
	Exchange string      `mapstructure:"exchange"`
	Retry    RetryConfig `mapstructure:"retry"`
}

// RetryConfig configures publish retries; zero MaxAttempts disables them.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// InputConfig selects where events come from.
type InputConfig struct {
	Kind string `mapstructure:"kind"`
	// Endpoint whose producer sends input events (default: first endpoint).
	Endpoint string `mapstructure:"endpoint"`
	URL      string `mapstructure:"url"`
	Subject  string `mapstructure:"subject"`
	Queue    string `mapstructure:"queue"`
	Port     int    `mapstructure:"port"`
	Path     string `mapstructure:"path"`
	// Schemas validate input events by type; invalid events are rejected.
	Schemas []SchemaConfig `mapstructure:"schemas"`
}

// SchemaConfig binds a JSON Schema file to an event type.
type SchemaConfig struct {
	Type string `mapstructure:"type"`
	File string `mapstructure:"file"`
}

// LumberjackConfig configures log file rotation.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig configures level, encoding and optional file output.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig configures the prometheus HTTP server.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
}

// Load reads configuration from path (YAML, TOML or JSON) and environment
// variables prefixed with EnvPrefix. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.maxPartials", 1024)
	v.SetDefault("shutdownTimeout", "10s")

	v.SetDefault("input.kind", InputStdin)
	v.SetDefault("input.port", 8080)
	v.SetDefault("input.path", "/")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 7)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

// applyDefaults fills what setDefaults covers for configs not built by
// Load.
func (c Config) applyDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Input.Kind == "" {
		c.Input.Kind = InputStdin
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	return c
}

// Validate checks the configuration without touching an engine or broker.
// All problems are reported together.
func (c *Config) Validate() error {
	var err error
	if len(c.Endpoints) == 0 {
		err = multierr.Append(err, fmt.Errorf("%w: no endpoints", ErrInvalidConfig))
	}

	names := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		epCfg, epErr := ep.endpointConfig()
		if epErr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: endpoints[%d]: %w", ErrInvalidConfig, i, epErr))
			continue
		}
		if _, exprErr := cep.NewExpression(epCfg.Pattern, epCfg.Query); exprErr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: endpoint %q: %w", ErrInvalidConfig, epCfg.Name, exprErr))
		}
		if names[epCfg.Name] {
			err = multierr.Append(err, fmt.Errorf("%w: endpoint %q declared twice", ErrInvalidConfig, epCfg.Name))
		}
		names[epCfg.Name] = true
		err = multierr.Append(err, ep.Sink.validate(epCfg.Name))
	}

	switch c.Input.Kind {
	case "", InputNone, InputStdin, InputHTTP:
	case InputNATS:
		if c.Input.URL == "" || c.Input.Subject == "" {
			err = multierr.Append(err, fmt.Errorf("%w: nats input requires url and subject", ErrInvalidConfig))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("%w: unknown input kind %q", ErrInvalidConfig, c.Input.Kind))
	}
	for i, sc := range c.Input.Schemas {
		if sc.Type == "" || sc.File == "" {
			err = multierr.Append(err, fmt.Errorf("%w: input.schemas[%d]: type and file are required", ErrInvalidConfig, i))
		}
	}
	if c.Input.Endpoint != "" && !names[c.Input.Endpoint] {
		err = multierr.Append(err, fmt.Errorf("%w: input endpoint %q is not declared", ErrInvalidConfig, c.Input.Endpoint))
	}
	return err
}

// endpointConfig resolves the declaration into a cep.EndpointConfig.
func (e EndpointConfig) endpointConfig() (cep.EndpointConfig, error) {
	if e.URI != "" {
		return cep.ParseURI(e.URI)
	}
	if e.Name == "" {
		return cep.EndpointConfig{}, errors.New("name or uri is required")
	}
	return cep.EndpointConfig{
		Name:      e.Name,
		Pattern:   e.Pattern,
		Query:     e.Query,
		MapEvents: e.MapEvents,
	}, nil
}

func (s SinkConfig) validate(endpoint string) error {
	switch s.Kind {
	case "", SinkStdout:
		return nil
	case SinkKafka:
		if s.URL == "" && len(s.Brokers) == 0 {
			return fmt.Errorf("%w: endpoint %q: kafka sink requires url or brokers", ErrInvalidConfig, endpoint)
		}
		return nil
	case SinkNATS, SinkRabbitMQ, SinkRedis, SinkHTTP:
		if s.URL == "" {
			return fmt.Errorf("%w: endpoint %q: %s sink requires url", ErrInvalidConfig, endpoint, s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: endpoint %q: unknown sink kind %q", ErrInvalidConfig, endpoint, s.Kind)
	}
}
