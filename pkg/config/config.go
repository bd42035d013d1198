// Package config provides configuration loading and validation for the Sluice engine.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/sluice/pkg/schema"
)

// Sentinel validation errors.
var (
	ErrMissingSourceDir    = errors.New("source directory is required")
	ErrUnknownVariant      = errors.New("unknown schema variant")
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
	ErrInvalidReadTimeout  = errors.New("read timeout must be positive")
	ErrInvalidRetries      = errors.New("retry threshold must be positive")
	ErrInvalidCodec        = errors.New("unknown checkpoint codec")
	ErrNoSinks             = errors.New("at least one sink must be enabled")
)

// Default configuration values.
const (
	defaultVariant        = "detailed"
	defaultPattern        = "*.csv"
	defaultRetryThreshold = 3
	defaultCodec          = "json"
)

// Checkpoint codec names accepted by checkpoint.codec.
var validCodecs = map[string]bool{
	"json":     true,
	"gob":      true,
	"json.lz4": true,
	"gob.lz4":  true,
}

// Config holds all configuration for the Sluice engine.
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Sinks      SinksConfig      `mapstructure:"sinks"`
	Queries    QueriesConfig    `mapstructure:"queries"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// SourceConfig holds the watched-directory settings.
type SourceConfig struct {
	Dir            string        `mapstructure:"dir"`
	Variant        string        `mapstructure:"variant"`
	Pattern        string        `mapstructure:"pattern"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	RetryThreshold int           `mapstructure:"retry_threshold"`
}

// CheckpointConfig holds checkpoint persistence settings.
type CheckpointConfig struct {
	Dir    string        `mapstructure:"dir"`
	Codec  string        `mapstructure:"codec"`
	MaxAge time.Duration `mapstructure:"max_age"`
	// MaxSize is a human-readable byte size such as "1GB".
	MaxSize string `mapstructure:"max_size"`
}

// SinksConfig selects where query results are delivered.
type SinksConfig struct {
	Console  bool   `mapstructure:"console"`
	NoColor  bool   `mapstructure:"no_color"`
	CSVDir   string `mapstructure:"csv_dir"`
	ChartDir string `mapstructure:"chart_dir"`
}

// QueriesConfig points at an optional query definition file. When empty,
// the built-in query set runs.
type QueriesConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings. Telemetry is a
// no-op until an endpoint is configured.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	Environment  string `mapstructure:"environment"`
}

// LoadConfig loads and validates configuration from file and environment
// variables.
func LoadConfig(configPath string) (*Config, error) {
	config, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	validateErr := Validate(config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return config, nil
}

// Load reads configuration without validating it. Callers that overlay
// flag values on top call Validate afterwards.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("sluice")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("/etc/sluice")
	}

	viperCfg.SetEnvPrefix("SLUICE")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Source defaults.
	viperCfg.SetDefault("source.variant", defaultVariant)
	viperCfg.SetDefault("source.pattern", defaultPattern)
	viperCfg.SetDefault("source.poll_interval", "2s")
	viperCfg.SetDefault("source.read_timeout", "30s")
	viperCfg.SetDefault("source.retry_threshold", defaultRetryThreshold)

	// Checkpoint defaults. An empty dir resolves to ~/.sluice/checkpoints.
	viperCfg.SetDefault("checkpoint.codec", defaultCodec)
	viperCfg.SetDefault("checkpoint.max_age", "168h")
	viperCfg.SetDefault("checkpoint.max_size", "1GB")

	// Sink defaults.
	viperCfg.SetDefault("sinks.console", true)
	viperCfg.SetDefault("sinks.no_color", false)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")

	// Telemetry defaults.
	viperCfg.SetDefault("telemetry.otlp_insecure", true)
	viperCfg.SetDefault("telemetry.environment", "development")
}

// Validate checks the configuration for missing or inconsistent values.
func Validate(config *Config) error {
	if config.Source.Dir == "" {
		return ErrMissingSourceDir
	}

	_, variantErr := schema.ByName(config.Source.Variant)
	if variantErr != nil {
		return fmt.Errorf("%w: %q", ErrUnknownVariant, config.Source.Variant)
	}

	if config.Source.PollInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPollInterval, config.Source.PollInterval)
	}

	if config.Source.ReadTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReadTimeout, config.Source.ReadTimeout)
	}

	if config.Source.RetryThreshold <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetries, config.Source.RetryThreshold)
	}

	if !validCodecs[config.Checkpoint.Codec] {
		return fmt.Errorf("%w: %q", ErrInvalidCodec, config.Checkpoint.Codec)
	}

	if !config.Sinks.Console && config.Sinks.CSVDir == "" && config.Sinks.ChartDir == "" {
		return ErrNoSinks
	}

	return nil
}
