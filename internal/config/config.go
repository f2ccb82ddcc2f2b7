// Package config provides configuration management for transmux using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultStatsPeriod  = 500 * time.Millisecond
	defaultMaxErrorRate = 2.0 / 3.0
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StatsConfig holds progress reporting configuration.
type StatsConfig struct {
	// Print selects periodic report emission: 0 quiet, 1 directly to
	// stderr, 2 through the logger.
	Print int `mapstructure:"print"`

	// Period is the minimum interval between periodic reports. Accepts
	// clock form ("0:01"), seconds ("0.5"), and Go durations ("500ms").
	Period Duration `mapstructure:"period"`

	// VStatsFile, when set, receives one statistics line per muxed video
	// packet.
	VStatsFile string `mapstructure:"vstats_file"`

	// ProgressFile, when set, receives machine-readable progress blocks.
	ProgressFile string `mapstructure:"progress_file"`
}

// TranscodeConfig holds orchestrator behavior configuration.
type TranscodeConfig struct {
	// StdinInteraction enables the interactive keyboard console.
	StdinInteraction bool `mapstructure:"stdin_interaction"`

	// CopyTS preserves input timestamps instead of zero-basing them.
	CopyTS      bool `mapstructure:"copy_ts"`
	StartAtZero bool `mapstructure:"start_at_zero"`

	// ExitOnError aborts the transcode on demuxer read errors.
	ExitOnError bool `mapstructure:"exit_on_error"`

	// MaxErrorRate is the decode error rate ceiling, in [0,1], where the
	// rate is decode errors / (decoded frames + decode errors); a nonzero
	// rate at or above it fails the transcode.
	MaxErrorRate float64 `mapstructure:"max_error_rate"`

	Benchmark    bool `mapstructure:"benchmark"`
	BenchmarkAll bool `mapstructure:"benchmark_all"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration. They are
// prefixed with TRANSMUX_ and use underscores for nesting, for example
// TRANSMUX_STATS_PERIOD=250ms.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/transmux")
		v.AddConfigPath("$HOME/.transmux")
	}

	v.SetEnvPrefix("TRANSMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Stats defaults
	v.SetDefault("stats.print", 1)
	v.SetDefault("stats.period", defaultStatsPeriod)
	v.SetDefault("stats.vstats_file", "")
	v.SetDefault("stats.progress_file", "")

	// Transcode defaults
	v.SetDefault("transcode.stdin_interaction", true)
	v.SetDefault("transcode.copy_ts", false)
	v.SetDefault("transcode.start_at_zero", false)
	v.SetDefault("transcode.exit_on_error", false)
	v.SetDefault("transcode.max_error_rate", defaultMaxErrorRate)
	v.SetDefault("transcode.benchmark", false)
	v.SetDefault("transcode.benchmark_all", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Stats.Print < 0 || c.Stats.Print > 2 {
		return fmt.Errorf("stats.print must be 0, 1, or 2")
	}
	if c.Stats.Period <= 0 {
		return fmt.Errorf("stats.period must be positive")
	}

	if c.Transcode.MaxErrorRate < 0 || c.Transcode.MaxErrorRate > 1 {
		return fmt.Errorf("transcode.max_error_rate must be in [0,1]")
	}

	return nil
}
