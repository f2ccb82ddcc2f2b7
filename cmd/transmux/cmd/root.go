// Package cmd implements the CLI commands for transmux.
package cmd

import (
	"log/slog"
	"strings"

	"github.com/jmylchreest/transmux/internal/config"
	"github.com/jmylchreest/transmux/internal/observability"
	"github.com/jmylchreest/transmux/internal/version"
	"github.com/spf13/cobra"
)

var (
	cfgFile string

	cfg      *config.Config
	logLevel *slog.LevelVar
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "transmux",
	Short:   "Media transcoding orchestrator",
	Version: version.Short(),
	Long: `transmux schedules media transcoding pipelines: it pulls packets from
demuxers, drives decoders, filter graphs, and encoders, and arbitrates
among output streams so every output advances together.

The orchestrator itself carries no codec or container knowledge; it is
built to be embedded with real demuxer and muxer adapters. The bundled
null adapters generate and discard synthetic streams for exercising a
pipeline end to end.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return exitCode
}

// exitCode is set by subcommands that map engine results to process exit
// codes.
var exitCode int

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initConfig loads configuration from file and environment.
func initConfig() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		// Fall back to defaults so logging still comes up; run commands
		// surface the error themselves.
		defaults := config.Config{}
		defaults.Logging = config.LoggingConfig{Level: "info", Format: "text"}
		cfg = &defaults
		return
	}
	cfg = loaded
}

// initLogging configures the process slog logger.
func initLogging() error {
	logCfg := cfg.Logging

	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger, lv := observability.NewLogger(logCfg)
	observability.SetDefault(logger)
	logLevel = lv

	return nil
}
