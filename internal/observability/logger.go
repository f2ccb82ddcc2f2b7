// Package observability provides logging for transmux.
package observability

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/transmux/internal/config"
)

// NewLogger creates a slog.Logger from the logging configuration, writing
// to stderr so progress output on stdout stays machine-parseable. It
// returns the logger together with its level variable; the level can be
// adjusted at runtime (the interactive console's +/- keys use this).
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar) {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter is NewLogger writing to the provided writer. Useful
// for tests and custom sinks.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

// ParseLevel converts a string log level to slog.Level, defaulting to
// info for unknown values.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component name identifying the source subsystem.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// SetDefault installs the logger as the process default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
