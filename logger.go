package main

import (
	"os"

	"github.com/rs/zerolog"
)

// LogLevel is the configured verbosity for the structured logger.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat selects the zerolog writer: plain JSON lines or a human-readable console writer.
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

type LoggerConfig struct {
	Level  LogLevel
	Format LogFormat
}

// NewLogger builds the process-wide structured logger. Every component takes a
// sub-logger via .With().Str("component", ...).Logger() rather than the zerolog
// global logger.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case LogLevelDebug:
		level = zerolog.DebugLevel
	case LogLevelWarn:
		level = zerolog.WarnLevel
	case LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter
	var logger zerolog.Logger
	if cfg.Format == LogFormatPretty {
		writer = zerolog.ConsoleWriter{Out: os.Stdout}
		logger = zerolog.New(writer)
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(level).With().
		Timestamp().
		Str("service", "realtime-channels").
		Caller().
		Logger()
}
