// Package logger holds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	Configure(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))
}

// Configure rebuilds the global logger. Production emits JSON on stdout; any other
// environment gets human-readable console output on stderr. An empty or unknown
// level falls back to info.
func Configure(level, env string) {
	var out io.Writer = os.Stdout
	if env != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	Log = New(out, level)
}

// New builds a logger writing to w at the given level, with timestamps.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return Log
}
