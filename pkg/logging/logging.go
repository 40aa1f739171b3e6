// Package logging configures structured logging with log/slog.
//
// Usage:
//
//	logger := logging.Setup("info", "text")   // colored tint output
//	logger := logging.Setup("", "json")       // JSON, level from LOG_LEVEL
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info); used when level is empty
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup installs and returns the default logger. format is "text" (colored,
// for terminals) or "json".
func Setup(level, format string) *slog.Logger {
	logger := New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w without touching the default.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
		AddSource:  true,
	}))
}

// ParseLevel maps a level name to slog.Level. An empty name falls back to
// LOG_LEVEL, then to info.
func ParseLevel(name string) slog.Level {
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
