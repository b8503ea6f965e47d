// Package logging sets up the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// Init configures the default slog logger with a JSON handler at the given
// level ("debug", "info", "warn", "error"; unknown values fall back to info).
func Init(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return logger
}

// Component returns a logger tagged with a "component" attribute, used so
// every long-running subsystem logs with its own identity instead of
// through the bare global logger.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}
