// Package logging configures the process-wide slog logger used by every
// ewig subsystem: JSON or text handler selected by an environment
// variable, level by a second environment variable, one sub-logger per
// component.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures a logger for the named component and returns it. It
// does not set the global default logger — ewig is an embedded library
// and must not clobber a host process's own slog configuration.
func Init(component string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("EWIG_JSON_LOG"))
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("component", component)
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("EWIG_LOG_LEVEL")) {
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
