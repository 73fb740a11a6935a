// Package logging builds the slog.Logger shared by every gateway component.
//
// Format "text" (the CLI default) writes key=value pairs; "json" writes one
// JSON object per record for log aggregators. Levels are debug, info, warn
// and error.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a logger writing to w (stderr when nil).
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level; unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromFlags picks the level the CLI flags ask for, falling back to def.
func LevelFromFlags(verbose, debug bool, def string) string {
	switch {
	case debug:
		return "debug"
	case verbose:
		return "info"
	case def != "":
		return def
	}
	return "warn"
}
