// Package observability provides the structured logger shared by every component.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// Logger returns the process-wide JSON logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// Setup replaces the process-wide logger with one writing JSON to w at level.
func Setup(w io.Writer, level string) *slog.Logger {
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	logger.Store(l)
	slog.SetDefault(l)
	return l
}

// WithComponent returns a logger tagged with the component name.
func WithComponent(name string) *slog.Logger {
	return Logger().With("component", name)
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
