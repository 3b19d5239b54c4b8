// Package logging provides structured logging for the vitals services.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("archival")
//	log.Info("archival run started", "cutoff", cutoff)
//
//	// Tag a scheduled run
//	ctx = logging.ContextWithRunID(ctx, runID)
//	logging.WithContext(ctx).Error("batch failed", "error", err)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// logger is the global logger. Nil until the first Init or first use.
var logger atomic.Pointer[slog.Logger]

// Init initializes the global logger on stdout with the specified level and
// format. If jsonFormat is true, logs are output as JSON; otherwise,
// human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitTo(os.Stdout, level, jsonFormat)
}

// InitTo is Init writing to w. Commands that print results on stdout log
// to stderr.
func InitTo(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	logger.Store(l)
	slog.SetDefault(l)
}

// Logger returns the global logger, initializing it at info level on first
// use.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	l := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if logger.CompareAndSwap(nil, l) {
		return l
	}
	return logger.Load()
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("ingestion")
//	log.Info("started") // Output: time=... level=INFO component=ingestion msg=started
func Component(name string) *slog.Logger {
	return Logger().With("component", name)
}

// WithContext returns the global logger with the run and user attributes
// carried by ctx.
func WithContext(ctx context.Context) *slog.Logger {
	return withContext(Logger(), ctx)
}

// ComponentContext is Component with the attributes carried by ctx.
func ComponentContext(ctx context.Context, name string) *slog.Logger {
	return withContext(Component(name), ctx)
}

func withContext(l *slog.Logger, ctx context.Context) *slog.Logger {
	if runID, ok := ctx.Value(contextKeyRunID).(string); ok {
		l = l.With("run_id", runID)
	}
	if userID, ok := ctx.Value(contextKeyUserID).(string); ok {
		l = l.With("user_id", userID)
	}
	return l
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRunID contextKey = iota
	contextKeyUserID
)

// ContextWithRunID tags every log line of one scheduled run.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextKeyRunID, runID)
}

// ContextWithUserID tags log lines with the user whose data is written.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// ParseLevel converts a config string to a slog level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch s {
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
