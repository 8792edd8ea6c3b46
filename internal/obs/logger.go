// Package obs collects the ambient observability concerns shared by the
// orchestrator and the node runtime: structured logging, correlation ids,
// and the OpenTelemetry/Prometheus wiring. It plays the role the teacher
// framework splits across pkg/logger and pkg/telemetry, merged into one
// package scoped to this module's much smaller surface.
package obs

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger is the structured logging contract every component depends on.
// It mirrors the teacher framework's logger.Logger interface so call
// sites read the same way, backed by log/slog instead of a hand-rolled
// line joiner.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	SetLevel(level string)
	With(fields ...interface{}) Logger
}

// slogLogger is the default Logger implementation.
type slogLogger struct {
	level *slog.LevelVar
	base  *slog.Logger
}

// NewLogger creates a new text-handler logger writing to stderr, matching
// the teacher's convention of a single process-wide logger instance
// threaded through every component via constructor injection.
func NewLogger() Logger {
	lv := &slog.LevelVar{}
	lv.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return &slogLogger{level: lv, base: slog.New(handler)}
}

func (l *slogLogger) Debug(msg string, fields ...interface{}) { l.base.Debug(msg, fields...) }
func (l *slogLogger) Info(msg string, fields ...interface{})  { l.base.Info(msg, fields...) }
func (l *slogLogger) Warn(msg string, fields ...interface{})  { l.base.Warn(msg, fields...) }
func (l *slogLogger) Error(msg string, fields ...interface{}) { l.base.Error(msg, fields...) }

func (l *slogLogger) SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		l.level.Set(slog.LevelDebug)
	case "INFO":
		l.level.Set(slog.LevelInfo)
	case "WARN", "WARNING":
		l.level.Set(slog.LevelWarn)
	case "ERROR":
		l.level.Set(slog.LevelError)
	}
}

func (l *slogLogger) With(fields ...interface{}) Logger {
	return &slogLogger{level: l.level, base: l.base.With(fields...)}
}

// WithCorrelation returns a logger annotated with correlation_id, the
// value threaded through every log event per the correlation-id design.
func WithCorrelation(l Logger, correlationID string) Logger {
	if correlationID == "" {
		return l
	}
	return l.With("correlation_id", correlationID)
}

// FromContext extracts the correlation id (if any) stashed by
// CorrelationMiddleware/WithCorrelationID and annotates the logger.
func FromContext(ctx context.Context, l Logger) Logger {
	return WithCorrelation(l, CorrelationID(ctx))
}
