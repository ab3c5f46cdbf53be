// Package observability provides structured logging helpers, copied in
// spirit from Ruriko's internal/gitai/observability/logger.go:
// log/slog wrapped with trace ID propagation and secret redaction so every
// log line emitted during a request carries its trace context.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/axrun/ax/common/redact"
	"github.com/axrun/ax/common/trace"
)

// Setup configures the global slog logger according to level ("debug",
// "info", "warn", "error") and format ("text" or "json"). INFO is the
// default level when level is unrecognized.
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithTrace returns a child logger that always includes the trace_id from
// ctx, falling back to the default logger when ctx carries none.
func WithTrace(ctx context.Context) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return slog.Default()
	}
	return slog.With("trace_id", traceID)
}

// RedactSecrets replaces known-sensitive values in msg with [REDACTED]
// before it reaches a log line.
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}
