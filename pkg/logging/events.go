package logging

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// EventLogger writes the login and collection events with trace correlation.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an event logger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger}
}

// Logger returns the underlying logger.
func (el *EventLogger) Logger() *slog.Logger {
	return el.logger
}

// LogTransition logs a state machine step.
func (el *EventLogger) LogTransition(ctx context.Context, username, from, to string) {
	attrs := []slog.Attr{
		slog.String("username", username),
		slog.String("from", from),
		slog.String("to", to),
	}
	el.logger.LogAttrs(ctx, slog.LevelDebug, "Login state changed", withTrace(ctx, attrs)...)
}

// LogLogin logs the outcome of one login attempt. cause is only set for
// transport failures.
func (el *EventLogger) LogLogin(ctx context.Context, username, outcome, source string, duration time.Duration, cause error) {
	attrs := []slog.Attr{
		slog.String("username", username),
		slog.String("outcome", outcome),
		slog.Duration("duration", duration),
	}
	if source != "" {
		attrs = append(attrs, slog.String("captcha_source", source))
	}

	level := slog.LevelInfo
	msg := "Login finished"
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
		level = slog.LevelError
		msg = "Login failed"
	} else if outcome != "authenticated" {
		level = slog.LevelWarn
	}

	el.logger.LogAttrs(ctx, level, msg, withTrace(ctx, attrs)...)
}

// LogAttempt logs the caller-side retry loop.
func (el *EventLogger) LogAttempt(ctx context.Context, attempt, maxAttempts int, wait time.Duration) {
	attrs := []slog.Attr{
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
	}
	if wait > 0 {
		attrs = append(attrs, slog.Duration("backoff", wait))
	}
	el.logger.LogAttrs(ctx, slog.LevelInfo, "Login attempt", withTrace(ctx, attrs)...)
}

// LogSample logs one batch collection iteration.
func (el *EventLogger) LogSample(ctx context.Context, iteration, total int, parsed string, saved int, skipReason string) {
	attrs := []slog.Attr{
		slog.Int("iteration", iteration),
		slog.Int("total", total),
	}

	if skipReason != "" {
		attrs = append(attrs, slog.String("skip_reason", skipReason))
		el.logger.LogAttrs(ctx, slog.LevelWarn, "Sample skipped", withTrace(ctx, attrs)...)
		return
	}

	attrs = append(attrs,
		slog.String("parsed", parsed),
		slog.Int("saved", saved),
	)
	el.logger.LogAttrs(ctx, slog.LevelInfo, "Sample collected", withTrace(ctx, attrs)...)
}

func withTrace(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return attrs
	}
	return append(attrs,
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
