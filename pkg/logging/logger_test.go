package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"TRACE":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Output: &buf})

	logger.Debug("hidden")
	logger.Info("Captcha solved automatically", "code", "739")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "Captcha solved automatically", rec["msg"])
	assert.Equal(t, "739", rec["code"])
}

func TestNewLogger_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Pretty: true, Output: &buf})

	logger.Warn("Automatic recognition failed", "reason", "model_unavailable")

	out := buf.String()
	assert.Contains(t, out, "Automatic recognition failed")
	assert.Contains(t, out, "reason=model_unavailable")
	assert.Contains(t, out, "WRN")
	assert.NotContains(t, out, "{")
}

func TestEventLogger_TraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	events := NewEventLogger(NewLogger(Config{Level: "debug", Output: &buf}))

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "session.login")
	events.LogLogin(ctx, "alice", "rejected", "human", 200*time.Millisecond, nil)
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "alice", rec["username"])
	assert.Equal(t, "human", rec["captcha_source"])
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])
}

func TestEventLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	events := NewEventLogger(NewLogger(Config{Level: "debug", Output: &buf}))

	events.LogLogin(context.Background(), "alice", "transport_error", "", time.Second, errors.New("connection refused"))
	events.LogSample(context.Background(), 2, 50, "", 0, "download_failed")
	events.LogSample(context.Background(), 3, 50, "739", 3, "")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var failed, skipped, saved map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &failed))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &skipped))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &saved))

	assert.Equal(t, "ERROR", failed["level"])
	assert.Equal(t, "connection refused", failed["error"])
	assert.NotContains(t, failed, "trace_id")
	assert.Equal(t, "download_failed", skipped["skip_reason"])
	assert.Equal(t, "739", saved["parsed"])
	assert.EqualValues(t, 3, saved["saved"])
}

func TestNewEventLogger_NilUsesDefault(t *testing.T) {
	assert.Same(t, slog.Default(), NewEventLogger(nil).Logger())
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Level: " WARN "}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "warn", cfg.Level)

	cfg = Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Level)

	cfg = Config{Level: "loud"}
	assert.ErrorContains(t, cfg.Validate(), "invalid log level")
}
