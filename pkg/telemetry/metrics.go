package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	resolutionCounter    metric.Int64Counter
	resolutionLatency    metric.Float64Histogram
	regionCountHistogram metric.Int64Histogram
	loginCounter         metric.Int64Counter
	loginLatency         metric.Float64Histogram
)

// ResolutionMetrics captures the fields recorded for one resolved challenge.
type ResolutionMetrics struct {
	Source   string
	Reason   string
	Regions  int
	Duration time.Duration
}

// RecordResolution counts a resolved challenge by source and fallback reason.
func RecordResolution(ctx context.Context, m ResolutionMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("captcha.source", m.Source),
	}
	if m.Reason != "" {
		attrs = append(attrs, attribute.String("captcha.fallback_reason", m.Reason))
	}

	resolutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	regionCountHistogram.Record(ctx, int64(m.Regions), metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		resolutionLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// LoginMetrics captures the fields recorded for one login attempt.
type LoginMetrics struct {
	Outcome  string
	Source   string
	Duration time.Duration
}

// RecordLogin counts a finished login attempt by outcome.
func RecordLogin(ctx context.Context, m LoginMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("login.outcome", m.Outcome),
	}
	if m.Source != "" {
		attrs = append(attrs, attribute.String("captcha.source", m.Source))
	}

	loginCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		loginLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("obsgrade")

		resolutionCounter, metricsInitErr = meter.Int64Counter(
			"captcha.resolutions_total",
			metric.WithDescription("Resolved challenges partitioned by source and fallback reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		resolutionLatency, metricsInitErr = meter.Float64Histogram(
			"captcha.resolution.duration_ms",
			metric.WithDescription("Time from challenge decode to resolved code"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		regionCountHistogram, metricsInitErr = meter.Int64Histogram(
			"captcha.regions",
			metric.WithDescription("Character regions found per challenge"),
			metric.WithUnit("{region}"),
		)
		if metricsInitErr != nil {
			return
		}

		loginCounter, metricsInitErr = meter.Int64Counter(
			"session.logins_total",
			metric.WithDescription("Login attempts partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		loginLatency, metricsInitErr = meter.Float64Histogram(
			"session.login.duration_ms",
			metric.WithDescription("Observed login attempt latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordTransition attaches a state-machine transition event to span.
func RecordTransition(span trace.Span, from, to string) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("session.transition", trace.WithAttributes(
		attribute.String("session.state.from", from),
		attribute.String("session.state.to", to),
	))
}
