// Package metrics holds the Prometheus collectors for login and collection
// runs. A CLI run is short-lived, so the registry is written to a textfile
// on exit for node_exporter's textfile collector to pick up.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for obsgrade.
type Metrics struct {
	loginsTotal   *prometheus.CounterVec
	loginDuration *prometheus.HistogramVec
	loginRetries  prometheus.Counter

	resolutionsTotal *prometheus.CounterVec

	samplesTotal *prometheus.CounterVec
	cropsSaved   *prometheus.CounterVec

	lastRun prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		loginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obsgrade_logins_total",
				Help: "Login attempts by outcome and captcha source",
			},
			[]string{"outcome", "source"},
		),

		loginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obsgrade_login_duration_seconds",
				Help:    "Login attempt duration in seconds, human input included",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		loginRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "obsgrade_login_retries_total",
				Help: "Attempts started after a rejected or failed attempt",
			},
		),

		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obsgrade_captcha_resolutions_total",
				Help: "Resolved challenges by source and fallback reason",
			},
			[]string{"source", "reason"},
		),

		samplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obsgrade_collect_samples_total",
				Help: "Batch collection iterations by result",
			},
			[]string{"result"},
		),

		cropsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obsgrade_collect_crops_saved_total",
				Help: "Dataset crops written by label",
			},
			[]string{"label"},
		),

		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "obsgrade_last_run_timestamp_seconds",
				Help: "Unix time the metrics file was written",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.loginsTotal,
		m.loginDuration,
		m.loginRetries,
		m.resolutionsTotal,
		m.samplesTotal,
		m.cropsSaved,
		m.lastRun,
	)

	return m
}

// RecordLogin records one finished login attempt.
func (m *Metrics) RecordLogin(outcome, source string, duration time.Duration) {
	m.loginsTotal.WithLabelValues(outcome, source).Inc()
	m.loginDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRetry records that another attempt is starting.
func (m *Metrics) RecordRetry() {
	m.loginRetries.Inc()
}

// RecordResolution records how a challenge was resolved.
func (m *Metrics) RecordResolution(source, reason string) {
	m.resolutionsTotal.WithLabelValues(source, reason).Inc()
}

// RecordSample records a batch iteration as "processed" or a skip reason.
func (m *Metrics) RecordSample(result string) {
	m.samplesTotal.WithLabelValues(result).Inc()
}

// RecordCrop records a crop saved under label.
func (m *Metrics) RecordCrop(label string) {
	m.cropsSaved.WithLabelValues(label).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	m.lastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
