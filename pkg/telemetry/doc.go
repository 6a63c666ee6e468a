// Package telemetry wires OpenTelemetry tracing and metric instruments for the
// login pipeline.
//
// It centralises trace provider setup and offers helpers that record how each
// challenge was resolved and how each login attempt ended, so operators can
// correlate automatic-recognition rates with portal outcomes.
package telemetry
