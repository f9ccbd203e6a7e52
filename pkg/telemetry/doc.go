// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for the
// trust bootstrap host.
//
// SetupProvider installs the process-wide tracer provider exporting over
// OTLP/gRPC. BootstrapMetrics exposes bootstrap state, anchor counts and audit
// outcomes on a dedicated Prometheus registry so the host can serve them
// without touching the global default registry.
package telemetry
