// Package observability provides the observability infrastructure for the
// fetch layer: structured logging, Prometheus metrics and OpenTelemetry
// tracing.
//
// Subpackages:
//   - logging: structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry tracing integration
//   - slo: service level objective gauges for the fetch layer
//
// Example usage:
//
//	import (
//	    "calmfetch/internal/observability/logging"
//	    "calmfetch/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("worker started")
//
//	    metrics.RecordFetchAttempt("example-source", "success", elapsed)
//	}
package observability
