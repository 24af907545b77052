// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - Fetch attempt counts and durations by classified outcome
//   - Per-source health score and circuit phase gauges
//   - Scheduling skip and gate-refusal counters
//   - Identity rotation counts
//   - Database query metrics
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint.
//
// Example usage:
//
//	import "calmfetch/internal/observability/metrics"
//
//	func reportOutcome(sourceID string, outcome string, elapsed time.Duration) {
//	    metrics.RecordFetchAttempt(sourceID, outcome, elapsed)
//	}
package metrics
