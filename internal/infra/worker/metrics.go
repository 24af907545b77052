package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"calmfetch/internal/pkg/config"
)

// SweepMetrics provides Prometheus metrics for the sweep worker. It embeds
// the standard ConfigMetrics for configuration monitoring and adds
// sweep-execution metrics.
type SweepMetrics struct {
	*config.ConfigMetrics

	// SweepRunsTotal counts sweep runs by status (started/success/failure).
	SweepRunsTotal *prometheus.CounterVec

	// SweepDurationSeconds measures the duration of one full sweep.
	SweepDurationSeconds prometheus.Histogram

	// SweepSourcesAttemptedTotal counts sources that actually executed a
	// fetch attempt, across all sweeps. Refused and skipped sources are
	// not included; the gates refusing is normal operation.
	SweepSourcesAttemptedTotal prometheus.Counter

	// SweepLastSuccessTimestamp records the Unix timestamp of the last
	// sweep that completed without an internal error.
	SweepLastSuccessTimestamp prometheus.Gauge
}

// NewSweepMetrics creates and registers the sweep worker metrics.
func NewSweepMetrics() *SweepMetrics {
	return &SweepMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		SweepRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_sweep_runs_total",
			Help: "Total number of sweep runs by status (started/success/failure)",
		}, []string{"status"}),

		SweepDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_sweep_duration_seconds",
			Help:    "Duration of one full sweep in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
		}),

		SweepSourcesAttemptedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_sweep_sources_attempted_total",
			Help: "Total number of sources that executed a fetch attempt across all sweeps",
		}),

		SweepLastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_sweep_last_success_timestamp",
			Help: "Unix timestamp of the last successful sweep",
		}),
	}
}

// MustRegister is a no-op kept for wiring symmetry: metrics are registered
// by promauto at construction.
func (m *SweepMetrics) MustRegister() {}

// RecordSweepRun increments the run counter for the given status.
func (m *SweepMetrics) RecordSweepRun(status string) {
	m.SweepRunsTotal.WithLabelValues(status).Inc()
}

// RecordSweepDuration observes one sweep's duration.
func (m *SweepMetrics) RecordSweepDuration(seconds float64) {
	m.SweepDurationSeconds.Observe(seconds)
}

// RecordSourcesAttempted adds the number of executed attempts in one sweep.
func (m *SweepMetrics) RecordSourcesAttempted(count int) {
	m.SweepSourcesAttemptedTotal.Add(float64(count))
}

// RecordLastSuccess stamps the last successful sweep.
func (m *SweepMetrics) RecordLastSuccess() {
	m.SweepLastSuccessTimestamp.SetToCurrentTime()
}
