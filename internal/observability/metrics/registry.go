package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch metrics track outbound attempt volume and outcomes
var (
	// FetchAttemptsTotal counts executed fetch attempts by classified outcome
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "Total number of executed fetch attempts",
		},
		[]string{"source_id", "outcome"}, // outcome: success, soft_block, hard_block, transient
	)

	// FetchDuration measures fetch round-trip time by outcome
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Fetch round-trip duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"outcome"},
	)

	// FetchSkipsTotal counts scheduled attempts dropped by the behavior engine
	FetchSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_skips_total",
			Help: "Total number of due fetches skipped by behavior simulation",
		},
		[]string{"source_id"},
	)

	// FetchRefusalsTotal counts attempts refused before reaching the network
	FetchRefusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_refusals_total",
			Help: "Total number of fetch attempts refused by a gating layer",
		},
		[]string{"source_id", "reason"}, // reason: circuit_open, cooldown, not_due
	)
)

// Gating state metrics expose the current decision inputs per source
var (
	// SourceHealthScore tracks the continuous health score per source
	SourceHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_health_score",
			Help: "Current health score per source (0.0 to 1.0)",
		},
		[]string{"source_id"},
	)

	// CircuitPhase tracks the breaker phase per source (0=closed, 1=open, 2=half-open)
	CircuitPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_phase",
			Help: "Current circuit breaker phase per source (0=closed, 1=open, 2=half-open)",
		},
		[]string{"source_id"},
	)

	// IdentityRotationsTotal counts identity profile replacements
	IdentityRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_rotations_total",
			Help: "Total number of identity profile rotations",
		},
		[]string{"reason"}, // reason: hard_block, proxy_expired
	)
)

// Database metrics track persistence performance
var (
	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// DBConnectionsActive tracks active database connections
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordFetchAttempt records one executed attempt and its duration.
func RecordFetchAttempt(sourceID, outcome string, duration time.Duration) {
	FetchAttemptsTotal.WithLabelValues(sourceID, outcome).Inc()
	FetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSkip records a behavior-engine skip of a due fetch.
func RecordSkip(sourceID string) {
	FetchSkipsTotal.WithLabelValues(sourceID).Inc()
}

// RecordRefusal records a gate refusal before any network contact.
func RecordRefusal(sourceID, reason string) {
	FetchRefusalsTotal.WithLabelValues(sourceID, reason).Inc()
}

// SetHealthScore publishes the current health score for a source.
func SetHealthScore(sourceID string, score float64) {
	SourceHealthScore.WithLabelValues(sourceID).Set(score)
}

// SetCircuitPhase publishes the current breaker phase for a source.
func SetCircuitPhase(sourceID string, phase int) {
	CircuitPhase.WithLabelValues(sourceID).Set(float64(phase))
}

// RecordIdentityRotation records one identity replacement.
func RecordIdentityRotation(reason string) {
	IdentityRotationsTotal.WithLabelValues(reason).Inc()
}

// RecordDBQuery records the duration of a named database operation.
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnectionMetrics publishes connection pool stats.
func UpdateDBConnectionMetrics(active, idle int) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}
