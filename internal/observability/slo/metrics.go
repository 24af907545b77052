// Package slo tracks whether the fetch layer is meeting its service level
// objectives. The gauges are recomputed once per sweep from that sweep's
// tallies; they are coarse by design, a dashboard-level signal rather than a
// per-request measurement.
package slo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SLO targets for the fetch layer. A gated crawler is judged on staying
// welcome, not on throughput: block rate matters more than latency.
const (
	// SuccessRatioSLO is the target share of executed attempts that end in
	// a success outcome.
	SuccessRatioSLO = 0.95

	// BlockRateSLO is the maximum acceptable share of executed attempts
	// classified as a soft or hard block.
	BlockRateSLO = 0.01

	// OpenSourcesSLO is the maximum acceptable share of known sources whose
	// circuit is open at any moment.
	OpenSourcesSLO = 0.05
)

var (
	// SLOSuccessRatio tracks the success share of the last sweep (0-1).
	SLOSuccessRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_fetch_success_ratio",
			Help: "Share of executed fetch attempts ending in success (0-1), target: 0.95",
		},
	)

	// SLOBlockRate tracks the block share of the last sweep (0-1).
	SLOBlockRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_fetch_block_rate_ratio",
			Help: "Share of executed fetch attempts classified as blocks (0-1), target: <= 0.01",
		},
	)

	// SLOOpenSources tracks the share of sources with an open circuit (0-1).
	SLOOpenSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_open_sources_ratio",
			Help: "Share of known sources whose circuit is currently open (0-1), target: <= 0.05",
		},
	)
)

// UpdateSuccessRatio records the success share of one completed sweep.
func UpdateSuccessRatio(ratio float64) {
	SLOSuccessRatio.Set(ratio)
}

// UpdateBlockRate records the block share of one completed sweep.
func UpdateBlockRate(ratio float64) {
	SLOBlockRate.Set(ratio)
}

// UpdateOpenSources records the open-circuit share across known sources.
func UpdateOpenSources(ratio float64) {
	SLOOpenSources.Set(ratio)
}
