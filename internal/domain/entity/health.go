package entity

import "time"

// HealthStatus is the categorical status derived from the continuous score.
// It is always a pure function of the score and is never stored on its own.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"   // score > 0.8
	HealthDegraded  HealthStatus = "degraded"  // 0.4 < score <= 0.8
	HealthUnhealthy HealthStatus = "unhealthy" // score <= 0.4
)

// recentKindsLimit bounds the error-kind history used for repeat detection.
const recentKindsLimit = 10

// HealthScore is the per-source continuous trust state. It is a derived
// cache: mutated only through the health monitor, rebuildable from the
// persisted SourceRecord plus recent in-process history.
//
// Invariant: ErrorStreak and SuccessStreak are never both non-zero.
type HealthScore struct {
	SourceID string

	// Score is in [0.0, 1.0]; 1.0 means perfect trust.
	Score float64

	ErrorStreak   int
	SuccessStreak int

	// RecentKinds holds the last classifications, newest last.
	RecentKinds []ErrorKind

	// AvgLatency is an exponential moving average of response time,
	// kept for diagnostics.
	AvgLatency time.Duration

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
}

// NewHealthScore starts a source at full trust.
func NewHealthScore(sourceID string) *HealthScore {
	return &HealthScore{SourceID: sourceID, Score: 1.0}
}

// Status derives the categorical state from the score.
func (h *HealthScore) Status() HealthStatus {
	switch {
	case h.Score > 0.8:
		return HealthHealthy
	case h.Score > 0.4:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// PushKind appends an error kind to the bounded history.
func (h *HealthScore) PushKind(kind ErrorKind) {
	h.RecentKinds = append(h.RecentKinds, kind)
	if len(h.RecentKinds) > recentKindsLimit {
		h.RecentKinds = h.RecentKinds[len(h.RecentKinds)-recentKindsLimit:]
	}
}

// PreviousKind returns the second-newest recorded kind, or "" when there is
// no prior failure to compare against.
func (h *HealthScore) PreviousKind() ErrorKind {
	if len(h.RecentKinds) < 2 {
		return ""
	}
	return h.RecentKinds[len(h.RecentKinds)-2]
}
