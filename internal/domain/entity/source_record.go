// Package entity defines the core domain entities and validation logic for the application.
// It contains the fundamental business objects such as SourceRecord and HealthScore, along
// with their validation rules and domain-specific errors.
package entity

import (
	"time"
)

// SourceStatus is the coarse operational state of a source, persisted for
// cross-run continuity. It is deliberately coarser than the continuous health
// score: the scheduler and operators reason about three buckets, not floats.
type SourceStatus string

const (
	SourceStatusHealthy  SourceStatus = "healthy"
	SourceStatusDegraded SourceStatus = "degraded"
	SourceStatusOpen     SourceStatus = "open"
)

// Valid reports whether the status is one of the recognized values.
func (s SourceStatus) Valid() bool {
	switch s {
	case SourceStatusHealthy, SourceStatusDegraded, SourceStatusOpen:
		return true
	}
	return false
}

// openFloorFailureCount is the consecutive-failure count at which a record
// must be forced into the open status with a long cooldown.
const openFloorFailureCount = 5

// openFloorCooldown is the minimum cooldown applied when the failure-count
// floor forces a record open.
const openFloorCooldown = 24 * time.Hour

// SourceRecord is the durable per-source state: health bucket, circuit
// bookkeeping, conditional-fetch validators and identity binding. One record
// exists per logical source; records are created lazily on first reference
// and never deleted.
//
// AssignedIdentityID is a weak reference: the identity manager owns the
// profile object and may retire it independently. The record only remembers
// which profile was presented last, so a restart can re-bind to it.
type SourceRecord struct {
	SourceID     string
	Status       SourceStatus
	FailureCount int

	// NextAllowedAt gates scheduling: no fetch may start before this instant.
	NextAllowedAt *time.Time

	// Conditional fetch validators (RFC 9110 §8.8). Stored verbatim.
	ETag         string
	LastModified string

	LastRunAt     *time.Time
	LastSuccessAt *time.Time

	AssignedIdentityID string

	// AvgInterval is the nominal spacing between fetches for this source,
	// before jitter. Zero means "use the configured default".
	AvgInterval time.Duration
}

// NewSourceRecord returns a fresh record in the healthy state.
func NewSourceRecord(sourceID string) *SourceRecord {
	return &SourceRecord{
		SourceID: sourceID,
		Status:   SourceStatusHealthy,
	}
}

// Validate checks the record's structural invariants.
func (r *SourceRecord) Validate() error {
	if r.SourceID == "" {
		return &ValidationError{Field: "source_id", Message: "source ID is required"}
	}
	if r.Status == "" {
		r.Status = SourceStatusHealthy
	}
	if !r.Status.Valid() {
		return &ValidationError{Field: "status", Message: "status must be healthy, degraded, or open"}
	}
	if r.FailureCount < 0 {
		return &ValidationError{Field: "failure_count", Message: "failure count cannot be negative"}
	}
	return nil
}

// RecordFailure increments the consecutive-failure counter and enforces the
// failure-count floor: five consecutive failures force the record open with
// at least a 24h cooldown, regardless of what the breaker decided.
func (r *SourceRecord) RecordFailure(now time.Time) {
	r.FailureCount++
	r.LastRunAt = &now
	if r.FailureCount >= openFloorFailureCount {
		r.Status = SourceStatusOpen
		floor := now.Add(openFloorCooldown)
		if r.NextAllowedAt == nil || r.NextAllowedAt.Before(floor) {
			r.NextAllowedAt = &floor
		}
	}
}

// RecordSuccess resets the consecutive-failure counter and stamps the
// success timestamps.
func (r *SourceRecord) RecordSuccess(now time.Time) {
	r.FailureCount = 0
	r.LastRunAt = &now
	r.LastSuccessAt = &now
}

// IsCoolingDown reports whether the record is inside its NextAllowedAt gate.
func (r *SourceRecord) IsCoolingDown(now time.Time) bool {
	return r.NextAllowedAt != nil && now.Before(*r.NextAllowedAt)
}
