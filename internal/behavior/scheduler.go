package behavior

import (
	"time"

	"calmfetch/internal/domain/entity"
)

// Scheduler answers whether a source is due right now. It reads the durable
// record only; the randomized decisions live in the Engine, consulted after
// the timing gate passes.
type Scheduler struct {
	engine *Engine
	now    func() time.Time
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock injects a time source for tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler driving the given engine.
func NewScheduler(engine *Engine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldFetchNow reports whether a fetch may be attempted. It refuses while
// the record is cooling down, and gates on the learned interval (shrunk by
// the jitter factor so the engine's jittered schedule is never starved by
// this check).
func (s *Scheduler) ShouldFetchNow(record *entity.SourceRecord) bool {
	now := s.now().UTC()

	if record.IsCoolingDown(now) {
		return false
	}

	if record.LastRunAt == nil {
		return true
	}

	avg := record.AvgInterval
	if avg <= 0 {
		avg = defaultAvgInterval
	}
	floor := time.Duration(float64(avg) * (1 - jitterFactor))
	return now.Sub(*record.LastRunAt) >= floor
}

// NextAction consults the engine. Call it only after ShouldFetchNow returned
// true; the engine may still decide to skip.
func (s *Scheduler) NextAction(record *entity.SourceRecord, health *entity.HealthScore) Action {
	return s.engine.NextAction(record, health)
}

// NextFetchAt returns a safe time for an external job queue to re-check the
// source. It is a prediction, not a promise; the engine re-rolls on wake.
func (s *Scheduler) NextFetchAt(record *entity.SourceRecord) time.Time {
	now := s.now().UTC()

	if record.NextAllowedAt != nil && record.NextAllowedAt.After(now) {
		return *record.NextAllowedAt
	}
	if record.LastRunAt == nil {
		return now
	}

	avg := record.AvgInterval
	if avg <= 0 {
		avg = defaultAvgInterval
	}
	return record.LastRunAt.Add(avg)
}
