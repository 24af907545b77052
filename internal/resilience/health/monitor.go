// Package health turns fetch outcomes into a continuous per-source trust
// score and a coarse status used by the scheduler and circuit breaker.
//
// Two rules shape the arithmetic: failures have momentum (repeated identical
// failures escalate the penalty), and trust is earned slowly (recovery is a
// small flat increment, degradation is not).
package health

import (
	"log/slog"
	"time"

	"calmfetch/internal/domain/entity"
)

const (
	// recoveryIncrement is the flat score bonus for a success.
	recoveryIncrement = 0.05

	// slowResponseThreshold marks a response as suspiciously slow; the
	// recovery bonus is reduced by latencyPenalty beyond it.
	slowResponseThreshold = 10 * time.Second
	latencyPenalty        = 0.05

	// escalationStreakCap bounds the repeat-failure multiplier:
	// 1 + 0.5*min(streak, cap) peaks at 3.0x.
	escalationStreakCap = 4

	// latencyEMAAlpha weighs the newest latency sample in the moving average.
	latencyEMAAlpha = 0.2
)

// penaltyByKind is the weighted cost of each failure classification.
// A hard block drives the score straight toward zero.
var penaltyByKind = map[entity.ErrorKind]float64{
	entity.ErrKindNetworkTimeout: 0.1,
	entity.ErrKindServerError:    0.15,
	entity.ErrKindClientError:    0.2,
	entity.ErrKindSoftBlock:      0.3,
	entity.ErrKindHardBlock:      1.0,
	entity.ErrKindContentEmpty:   0.1,
	entity.ErrKindParseError:     0.05,
}

const defaultPenalty = 0.1

// Monitor evaluates and updates source health based on interaction outcomes.
type Monitor struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a Monitor. A nil logger falls back to slog.Default.
func NewMonitor(logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordSuccess registers a successful interaction: the error streak resets,
// the success streak grows and the score recovers by a small increment,
// reduced when the response was slow. The score is clamped to [0, 1].
func (m *Monitor) RecordSuccess(h *entity.HealthScore, latency time.Duration) {
	now := m.now().UTC()

	h.ErrorStreak = 0
	h.SuccessStreak++
	h.LastSuccessAt = &now

	if h.AvgLatency == 0 {
		h.AvgLatency = latency
	} else {
		h.AvgLatency = time.Duration(
			float64(h.AvgLatency)*(1-latencyEMAAlpha) + float64(latency)*latencyEMAAlpha)
	}

	gain := recoveryIncrement
	if latency > slowResponseThreshold {
		gain -= latencyPenalty
		m.logger.Debug("slow response reduced recovery",
			slog.String("source_id", h.SourceID),
			slog.Duration("latency", latency))
	}
	if gain < 0 {
		gain = 0
	}

	h.Score = clamp(h.Score + gain)
}

// RecordFailure registers a failed interaction: the success streak resets,
// the error streak grows, the kind is appended to the bounded history and a
// weighted penalty is applied. When the same kind repeats back to back the
// penalty is multiplied, up to 3x. The score is clamped to [0, 1].
func (m *Monitor) RecordFailure(h *entity.HealthScore, kind entity.ErrorKind) {
	now := m.now().UTC()

	h.SuccessStreak = 0
	h.ErrorStreak++
	h.LastFailureAt = &now
	h.PushKind(kind)

	penalty, ok := penaltyByKind[kind]
	if !ok {
		penalty = defaultPenalty
	}

	if h.ErrorStreak > 1 && h.PreviousKind() == kind {
		streak := h.ErrorStreak
		if streak > escalationStreakCap {
			streak = escalationStreakCap
		}
		multiplier := 1.0 + 0.5*float64(streak)
		penalty *= multiplier
		m.logger.Info("escalating repeated-failure penalty",
			slog.String("source_id", h.SourceID),
			slog.String("kind", string(kind)),
			slog.Int("error_streak", h.ErrorStreak),
			slog.Float64("multiplier", multiplier))
	}

	h.Score = clamp(h.Score - penalty)

	m.logger.Warn("source health dropped",
		slog.String("source_id", h.SourceID),
		slog.String("kind", string(kind)),
		slog.Float64("penalty", penalty),
		slog.Float64("score", h.Score))
}

// StatusOf categorizes a continuous score into a decision status.
func (m *Monitor) StatusOf(h *entity.HealthScore) entity.HealthStatus {
	return h.Status()
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
