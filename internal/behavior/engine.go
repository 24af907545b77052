// Package behavior controls the rhythm of outbound fetches: when a source is
// due, whether to skip it anyway, and how long to hesitate before acting.
//
// The engine injects deliberate inefficiency. A client that polls on exact
// intervals, never misses a check and fires requests at machine speed is
// trivially distinguishable from a person; randomized jitter, occasional
// skips and think-time pauses break those patterns.
package behavior

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"calmfetch/internal/domain/entity"
)

const (
	// defaultAvgInterval is used for records that have no learned interval yet.
	defaultAvgInterval = 30 * time.Second
	minInterval        = 5 * time.Second

	// jitterFactor spreads each interval by +/-40%.
	jitterFactor = 0.4

	// baseSkipChance is the floor probability of skipping a due fetch.
	// Degraded health raises it by (0.8 - score) * 0.5.
	baseSkipChance      = 0.05
	skipHealthThreshold = 0.8

	thinkTimeMin = 500 * time.Millisecond
	thinkTimeMax = 3 * time.Second

	skipRescheduleMin = 10 * time.Minute
	skipRescheduleMax = 60 * time.Minute

	// longPauseChance breaks regular visit patterns with a rare 1-4h silence.
	longPauseChance = 0.01
	longPauseMin    = 60 * time.Minute
	longPauseMax    = 240 * time.Minute
)

// Action is the engine's directive for the immediate next step on a source.
// It is ephemeral and generated fresh at each decision point.
type Action struct {
	Skip               bool
	ThinkTime          time.Duration
	NextScheduledFetch time.Time
	Reason             string
}

// Engine decides how a careful human visitor would act right now, factoring
// in source health and randomized distraction.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRand injects a deterministic random source for tests.
func WithRand(rng *rand.Rand) EngineOption {
	return func(e *Engine) { e.rng = rng }
}

// NewEngine creates an Engine. A nil logger falls back to slog.Default.
func NewEngine(logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger: logger,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NextAction rolls the skip probability, picks a think-time delay and
// schedules the subsequent visit. The lower the health score below 0.8, the
// likelier the skip: an annoyed source gets visited less, not retried more.
func (e *Engine) NextAction(record *entity.SourceRecord, health *entity.HealthScore) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()

	skipChance := baseSkipChance
	if health != nil && health.Score < skipHealthThreshold {
		skipChance += (skipHealthThreshold - health.Score) * 0.5
	}

	if e.rng.Float64() < skipChance {
		delay := skipRescheduleMin +
			time.Duration(e.rng.Int63n(int64(skipRescheduleMax-skipRescheduleMin)))
		return Action{
			Skip:               true,
			NextScheduledFetch: now.Add(delay),
			Reason:             "simulated_skip",
		}
	}

	think := thinkTimeMin +
		time.Duration(e.rng.Int63n(int64(thinkTimeMax-thinkTimeMin)))

	return Action{
		ThinkTime:          think,
		NextScheduledFetch: e.nextFetchTime(record, now),
		Reason:             "standard_fetch",
	}
}

// nextFetchTime spreads the learned interval by jitter, floors it at the
// minimum and occasionally adds a long pause. Callers must hold e.mu.
func (e *Engine) nextFetchTime(record *entity.SourceRecord, now time.Time) time.Time {
	avg := record.AvgInterval
	if avg <= 0 {
		avg = defaultAvgInterval
	}

	jitterRange := float64(avg) * jitterFactor
	jitter := (e.rng.Float64()*2 - 1) * jitterRange
	interval := time.Duration(float64(avg) + jitter)
	if interval < minInterval {
		interval = minInterval
	}

	next := now.Add(interval)

	if e.rng.Float64() < longPauseChance {
		pause := longPauseMin +
			time.Duration(e.rng.Int63n(int64(longPauseMax-longPauseMin)))
		next = next.Add(pause)
		e.logger.Info("applied long pause",
			slog.String("source_id", record.SourceID),
			slog.Duration("pause", pause))
	}

	return next
}
