// Package circuitbreaker stops all traffic to a source that has proven
// unhealthy and lets it back in gradually through single probe requests.
//
// The per-source breaker here is hand-rolled rather than gobreaker-based:
// it trips on an external health signal instead of a failure ratio, and its
// open cooldown escalates across consecutive open cycles. gobreaker is still
// used for protecting database calls (see db.go).
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// Phase is the current state of a source breaker.
type Phase int

const (
	// PhaseClosed allows requests. This is the normal operating state.
	PhaseClosed Phase = iota

	// PhaseOpen refuses all requests until the cooldown elapses.
	PhaseOpen

	// PhaseHalfOpen allows exactly one probe request to test recovery.
	PhaseHalfOpen
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseOpen:
		return "open"
	case PhaseHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// cooldownTiers escalates the open duration across consecutive open cycles.
// A source that fails its recovery probe waits longer each time.
var cooldownTiers = []time.Duration{
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	48 * time.Hour,
}

// SourceBreaker is a three-state circuit breaker for a single source.
//
// Unlike a conventional breaker it does not count failures itself: the
// health monitor decides when a source is unhealthy and the caller trips
// the breaker explicitly. The open->half-open transition is lazy, performed
// inside CanFetch when the cooldown has elapsed, and only the caller that
// performed the transition receives probe permission.
type SourceBreaker struct {
	sourceID string
	logger   *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	phase          Phase
	openCycleCount int
	openedAt       time.Time
	cooldown       time.Duration
	probeInFlight  bool
}

// BreakerOption customizes a SourceBreaker.
type BreakerOption func(*SourceBreaker)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *SourceBreaker) { b.now = now }
}

// NewSourceBreaker creates a breaker in the closed phase.
// A nil logger falls back to slog.Default.
func NewSourceBreaker(sourceID string, logger *slog.Logger, opts ...BreakerOption) *SourceBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &SourceBreaker{
		sourceID: sourceID,
		logger:   logger,
		now:      time.Now,
		phase:    PhaseClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Trip opens the breaker in response to an unhealthy signal. A breaker that
// is already open or half-open is left alone; the probe path owns escalation
// once the breaker has opened.
func (b *SourceBreaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != PhaseClosed {
		return
	}
	b.open()
}

// CanFetch reports whether a request to this source may proceed right now.
// The second return value is true when the permitted request is a recovery
// probe: the caller must report the probe result via ProbeSucceeded or
// ProbeFailed, or no further requests will ever be allowed.
func (b *SourceBreaker) CanFetch() (allowed, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case PhaseClosed:
		return true, false

	case PhaseOpen:
		if b.now().Before(b.openedAt.Add(b.cooldown)) {
			return false, false
		}
		b.phase = PhaseHalfOpen
		b.probeInFlight = true
		b.logger.Info("circuit half-open, probing",
			slog.String("source_id", b.sourceID),
			slog.Int("open_cycle", b.openCycleCount))
		return true, true

	case PhaseHalfOpen:
		if b.probeInFlight {
			return false, false
		}
		b.probeInFlight = true
		return true, true

	default:
		return false, false
	}
}

// ProbeSucceeded closes the breaker after a successful recovery probe and
// resets the open cycle count so a future trip starts at the shortest
// cooldown again.
func (b *SourceBreaker) ProbeSucceeded() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != PhaseHalfOpen {
		return
	}
	b.phase = PhaseClosed
	b.openCycleCount = 0
	b.probeInFlight = false
	b.logger.Warn("circuit closed after successful probe",
		slog.String("source_id", b.sourceID))
}

// ProbeFailed reopens the breaker with the next, longer cooldown tier.
func (b *SourceBreaker) ProbeFailed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != PhaseHalfOpen {
		return
	}
	b.probeInFlight = false
	b.open()
}

// open transitions to PhaseOpen with the cooldown for the next cycle.
// Callers must hold b.mu.
func (b *SourceBreaker) open() {
	b.openCycleCount++
	tier := b.openCycleCount - 1
	if tier >= len(cooldownTiers) {
		tier = len(cooldownTiers) - 1
	}
	b.phase = PhaseOpen
	b.cooldown = cooldownTiers[tier]
	b.openedAt = b.now()

	b.logger.Warn("circuit opened",
		slog.String("source_id", b.sourceID),
		slog.Int("open_cycle", b.openCycleCount),
		slog.Duration("cooldown", b.cooldown))
}

// Phase returns the current phase without triggering lazy transitions.
func (b *SourceBreaker) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// NextAllowedAt returns when the current cooldown ends. The second return
// value is false when the breaker is not open.
func (b *SourceBreaker) NextAllowedAt() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != PhaseOpen {
		return time.Time{}, false
	}
	return b.openedAt.Add(b.cooldown), true
}

// Registry hands out one breaker per source, created on first use.
type Registry struct {
	logger *slog.Logger
	opts   []BreakerOption

	mu       sync.Mutex
	breakers map[string]*SourceBreaker
}

// NewRegistry creates an empty breaker registry. The options are applied to
// every breaker it creates.
func NewRegistry(logger *slog.Logger, opts ...BreakerOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		opts:     opts,
		breakers: make(map[string]*SourceBreaker),
	}
}

// For returns the breaker for the given source, creating it if needed.
func (r *Registry) For(sourceID string) *SourceBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[sourceID]; ok {
		return b
	}
	b := NewSourceBreaker(sourceID, r.logger, r.opts...)
	r.breakers[sourceID] = b
	return b
}
