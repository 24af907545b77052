package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(clock *fakeClock) *SourceBreaker {
	return NewSourceBreaker("src-1", nil, WithClock(clock.Now))
}

func TestSourceBreaker_ClosedAllows(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	allowed, probe := b.CanFetch()
	if !allowed {
		t.Error("expected closed breaker to allow")
	}
	if probe {
		t.Error("expected no probe in closed phase")
	}
	if b.Phase() != PhaseClosed {
		t.Errorf("expected phase=closed, got %v", b.Phase())
	}
}

func TestSourceBreaker_TripRefusesUntilCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.Trip()
	if b.Phase() != PhaseOpen {
		t.Fatalf("expected phase=open after trip, got %v", b.Phase())
	}

	if allowed, _ := b.CanFetch(); allowed {
		t.Error("expected refusal immediately after trip")
	}

	clock.Advance(59 * time.Minute)
	if allowed, _ := b.CanFetch(); allowed {
		t.Error("expected refusal before first cooldown tier elapses")
	}

	clock.Advance(2 * time.Minute)
	allowed, probe := b.CanFetch()
	if !allowed || !probe {
		t.Errorf("expected probe permission after cooldown, got allowed=%v probe=%v", allowed, probe)
	}
	if b.Phase() != PhaseHalfOpen {
		t.Errorf("expected phase=half-open, got %v", b.Phase())
	}
}

func TestSourceBreaker_TripWhileOpenIsNoOp(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.Trip()
	first, _ := b.NextAllowedAt()

	clock.Advance(30 * time.Minute)
	b.Trip() // must not restart or escalate the cooldown

	second, ok := b.NextAllowedAt()
	if !ok {
		t.Fatal("expected breaker to still be open")
	}
	if !second.Equal(first) {
		t.Errorf("expected cooldown unchanged, got %v then %v", first, second)
	}
}

func TestSourceBreaker_SingleProbePermission(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.Trip()
	clock.Advance(time.Hour)

	if allowed, probe := b.CanFetch(); !allowed || !probe {
		t.Fatalf("expected first caller to get the probe, got allowed=%v probe=%v", allowed, probe)
	}

	// Every caller after the probe holder is refused until the probe resolves.
	for i := 0; i < 5; i++ {
		if allowed, _ := b.CanFetch(); allowed {
			t.Fatalf("caller %d allowed while probe in flight", i)
		}
	}
}

func TestSourceBreaker_ProbeSuccessClosesAndResets(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	// Escalate to the second tier first.
	b.Trip()
	clock.Advance(time.Hour)
	b.CanFetch()
	b.ProbeFailed()

	clock.Advance(6 * time.Hour)
	b.CanFetch()
	b.ProbeSucceeded()

	if b.Phase() != PhaseClosed {
		t.Fatalf("expected phase=closed after successful probe, got %v", b.Phase())
	}

	// A fresh trip starts over at the first tier.
	b.Trip()
	next, ok := b.NextAllowedAt()
	if !ok {
		t.Fatal("expected breaker open")
	}
	if got := next.Sub(clock.Now()); got != time.Hour {
		t.Errorf("expected cooldown reset to 1h, got %v", got)
	}
}

func TestSourceBreaker_ProbeFailureEscalatesAndCaps(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.Trip()

	want := []time.Duration{6 * time.Hour, 24 * time.Hour, 48 * time.Hour, 48 * time.Hour}
	for i, expected := range want {
		next, _ := b.NextAllowedAt()
		clock.Advance(next.Sub(clock.Now()))

		if allowed, probe := b.CanFetch(); !allowed || !probe {
			t.Fatalf("cycle %d: expected probe permission", i)
		}
		b.ProbeFailed()

		next, ok := b.NextAllowedAt()
		if !ok {
			t.Fatalf("cycle %d: expected breaker open", i)
		}
		if got := next.Sub(clock.Now()); got != expected {
			t.Errorf("cycle %d: expected cooldown %v, got %v", i, expected, got)
		}
	}
}

func TestSourceBreaker_NextAllowedAtWhenNotOpen(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	if _, ok := b.NextAllowedAt(); ok {
		t.Error("expected no deadline while closed")
	}
}

func TestSourceBreaker_ConcurrentProbeGrantedOnce(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.Trip()
	clock.Advance(time.Hour)

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	probes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, probe := b.CanFetch(); allowed && probe {
				mu.Lock()
				probes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if probes != 1 {
		t.Errorf("expected exactly 1 probe permission, got %d", probes)
	}
}

func TestRegistry_ReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(nil)

	a := r.For("src-a")
	if got := r.For("src-a"); got != a {
		t.Error("expected same breaker instance for same source")
	}
	if got := r.For("src-b"); got == a {
		t.Error("expected distinct breakers for distinct sources")
	}
}

func TestRegistry_ConcurrentFor(t *testing.T) {
	r := NewRegistry(nil)

	const workers = 16
	results := make([]*SourceBreaker, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.For("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("expected all goroutines to receive the same breaker")
		}
	}
}

func TestSourceBreaker_PhaseNumericEncoding(t *testing.T) {
	// The circuit_phase gauge publishes int(Phase); dashboards depend on
	// this encoding staying put.
	for phase, want := range map[Phase]int{PhaseClosed: 0, PhaseOpen: 1, PhaseHalfOpen: 2} {
		if got := int(phase); got != want {
			t.Errorf("phase %v: expected %d, got %d", phase, want, got)
		}
	}
}
