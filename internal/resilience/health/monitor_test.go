package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"calmfetch/internal/domain/entity"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestMonitor() *Monitor {
	return NewMonitor(nil, WithClock(fixedClock(testNow)))
}

func TestRecordSuccess_Recovery(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")
	h.Score = 0.5

	m.RecordSuccess(h, 200*time.Millisecond)

	assert.InDelta(t, 0.55, h.Score, 1e-9, "flat recovery increment")
	assert.Equal(t, 1, h.SuccessStreak)
	assert.Equal(t, 0, h.ErrorStreak)
	assert.Equal(t, &testNow, h.LastSuccessAt)
}

func TestRecordSuccess_SlowResponseCancelsRecovery(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")
	h.Score = 0.5

	m.RecordSuccess(h, 12*time.Second)

	assert.InDelta(t, 0.5, h.Score, 1e-9, "latency penalty eats the whole increment")
	assert.Equal(t, 1, h.SuccessStreak)
}

func TestRecordSuccess_ClampsAtOne(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s") // starts at 1.0

	m.RecordSuccess(h, time.Second)

	assert.Equal(t, 1.0, h.Score)
}

func TestRecordSuccess_AfterFailuresResetsStreaks(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")

	for i := 0; i < 3; i++ {
		m.RecordFailure(h, entity.ErrKindServerError)
	}
	before := h.Score

	m.RecordSuccess(h, time.Second)

	assert.Equal(t, 0, h.ErrorStreak)
	assert.Equal(t, 1, h.SuccessStreak)
	assert.InDelta(t, before+0.05, h.Score, 1e-9, "base recovery increment applied")
}

func TestRecordFailure_PenaltyByKindOrdering(t *testing.T) {
	// More serious classifications must cost at least as much as lesser ones.
	kinds := []entity.ErrorKind{
		entity.ErrKindNetworkTimeout,
		entity.ErrKindServerError,
		entity.ErrKindClientError,
		entity.ErrKindSoftBlock,
		entity.ErrKindHardBlock,
	}

	var prevDrop float64
	for _, kind := range kinds {
		m := newTestMonitor()
		h := entity.NewHealthScore("s")
		m.RecordFailure(h, kind)
		drop := 1.0 - h.Score
		assert.GreaterOrEqual(t, drop, prevDrop, "kind %s", kind)
		prevDrop = drop
	}
}

func TestRecordFailure_HardBlockZeroesScore(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")

	m.RecordFailure(h, entity.ErrKindHardBlock)

	assert.Equal(t, 0.0, h.Score)
	assert.Equal(t, entity.HealthUnhealthy, h.Status())
}

func TestRecordFailure_EscalationMonotoneAndCapped(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")

	base := penaltyByKind[entity.ErrKindNetworkTimeout]
	maxPenalty := base * 3.0

	var prevPenalty float64
	for i := 0; i < 8; i++ {
		before := h.Score
		m.RecordFailure(h, entity.ErrKindNetworkTimeout)
		penalty := before - h.Score
		if h.Score == 0 {
			break // clamped, applied penalty no longer observable
		}
		assert.GreaterOrEqual(t, penalty, prevPenalty, "occurrence %d", i+1)
		assert.LessOrEqual(t, penalty, maxPenalty+1e-9, "occurrence %d", i+1)
		prevPenalty = penalty
	}
}

func TestRecordFailure_NoEscalationAcrossDifferentKinds(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")

	m.RecordFailure(h, entity.ErrKindServerError)
	before := h.Score
	m.RecordFailure(h, entity.ErrKindNetworkTimeout)

	assert.InDelta(t, penaltyByKind[entity.ErrKindNetworkTimeout], before-h.Score, 1e-9,
		"a different kind pays only its base penalty")
}

func TestRecordFailure_ClampsAtZero(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")

	for i := 0; i < 20; i++ {
		m.RecordFailure(h, entity.ErrKindSoftBlock)
	}

	assert.Equal(t, 0.0, h.Score)
}

func TestStreaksNeverBothNonZero(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")

	ops := []func(){
		func() { m.RecordFailure(h, entity.ErrKindServerError) },
		func() { m.RecordSuccess(h, time.Second) },
		func() { m.RecordFailure(h, entity.ErrKindSoftBlock) },
		func() { m.RecordFailure(h, entity.ErrKindSoftBlock) },
		func() { m.RecordSuccess(h, time.Second) },
		func() { m.RecordSuccess(h, time.Second) },
	}
	for i, op := range ops {
		op()
		assert.False(t, h.ErrorStreak != 0 && h.SuccessStreak != 0,
			"streak invariant violated after op %d", i)
	}
}

func TestRecordSuccess_LatencyEMA(t *testing.T) {
	m := newTestMonitor()
	h := entity.NewHealthScore("s")

	m.RecordSuccess(h, time.Second)
	assert.Equal(t, time.Second, h.AvgLatency, "first sample seeds the average")

	m.RecordSuccess(h, 2*time.Second)
	assert.InDelta(t, float64(1200*time.Millisecond), float64(h.AvgLatency), float64(time.Millisecond))
}
