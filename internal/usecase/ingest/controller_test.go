package ingest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmfetch/internal/domain/entity"
)

func newControllerHarness(t *testing.T, fn func(int, *http.Request) (*http.Response, error)) (*harness, *Controller) {
	t.Helper()
	h := newHarness(t, nil, fn)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := NewController(h.client, h.repo, h.scheduler, logger, WithControllerClock(h.clock.Now))
	return h, ctrl
}

// ingestAttempt drives Ingest until an attempt executes, re-arming the
// schedule after randomized skips.
func ingestAttempt(t *testing.T, h *harness, ctrl *Controller, sourceID, url string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		attempted, err := ctrl.Ingest(context.Background(), sourceID, url)
		require.NoError(t, err)
		if attempted {
			return
		}
		h.forceDue(t, sourceID)
	}
	t.Fatal("ingest never executed an attempt")
}

func TestIngestContractViolations(t *testing.T) {
	_, ctrl := newControllerHarness(t, func(int, *http.Request) (*http.Response, error) {
		return httpResponse(200, string(longBody(2048)), nil), nil
	})

	_, err := ctrl.Ingest(context.Background(), "", "https://example.org/feed")
	assert.ErrorIs(t, err, ErrEmptySourceID)

	_, err = ctrl.Ingest(context.Background(), "src-1", "   ")
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestIngestReportsAttemptedOnHandledFailure(t *testing.T) {
	h, ctrl := newControllerHarness(t, func(int, *http.Request) (*http.Response, error) {
		return httpResponse(503, "", nil), nil
	})

	// A failure outcome still counts as an executed attempt.
	ingestAttempt(t, h, ctrl, "src-1", "https://example.org/feed")
	assert.Equal(t, 1, h.record(t, "src-1").FailureCount)
}

func TestIngestRefusesWhileCircuitOpen(t *testing.T) {
	h, ctrl := newControllerHarness(t, func(int, *http.Request) (*http.Response, error) {
		return httpResponse(200, string(longBody(2048)), nil), nil
	})

	h.client.BreakerFor("src-1").Trip()

	attempted, err := ctrl.Ingest(context.Background(), "src-1", "https://example.org/feed")
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, 0, h.rt.callCount())
}

func TestIngestRefusesUntilDueAgain(t *testing.T) {
	h, ctrl := newControllerHarness(t, func(int, *http.Request) (*http.Response, error) {
		return httpResponse(200, string(longBody(2048)), nil), nil
	})

	ingestAttempt(t, h, ctrl, "src-1", "https://example.org/feed")
	executed := h.rt.callCount()

	// The success rescheduled the next visit; an immediate retry is refused.
	attempted, err := ctrl.Ingest(context.Background(), "src-1", "https://example.org/feed")
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, executed, h.rt.callCount())
}

func TestDiagnostics(t *testing.T) {
	h, ctrl := newControllerHarness(t, func(int, *http.Request) (*http.Response, error) {
		return httpResponse(200, string(longBody(2048)), nil), nil
	})

	_, err := ctrl.Diagnostics(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySourceID)

	_, err = ctrl.Diagnostics(context.Background(), "never-seen")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	ingestAttempt(t, h, ctrl, "src-1", "https://example.org/feed")

	snap, err := ctrl.Diagnostics(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Equal(t, "src-1", snap.SourceID)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, "closed", snap.CircuitPhase)
	assert.Equal(t, entity.HealthHealthy, snap.HealthStatus)
	assert.InDelta(t, 1.0, snap.HealthScore, 0.001)
	assert.False(t, snap.SchedulerReady, "just fetched, so the source is not due")
	assert.True(t, snap.NextScheduledAt.After(h.clock.Now().UTC().Add(-time.Second)))
}

func TestIngestRefusesUnhealthySource(t *testing.T) {
	h, ctrl := newControllerHarness(t, func(int, *http.Request) (*http.Response, error) {
		return httpResponse(200, string(longBody(2048)), nil), nil
	})

	_, err := h.repo.GetOrCreate(context.Background(), "src-1")
	require.NoError(t, err)

	// Drop the score below the unhealthy threshold while the breaker stays
	// closed; the controller's own gate refuses before reaching the client.
	state := h.client.healthFor("src-1")
	h.client.healthMu.Lock()
	state.Score = 0.2
	h.client.healthMu.Unlock()

	attempted, err := ctrl.Ingest(context.Background(), "src-1", "https://example.org/feed")
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, 0, h.rt.callCount())

	// The diagnostics view is a detached copy; writing through it must not
	// loosen the gate.
	view := h.client.HealthFor("src-1")
	view.Score = 1.0

	attempted, err = ctrl.Ingest(context.Background(), "src-1", "https://example.org/feed")
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, 0, h.rt.callCount())
}

func TestDiagnosticsDuringConcurrentFetches(t *testing.T) {
	h, ctrl := newControllerHarness(t, func(call int, _ *http.Request) (*http.Response, error) {
		// An occasional failure keeps both scoring paths busy without
		// drifting the source below the breaker's trip threshold.
		if call%5 == 0 {
			return httpResponse(503, "", nil), nil
		}
		return httpResponse(200, string(longBody(2048)), nil), nil
	})

	ctx := context.Background()
	_, err := h.repo.GetOrCreate(ctx, "src-1")
	require.NoError(t, err)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; i < 150; i++ {
			if _, err := h.client.Fetch(ctx, "https://example.org/feed", "src-1", false); err != nil {
				return
			}
			rec, err := h.repo.Get(ctx, "src-1")
			if err != nil {
				return
			}
			rec.NextAllowedAt = nil
			past := h.clock.Now().UTC().Add(-time.Hour)
			rec.LastRunAt = &past
			if err := h.repo.Update(ctx, rec); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 150; i++ {
		snap, err := ctrl.Diagnostics(ctx, "src-1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.HealthScore, 0.0)
		assert.LessOrEqual(t, snap.HealthScore, 1.0)
		assert.NotEmpty(t, snap.CircuitPhase)
	}

	<-writerDone
}
