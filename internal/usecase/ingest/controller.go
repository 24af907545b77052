package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"calmfetch/internal/behavior"
	"calmfetch/internal/domain/entity"
	"calmfetch/internal/observability/tracing"
	"calmfetch/internal/repository"
	"calmfetch/internal/resilience/circuitbreaker"
)

// Controller is the only permitted entry point into the fetch client. It
// re-validates every gating authority itself before delegating, rather than
// trusting that its caller checked; a future caller that bypasses one layer
// still cannot get an ungated request out.
type Controller struct {
	client    *Client
	repo      repository.SourceRecordRepository
	scheduler *behavior.Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithControllerClock injects a time source for tests.
func WithControllerClock(now func() time.Time) ControllerOption {
	return func(ctrl *Controller) { ctrl.now = now }
}

// NewController creates a Controller. A nil logger falls back to slog.Default.
func NewController(
	client *Client,
	repo repository.SourceRecordRepository,
	scheduler *behavior.Scheduler,
	logger *slog.Logger,
	opts ...ControllerOption,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	ctrl := &Controller{
		client:    client,
		repo:      repo,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	return ctrl
}

// Ingest attempts one gated fetch for a source. It returns true when an
// attempt actually executed, even if the attempt ended in a handled failure
// outcome, and false when the fetch was silently refused or skipped. Errors
// are reserved for contract violations and storage failures.
func (ctrl *Controller) Ingest(ctx context.Context, sourceID, url string) (bool, error) {
	if strings.TrimSpace(sourceID) == "" {
		return false, ErrEmptySourceID
	}
	if strings.TrimSpace(url) == "" {
		return false, ErrEmptyURL
	}

	ctx, span := tracing.GetTracer().Start(ctx, "ingest.fetch",
		trace.WithAttributes(attribute.String("source.id", sourceID)))
	defer span.End()

	record, err := ctrl.repo.GetOrCreate(ctx, sourceID)
	if err != nil {
		return false, fmt.Errorf("Ingest: %w", err)
	}

	// Pre-checks mirror the client's own gates, read-only and redundant on
	// purpose. Probe permission is never taken here; that is the client's.
	// An open breaker whose cooldown has elapsed falls through untouched so
	// the client can claim the recovery probe.
	breaker := ctrl.client.BreakerFor(sourceID)
	if until, open := breaker.NextAllowedAt(); open && ctrl.now().UTC().Before(until) {
		span.AddEvent("refused: circuit open")
		return false, nil
	}
	if breaker.Phase() == circuitbreaker.PhaseClosed {
		if ctrl.client.HealthFor(sourceID).Status() == entity.HealthUnhealthy {
			span.AddEvent("refused: unhealthy")
			return false, nil
		}
		if !ctrl.scheduler.ShouldFetchNow(record) {
			span.AddEvent("refused: not due")
			return false, nil
		}
	}

	result, err := ctrl.client.Fetch(ctx, url, sourceID, false)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("Ingest: %w", err)
	}
	if result == nil {
		span.AddEvent("refused by client gate")
		return false, nil
	}

	span.SetAttributes(
		attribute.String("fetch.outcome", string(result.Outcome)),
		attribute.Int("fetch.status_code", result.StatusCode),
		attribute.Bool("fetch.proxy_used", result.ProxyUsed),
	)
	ctrl.logger.Info("fetch attempt completed",
		slog.String("source_id", sourceID),
		slog.String("outcome", string(result.Outcome)),
		slog.Int("status_code", result.StatusCode))
	return true, nil
}

// Snapshot is the read-only diagnostics view of one source's gating state.
type Snapshot struct {
	SourceID        string
	SchedulerReady  bool
	HealthScore     float64
	HealthStatus    entity.HealthStatus
	CircuitPhase    string
	FailureCount    int
	NextScheduledAt time.Time
}

// Diagnostics reports the current gating state for a source without mutating
// anything.
func (ctrl *Controller) Diagnostics(ctx context.Context, sourceID string) (*Snapshot, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, ErrEmptySourceID
	}

	record, err := ctrl.repo.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("Diagnostics: %w", err)
	}

	healthState := ctrl.client.HealthFor(sourceID)
	breaker := ctrl.client.BreakerFor(sourceID)

	return &Snapshot{
		SourceID:        sourceID,
		SchedulerReady:  ctrl.scheduler.ShouldFetchNow(record),
		HealthScore:     healthState.Score,
		HealthStatus:    healthState.Status(),
		CircuitPhase:    breaker.Phase().String(),
		FailureCount:    record.FailureCount,
		NextScheduledAt: ctrl.scheduler.NextFetchAt(record),
	}, nil
}
