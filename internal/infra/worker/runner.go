package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"calmfetch/internal/config"
	"calmfetch/internal/domain/entity"
	"calmfetch/internal/observability/slo"
	"calmfetch/internal/repository"
	"calmfetch/internal/usecase/ingest"
)

// Ingestor is the slice of the fetch controller the sweeper needs.
type Ingestor interface {
	Ingest(ctx context.Context, sourceID, url string) (bool, error)
	Diagnostics(ctx context.Context, sourceID string) (*ingest.Snapshot, error)
}

// SweepStats summarizes one sweep over the registry.
type SweepStats struct {
	Sources   int
	Attempted int
	Refused   int
	Errors    int
	Succeeded int
	Tripped   int
	Duration  time.Duration
}

// Sweeper walks every enabled source once per tick and offers it to the
// fetch controller. The controller's gates decide per source whether
// anything actually goes out; the sweeper only supplies the rhythm and the
// concurrency bound.
type Sweeper struct {
	ingestor      Ingestor
	repo          repository.SourceRecordRepository
	sources       []config.SourceConfig
	maxConcurrent int
	logger        *slog.Logger
}

// NewSweeper creates a Sweeper over the given sources. Sources are
// dispatched in the order given; the registry hands them over sorted by
// priority, so high-priority sources claim the first slots of every sweep.
// maxConcurrent values below 1 are raised to 1.
func NewSweeper(
	ingestor Ingestor,
	repo repository.SourceRecordRepository,
	sources []config.SourceConfig,
	maxConcurrent int,
	logger *slog.Logger,
) *Sweeper {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		ingestor:      ingestor,
		repo:          repo,
		sources:       sources,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Run performs one sweep and publishes the SLO gauges. Per-source failures
// never abort the sweep; a source that errors is logged and counted.
func (s *Sweeper) Run(ctx context.Context) SweepStats {
	start := time.Now()

	var mu sync.Mutex
	stats := SweepStats{Sources: len(s.sources)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, src := range s.sources {
		src := src
		g.Go(func() error {
			attempted, err := s.ingestor.Ingest(gctx, src.Key, src.URL)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Errors++
				s.logger.Error("sweep: source failed",
					slog.String("source_id", src.Key),
					slog.String("error", err.Error()))
			case !attempted:
				stats.Refused++
			default:
				stats.Attempted++
				s.tallyOutcome(gctx, src.Key, &stats)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(start)
	s.publishSLO(ctx, stats)
	return stats
}

// tallyOutcome reads the post-attempt diagnostics to classify the attempt
// coarsely. Callers must hold the stats lock.
func (s *Sweeper) tallyOutcome(ctx context.Context, sourceID string, stats *SweepStats) {
	snap, err := s.ingestor.Diagnostics(ctx, sourceID)
	if err != nil {
		return
	}
	// A success resets the failure counter; anything else left it raised.
	if snap.FailureCount == 0 {
		stats.Succeeded++
	}
	if snap.CircuitPhase != "closed" {
		stats.Tripped++
	}
}

// publishSLO recomputes the fetch-layer SLO gauges from this sweep's tallies
// and the persisted records.
func (s *Sweeper) publishSLO(ctx context.Context, stats SweepStats) {
	if stats.Attempted > 0 {
		slo.UpdateSuccessRatio(float64(stats.Succeeded) / float64(stats.Attempted))
		slo.UpdateBlockRate(float64(stats.Tripped) / float64(stats.Attempted))
	}

	records, err := s.repo.List(ctx)
	if err != nil || len(records) == 0 {
		return
	}
	open := 0
	for _, rec := range records {
		if rec.Status == entity.SourceStatusOpen {
			open++
		}
	}
	slo.UpdateOpenSources(float64(open) / float64(len(records)))
}
