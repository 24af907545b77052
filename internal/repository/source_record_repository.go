package repository

import (
	"context"

	"calmfetch/internal/domain/entity"
)

// SourceRecordRepository is the durable store for per-source fetch state.
//
// Implementations must apply Update atomically per source (a single
// transaction or compare-and-swap): the record is the only resource touched
// by more than one worker for the same key, and a lost update between a
// conditional-token write and a failure-count increment corrupts future
// scheduling decisions.
type SourceRecordRepository interface {
	// Get returns the record for a source, or entity.ErrNotFound.
	Get(ctx context.Context, sourceID string) (*entity.SourceRecord, error)

	// GetOrCreate returns the record, lazily creating a fresh healthy one
	// on first reference. Records are never deleted afterwards.
	GetOrCreate(ctx context.Context, sourceID string) (*entity.SourceRecord, error)

	// Update persists all mutable fields of the record atomically.
	Update(ctx context.Context, record *entity.SourceRecord) error

	// List returns every known record, ordered by source ID.
	List(ctx context.Context) ([]*entity.SourceRecord, error)
}
