// Package memory provides an in-memory SourceRecordRepository for library
// embedding and tests. It mirrors the postgres adapter's semantics: lazy
// creation, atomic per-source updates, records never deleted.
package memory

import (
	"context"
	"sort"
	"sync"

	"calmfetch/internal/domain/entity"
	"calmfetch/internal/repository"
)

type SourceRecordRepo struct {
	mu      sync.RWMutex
	records map[string]entity.SourceRecord
}

func NewSourceRecordRepo() repository.SourceRecordRepository {
	return &SourceRecordRepo{records: make(map[string]entity.SourceRecord)}
}

func (repo *SourceRecordRepo) Get(_ context.Context, sourceID string) (*entity.SourceRecord, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	rec, ok := repo.records[sourceID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	// Copy out so callers cannot mutate the stored record without Update.
	out := rec
	return &out, nil
}

func (repo *SourceRecordRepo) GetOrCreate(_ context.Context, sourceID string) (*entity.SourceRecord, error) {
	if err := entity.ValidateSourceID(sourceID); err != nil {
		return nil, err
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	rec, ok := repo.records[sourceID]
	if !ok {
		rec = *entity.NewSourceRecord(sourceID)
		repo.records[sourceID] = rec
	}
	out := rec
	return &out, nil
}

func (repo *SourceRecordRepo) Update(_ context.Context, record *entity.SourceRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.records[record.SourceID]; !ok {
		return entity.ErrNotFound
	}
	repo.records[record.SourceID] = *record
	return nil
}

func (repo *SourceRecordRepo) List(_ context.Context) ([]*entity.SourceRecord, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	out := make([]*entity.SourceRecord, 0, len(repo.records))
	for _, rec := range repo.records {
		copied := rec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}
