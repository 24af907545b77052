package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calmfetch/internal/domain/entity"
	"calmfetch/internal/observability/metrics"
	"calmfetch/internal/repository"
)

// SourceRecordRepo persists SourceRecords in the source_records table.
//
// Schema (one row per source key):
//
//	source_id            TEXT PRIMARY KEY
//	status               TEXT NOT NULL
//	failure_count        INTEGER NOT NULL DEFAULT 0
//	next_allowed_at      TIMESTAMPTZ NULL
//	etag                 TEXT NULL
//	last_modified        TEXT NULL
//	last_run_at          TIMESTAMPTZ NULL
//	last_success_at      TIMESTAMPTZ NULL
//	assigned_identity_id TEXT NULL
//	avg_interval_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
type SourceRecordRepo struct{ db DBHandle }

// DBHandle is the query surface the repository needs. Both *sql.DB and the
// circuit-breaker guard wrapping it satisfy this.
type DBHandle interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func NewSourceRecordRepo(db DBHandle) repository.SourceRecordRepository {
	return &SourceRecordRepo{db: db}
}

const sourceRecordColumns = `
source_id, status, failure_count, next_allowed_at, etag, last_modified,
last_run_at, last_success_at, assigned_identity_id, avg_interval_seconds`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSourceRecord maps one row onto an entity, normalizing NULLs and
// keeping timestamps in UTC so round-trips are exact.
func scanSourceRecord(row rowScanner) (*entity.SourceRecord, error) {
	var (
		rec             entity.SourceRecord
		status          string
		nextAllowedAt   sql.NullTime
		etag            sql.NullString
		lastModified    sql.NullString
		lastRunAt       sql.NullTime
		lastSuccessAt   sql.NullTime
		identityID      sql.NullString
		intervalSeconds float64
	)
	if err := row.Scan(
		&rec.SourceID, &status, &rec.FailureCount, &nextAllowedAt, &etag,
		&lastModified, &lastRunAt, &lastSuccessAt, &identityID, &intervalSeconds,
	); err != nil {
		return nil, err
	}

	rec.Status = entity.SourceStatus(status)
	rec.ETag = etag.String
	rec.LastModified = lastModified.String
	rec.AssignedIdentityID = identityID.String
	rec.AvgInterval = time.Duration(intervalSeconds * float64(time.Second))
	if nextAllowedAt.Valid {
		t := nextAllowedAt.Time.UTC()
		rec.NextAllowedAt = &t
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time.UTC()
		rec.LastRunAt = &t
	}
	if lastSuccessAt.Valid {
		t := lastSuccessAt.Time.UTC()
		rec.LastSuccessAt = &t
	}
	return &rec, nil
}

func (repo *SourceRecordRepo) Get(ctx context.Context, sourceID string) (*entity.SourceRecord, error) {
	defer observe("get")()
	query := `
SELECT ` + sourceRecordColumns + `
FROM source_records
WHERE source_id = $1
LIMIT 1`
	rec, err := scanSourceRecord(repo.db.QueryRowContext(ctx, query, sourceID))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// GetOrCreate inserts a fresh healthy row on first reference. The insert is
// ON CONFLICT DO NOTHING so concurrent first references collapse to a single
// row, then the winner (or the existing row) is read back.
func (repo *SourceRecordRepo) GetOrCreate(ctx context.Context, sourceID string) (*entity.SourceRecord, error) {
	if err := entity.ValidateSourceID(sourceID); err != nil {
		return nil, err
	}
	defer observe("get_or_create")()

	const insert = `
INSERT INTO source_records (source_id, status, failure_count, avg_interval_seconds)
VALUES ($1, $2, 0, 0)
ON CONFLICT (source_id) DO NOTHING`
	if _, err := repo.db.ExecContext(ctx, insert, sourceID, string(entity.SourceStatusHealthy)); err != nil {
		return nil, fmt.Errorf("GetOrCreate: insert: %w", err)
	}

	rec, err := repo.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreate: %w", err)
	}
	return rec, nil
}

// Update writes all mutable fields in a single statement, which is the
// per-source atomic update path required by the concurrency model.
func (repo *SourceRecordRepo) Update(ctx context.Context, record *entity.SourceRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	defer observe("update")()

	const query = `
UPDATE source_records SET
       status               = $1,
       failure_count        = $2,
       next_allowed_at      = $3,
       etag                 = $4,
       last_modified        = $5,
       last_run_at          = $6,
       last_success_at      = $7,
       assigned_identity_id = $8,
       avg_interval_seconds = $9
WHERE source_id = $10`
	res, err := repo.db.ExecContext(ctx, query,
		string(record.Status), record.FailureCount, record.NextAllowedAt,
		nullIfEmpty(record.ETag), nullIfEmpty(record.LastModified),
		record.LastRunAt, record.LastSuccessAt,
		nullIfEmpty(record.AssignedIdentityID),
		record.AvgInterval.Seconds(), record.SourceID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *SourceRecordRepo) List(ctx context.Context) ([]*entity.SourceRecord, error) {
	defer observe("list")()
	query := `
SELECT ` + sourceRecordColumns + `
FROM source_records
ORDER BY source_id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*entity.SourceRecord, 0, 50)
	for rows.Next() {
		rec, err := scanSourceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// observe times one repository operation for the query duration histogram.
func observe(operation string) func() {
	start := time.Now()
	return func() { metrics.RecordDBQuery(operation, time.Since(start)) }
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
