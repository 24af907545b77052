package db

import (
	"database/sql"
)

// MigrateUp creates the source_records table and its indexes. Statements are
// idempotent so repeated startups are safe.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS source_records (
    source_id            TEXT PRIMARY KEY,
    status               VARCHAR(16) NOT NULL DEFAULT 'healthy',
    failure_count        INTEGER NOT NULL DEFAULT 0,
    next_allowed_at      TIMESTAMPTZ,
    etag                 TEXT,
    last_modified        TEXT,
    last_run_at          TIMESTAMPTZ,
    last_success_at      TIMESTAMPTZ,
    assigned_identity_id TEXT,
    avg_interval_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
)`); err != nil {
		return err
	}

	indexes := []string{
		// The sweep asks "which sources may run now" on every tick.
		`CREATE INDEX IF NOT EXISTS idx_source_records_next_allowed_at
    ON source_records(next_allowed_at)`,
		// Diagnostics filter by coarse status.
		`CREATE INDEX IF NOT EXISTS idx_source_records_status
    ON source_records(status)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops everything MigrateUp created. It deletes all gating
// state: every source restarts at full trust.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_source_records_next_allowed_at`,
		`DROP INDEX IF EXISTS idx_source_records_status`,
		`DROP TABLE IF EXISTS source_records CASCADE`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
