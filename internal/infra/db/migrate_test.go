package db

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var errPermissionDenied = errors.New("permission denied for schema public")

func TestMigrateUp(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = mockDB.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS source_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_source_records_next_allowed_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_source_records_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := MigrateUp(mockDB); err != nil {
		t.Fatalf("MigrateUp returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMigrateUpTableCreateFails(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = mockDB.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS source_records").
		WillReturnError(errPermissionDenied)

	if err := MigrateUp(mockDB); err == nil {
		t.Fatal("expected error when table creation fails")
	}
}

func TestMigrateDown(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer func() { _ = mockDB.Close() }()

	mock.ExpectExec("DROP INDEX IF EXISTS idx_source_records_next_allowed_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP INDEX IF EXISTS idx_source_records_status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS source_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := MigrateDown(mockDB); err != nil {
		t.Fatalf("MigrateDown returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
