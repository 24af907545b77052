package circuitbreaker

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// DBGuardConfig configures the gobreaker instance protecting database calls.
type DBGuardConfig struct {
	// Name identifies the guard in logs.
	Name string

	// MaxRequests is how many test requests the half-open state admits.
	MaxRequests uint32

	// Interval is the closed-state cycle for clearing counts.
	Interval time.Duration

	// Timeout is the open-state duration before testing again.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the guard.
	FailureThreshold float64

	// MinRequests is the minimum sample size before the ratio is evaluated.
	MinRequests uint32
}

// DefaultDBGuardConfig trips after 5 consecutive failures and retests after
// 30 seconds. Source-record writes are small and frequent; a database that
// fails five in a row is down, not slow.
func DefaultDBGuardConfig() DBGuardConfig {
	return DBGuardConfig{
		Name:             "source-record-db",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 1.0,
		MinRequests:      5,
	}
}

// DBGuard wraps a database handle with gobreaker protection so a dead
// database sheds load fast instead of stacking up blocked fetch workers.
// It exposes the query surface the persistence layer consumes, so it can
// stand in wherever the repositories expect a database handle.
type DBGuard struct {
	breaker *gobreaker.CircuitBreaker
	db      *sql.DB
}

// NewDBGuard wraps db with the default guard configuration.
func NewDBGuard(db *sql.DB) *DBGuard {
	return NewDBGuardWithConfig(db, DefaultDBGuardConfig())
}

// NewDBGuardWithConfig wraps db with a custom guard configuration.
func NewDBGuardWithConfig(db *sql.DB, cfg DBGuardConfig) *DBGuard {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("database guard state changed",
				slog.String("guard", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &DBGuard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		db:      db,
	}
}

// QueryContext runs a query through the guard. When the guard is open it
// returns gobreaker.ErrOpenState without touching the database.
func (g *DBGuard) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		return g.db.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return result.(*sql.Rows), nil
}

// ExecContext runs a statement through the guard.
func (g *DBGuard) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		return g.db.ExecContext(ctx, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return result.(sql.Result), nil
}

// QueryRowContext is passed through unguarded: sql.Row defers its error to
// Scan, so the breaker cannot observe the outcome here.
func (g *DBGuard) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return g.db.QueryRowContext(ctx, query, args...)
}

// State returns the guard's current gobreaker state.
func (g *DBGuard) State() gobreaker.State {
	return g.breaker.State()
}

// IsOpen reports whether the guard is refusing database calls.
func (g *DBGuard) IsOpen() bool {
	return g.breaker.State() == gobreaker.StateOpen
}
