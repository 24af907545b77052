package db

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"calmfetch/internal/observability/metrics"
	"calmfetch/internal/pkg/config"
)

// ConnectionConfig holds database connection pool configuration.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConnectionConfig returns the default connection pool configuration,
// sized for a single worker process.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// Open creates and configures the database connection pool. It reads
// DATABASE_URL from the environment, applies pool settings and verifies the
// connection with a ping. Exits the process on failure; the worker cannot
// run without durable source records.
func Open() *sql.DB {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatal(err)
	}

	cfg := getConnectionConfigFromEnv()
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slog.Info("database connection pool configured",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	slog.Info("database connection established")
	return db
}

// getConnectionConfigFromEnv reads pool settings from the environment,
// falling back to defaults on unset or invalid values.
func getConnectionConfigFromEnv() ConnectionConfig {
	cfg := DefaultConnectionConfig()

	positiveInt := func(v int) error { return config.ValidateIntRange(v, 1, 10000) }

	cfg.MaxOpenConns = config.LoadEnvInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns, positiveInt).Value.(int)
	cfg.MaxIdleConns = config.LoadEnvInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns, positiveInt).Value.(int)
	cfg.ConnMaxLifetime = config.LoadEnvDuration("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime,
		config.ValidatePositiveDuration).Value.(time.Duration)
	cfg.ConnMaxIdleTime = config.LoadEnvDuration("DB_CONN_MAX_IDLE_TIME", cfg.ConnMaxIdleTime,
		config.ValidatePositiveDuration).Value.(time.Duration)

	return cfg
}

// StartStatsReporter publishes connection pool gauges every interval until
// the context is cancelled.
func StartStatsReporter(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.UpdateDBConnectionMetrics(stats.InUse, stats.Idle)
			}
		}
	}()
}
