package worker

import (
	"fmt"
	"log/slog"
	"time"

	"calmfetch/internal/pkg/config"
)

// WorkerConfig holds the configuration for the sweep worker: the cron
// schedule driving sweeps, how many sources one sweep may work concurrently,
// and the operational ports.
//
// All fields have defaults and validation rules; configuration loading is
// fail-open, so the worker starts with defaults rather than crashing on a
// bad environment variable.
type WorkerConfig struct {
	// SweepSchedule is the cron expression that triggers a sweep over all
	// enabled sources. Default: every minute. The per-source gates decide
	// what actually runs, so a frequent sweep is cheap.
	SweepSchedule string

	// Timezone is the IANA timezone name for cron scheduling.
	// Default: "UTC".
	Timezone string

	// SweepMaxConcurrent bounds how many sources one sweep works at once.
	// Range: 1-32. Default: 4.
	SweepMaxConcurrent int

	// SweepTimeout cancels a sweep that runs too long.
	// Default: 10 minutes.
	SweepTimeout time.Duration

	// HealthPort is the port for the liveness/readiness HTTP server.
	// Range: 1024-65535. Default: 9091.
	HealthPort int

	// RegistryPath points at the YAML source registry.
	// Default: "sources.yaml".
	RegistryPath string
}

// DefaultConfig returns a WorkerConfig with production defaults.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		SweepSchedule:      "* * * * *",
		Timezone:           "UTC",
		SweepMaxConcurrent: 4,
		SweepTimeout:       10 * time.Minute,
		HealthPort:         9091,
		RegistryPath:       "sources.yaml",
	}
}

// Validate checks the configuration values, collecting every violation.
func (c *WorkerConfig) Validate() error {
	var errors []error

	if err := config.ValidateCronSchedule(c.SweepSchedule); err != nil {
		errors = append(errors, fmt.Errorf("sweep schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errors = append(errors, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateIntRange(c.SweepMaxConcurrent, 1, 32); err != nil {
		errors = append(errors, fmt.Errorf("sweep max concurrent: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.SweepTimeout); err != nil {
		errors = append(errors, fmt.Errorf("sweep timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errors = append(errors, fmt.Errorf("health port: %w", err))
	}
	if c.RegistryPath == "" {
		errors = append(errors, fmt.Errorf("registry path: must not be empty"))
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}
	return nil
}

// LoadConfigFromEnv loads the worker configuration from environment
// variables with validation and automatic fallback to defaults on failure.
// It never returns an error: a bad value produces a warning log, a metrics
// increment and the default.
//
// Environment variables:
//   - SWEEP_SCHEDULE: cron expression (default: "* * * * *")
//   - WORKER_TIMEZONE: IANA timezone name (default: "UTC")
//   - SWEEP_MAX_CONCURRENT: integer 1-32 (default: 4)
//   - SWEEP_TIMEOUT: duration string, e.g. "10m" (default: 10 minutes)
//   - WORKER_HEALTH_PORT: integer 1024-65535 (default: 9091)
//   - SOURCES_FILE: registry path (default: "sources.yaml")
func LoadConfigFromEnv(logger *slog.Logger, metrics *SweepMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	warn := func(field string, result config.LoadResult) {
		if !result.FallbackApplied {
			return
		}
		fallbackApplied = true
		metrics.RecordValidationError(field)
		metrics.RecordFallback(field)
		for _, warning := range result.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}

	result := config.LoadEnvWithFallback("SWEEP_SCHEDULE", cfg.SweepSchedule, config.ValidateCronSchedule)
	cfg.SweepSchedule = result.Value.(string)
	warn("sweep_schedule", result)

	result = config.LoadEnvWithFallback("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = result.Value.(string)
	warn("timezone", result)

	result = config.LoadEnvInt("SWEEP_MAX_CONCURRENT", cfg.SweepMaxConcurrent, func(v int) error {
		return config.ValidateIntRange(v, 1, 32)
	})
	cfg.SweepMaxConcurrent = result.Value.(int)
	warn("sweep_max_concurrent", result)

	result = config.LoadEnvDuration("SWEEP_TIMEOUT", cfg.SweepTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 10*time.Second, 4*time.Hour)
	})
	cfg.SweepTimeout = result.Value.(time.Duration)
	warn("sweep_timeout", result)

	result = config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = result.Value.(int)
	warn("health_port", result)

	cfg.RegistryPath = config.LoadEnvString("SOURCES_FILE", cfg.RegistryPath)

	metrics.SetFallbackActive(fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
