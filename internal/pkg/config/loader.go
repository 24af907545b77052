// Package config provides environment driven configuration loading with
// fail-open semantics. Invalid values never abort startup: the loader falls
// back to the caller's default and reports a warning so the process keeps
// running on a known-good configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadResult is the outcome of loading one configuration value. Value holds
// the loaded value or the default when FallbackApplied is set; Warnings
// carries one message per fallback.
type LoadResult struct {
	Value           interface{}
	Warnings        []string
	FallbackApplied bool
}

func fallback(envKey, raw string, err error, def interface{}) LoadResult {
	return LoadResult{
		Value:           def,
		Warnings:        []string{fmt.Sprintf("invalid %s=%q: %v, falling back to default '%v'", envKey, raw, err, def)},
		FallbackApplied: true,
	}
}

// LoadEnvString reads a string from the environment, returning defaultValue
// when the variable is unset or empty. No validation is applied.
func LoadEnvString(envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

// LoadEnvWithFallback reads a string from the environment and validates it.
// An unset variable returns the default silently; a value that fails the
// validator returns the default with a warning. A nil validator accepts
// anything.
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) LoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return LoadResult{Value: defaultValue}
	}
	if validator != nil {
		if err := validator(raw); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return LoadResult{Value: raw}
}

// LoadEnvDuration reads a Go duration string ("30s", "1h30m") from the
// environment. Parse or validation failures fall back to the default with a
// warning.
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) LoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return LoadResult{Value: defaultValue}
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback(envKey, raw, err, defaultValue)
	}
	if validator != nil {
		if err := validator(d); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return LoadResult{Value: d}
}

// LoadEnvInt reads an integer from the environment. Parse or validation
// failures fall back to the default with a warning.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) LoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return LoadResult{Value: defaultValue}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback(envKey, raw, fmt.Errorf("invalid integer format"), defaultValue)
	}
	if validator != nil {
		if err := validator(n); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return LoadResult{Value: n}
}

// LoadEnvBool reads a boolean from the environment, accepting the forms
// understood by strconv.ParseBool. Parse failures fall back to the default
// with a warning.
func LoadEnvBool(envKey string, defaultValue bool) LoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return LoadResult{Value: defaultValue}
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback(envKey, raw, fmt.Errorf("invalid boolean format"), defaultValue)
	}
	return LoadResult{Value: b}
}
