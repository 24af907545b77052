package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvString(t *testing.T) {
	t.Setenv("CALMFETCH_TEST_STR", "")
	assert.Equal(t, "fallback", LoadEnvString("CALMFETCH_TEST_STR", "fallback"))

	t.Setenv("CALMFETCH_TEST_STR", "configured")
	assert.Equal(t, "configured", LoadEnvString("CALMFETCH_TEST_STR", "fallback"))
}

func TestLoadEnvWithFallback(t *testing.T) {
	rejectAll := func(string) error { return assert.AnError }

	t.Setenv("CALMFETCH_TEST_VAL", "")
	result := LoadEnvWithFallback("CALMFETCH_TEST_VAL", "default", rejectAll)
	assert.Equal(t, "default", result.Value)
	assert.False(t, result.FallbackApplied, "unset variable is not a fallback")

	t.Setenv("CALMFETCH_TEST_VAL", "bad")
	result = LoadEnvWithFallback("CALMFETCH_TEST_VAL", "default", rejectAll)
	assert.Equal(t, "default", result.Value)
	assert.True(t, result.FallbackApplied)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "CALMFETCH_TEST_VAL")

	t.Setenv("CALMFETCH_TEST_VAL", "anything")
	result = LoadEnvWithFallback("CALMFETCH_TEST_VAL", "default", nil)
	assert.Equal(t, "anything", result.Value)
	assert.False(t, result.FallbackApplied)
}

func TestLoadEnvDuration(t *testing.T) {
	t.Setenv("CALMFETCH_TEST_DUR", "90s")
	result := LoadEnvDuration("CALMFETCH_TEST_DUR", time.Minute, nil)
	assert.Equal(t, 90*time.Second, result.Value)

	t.Setenv("CALMFETCH_TEST_DUR", "not-a-duration")
	result = LoadEnvDuration("CALMFETCH_TEST_DUR", time.Minute, nil)
	assert.Equal(t, time.Minute, result.Value)
	assert.True(t, result.FallbackApplied)

	t.Setenv("CALMFETCH_TEST_DUR", "5s")
	result = LoadEnvDuration("CALMFETCH_TEST_DUR", time.Minute, func(d time.Duration) error {
		return ValidateDuration(d, 30*time.Second, time.Hour)
	})
	assert.Equal(t, time.Minute, result.Value)
	assert.True(t, result.FallbackApplied)
}

func TestLoadEnvInt(t *testing.T) {
	t.Setenv("CALMFETCH_TEST_INT", "12")
	result := LoadEnvInt("CALMFETCH_TEST_INT", 4, nil)
	assert.Equal(t, 12, result.Value)

	t.Setenv("CALMFETCH_TEST_INT", "12.5")
	result = LoadEnvInt("CALMFETCH_TEST_INT", 4, nil)
	assert.Equal(t, 4, result.Value)
	assert.True(t, result.FallbackApplied)

	t.Setenv("CALMFETCH_TEST_INT", "99")
	result = LoadEnvInt("CALMFETCH_TEST_INT", 4, func(v int) error {
		return ValidateIntRange(v, 1, 32)
	})
	assert.Equal(t, 4, result.Value)
	assert.True(t, result.FallbackApplied)
}

func TestLoadEnvBool(t *testing.T) {
	t.Setenv("CALMFETCH_TEST_BOOL", "true")
	result := LoadEnvBool("CALMFETCH_TEST_BOOL", false)
	assert.Equal(t, true, result.Value)

	t.Setenv("CALMFETCH_TEST_BOOL", "yes")
	result = LoadEnvBool("CALMFETCH_TEST_BOOL", false)
	assert.Equal(t, false, result.Value)
	assert.True(t, result.FallbackApplied)
}
