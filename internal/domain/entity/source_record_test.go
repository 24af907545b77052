package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSourceRecord(t *testing.T) {
	rec := NewSourceRecord("reddit-rust")

	assert.Equal(t, "reddit-rust", rec.SourceID)
	assert.Equal(t, SourceStatusHealthy, rec.Status)
	assert.Equal(t, 0, rec.FailureCount)
	assert.Nil(t, rec.NextAllowedAt)
	assert.Nil(t, rec.LastRunAt)
	assert.Nil(t, rec.LastSuccessAt)
}

func TestSourceRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  SourceRecord
		wantErr bool
	}{
		{
			name:   "valid record",
			record: SourceRecord{SourceID: "hn-front", Status: SourceStatusHealthy},
		},
		{
			name:    "missing source id",
			record:  SourceRecord{Status: SourceStatusHealthy},
			wantErr: true,
		},
		{
			name:   "empty status defaults to healthy",
			record: SourceRecord{SourceID: "hn-front"},
		},
		{
			name:    "unknown status",
			record:  SourceRecord{SourceID: "hn-front", Status: SourceStatus("weird")},
			wantErr: true,
		},
		{
			name:    "negative failure count",
			record:  SourceRecord{SourceID: "hn-front", Status: SourceStatusOpen, FailureCount: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSourceRecord_FailureFloorForcesOpen(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewSourceRecord("forum-x")

	for i := 0; i < 4; i++ {
		rec.RecordFailure(now)
	}
	assert.Equal(t, 4, rec.FailureCount)
	assert.Equal(t, SourceStatusHealthy, rec.Status, "status untouched below the floor")

	rec.RecordFailure(now)

	assert.Equal(t, 5, rec.FailureCount)
	assert.Equal(t, SourceStatusOpen, rec.Status)
	if assert.NotNil(t, rec.NextAllowedAt) {
		assert.False(t, rec.NextAllowedAt.Before(now.Add(24*time.Hour)),
			"next allowed must be at least 24h out")
	}
}

func TestSourceRecord_FailureFloorKeepsLongerCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	longer := now.Add(48 * time.Hour)

	rec := NewSourceRecord("forum-x")
	rec.FailureCount = 4
	rec.NextAllowedAt = &longer

	rec.RecordFailure(now)

	assert.Equal(t, longer, *rec.NextAllowedAt, "an existing longer cooldown is preserved")
}

func TestSourceRecord_RecordSuccessResetsFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewSourceRecord("feed-a")
	rec.FailureCount = 3

	rec.RecordSuccess(now)

	assert.Equal(t, 0, rec.FailureCount)
	assert.Equal(t, &now, rec.LastRunAt)
	assert.Equal(t, &now, rec.LastSuccessAt)
}

func TestSourceRecord_IsCoolingDown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	rec := NewSourceRecord("feed-a")
	assert.False(t, rec.IsCoolingDown(now), "no gate set")

	rec.NextAllowedAt = &later
	assert.True(t, rec.IsCoolingDown(now))

	rec.NextAllowedAt = &earlier
	assert.False(t, rec.IsCoolingDown(now))
}
