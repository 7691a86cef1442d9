package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOccurrenceKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// The night of 2026-03-08 springs forward in this zone, so the next
	// daily fire is only 23 elapsed hours away.
	s := &Schedule{
		ScheduledFor: time.Date(2026, 3, 7, 9, 0, 0, 0, loc),
		Timezone:     "America/New_York",
		RepeatRule:   RepeatDaily,
	}

	next := s.NextOccurrence()
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 23*time.Hour, next.Sub(s.ScheduledFor))
}

func TestNextOccurrenceWeekly(t *testing.T) {
	fireAt := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	s := &Schedule{ScheduledFor: fireAt, Timezone: "UTC", RepeatRule: RepeatWeekly}

	assert.True(t, s.NextOccurrence().Equal(fireAt.AddDate(0, 0, 7)))
}

func TestNextOccurrenceUnknownTimezoneFallsBackToUTC(t *testing.T) {
	fireAt := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	s := &Schedule{ScheduledFor: fireAt, Timezone: "Not/AZone", RepeatRule: RepeatDaily}

	assert.Equal(t, 24*time.Hour, s.NextOccurrence().Sub(fireAt))
}

func TestNextOccurrenceNonRepeatingIsZero(t *testing.T) {
	s := &Schedule{ScheduledFor: time.Now(), RepeatRule: RepeatNone}
	assert.True(t, s.NextOccurrence().IsZero())
}
