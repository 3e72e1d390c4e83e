package simclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositive(t *testing.T) {
	_, err := New(time.Now(), 0, time.Hour)
	assert.Error(t, err)
	_, err = New(time.Now(), time.Second, 0)
	assert.Error(t, err)
	_, err = New(time.Now(), -time.Second, time.Hour)
	assert.Error(t, err)
}

func TestTicks(t *testing.T) {
	subTests := []struct {
		name     string
		interval time.Duration
		length   time.Duration
		expected int
	}{
		{"one tick", 5 * time.Second, 5 * time.Second, 1},
		{"exact day", 5 * time.Second, 24 * time.Hour, 17280},
		{"rounds up", 7 * time.Second, 20 * time.Second, 3},
		{"shorter than interval", time.Minute, time.Second, 1},
		{"one hour per second", time.Second, time.Hour, 3600},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			clock, err := New(time.Unix(0, 0), subTest.interval, subTest.length)
			require.NoError(t, err)
			assert.Equal(t, subTest.expected, clock.Ticks())
		})
	}
}

func TestHoursToDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, HoursToDuration(1.0/720))
	assert.Equal(t, 24*time.Hour, HoursToDuration(24))
	assert.Equal(t, 90*time.Minute, HoursToDuration(1.5))
}

func TestAt(t *testing.T) {
	origin := time.Date(2024, 1, 1, 0, 0, 0, 750_000_000, time.FixedZone("CET", 3600))
	clock, err := New(origin, 5*time.Second, time.Minute)
	require.NoError(t, err)

	expectedOrigin := time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, expectedOrigin, clock.Origin())
	assert.Equal(t, expectedOrigin, clock.At(0))
	assert.Equal(t, expectedOrigin.Add(10*time.Second), clock.At(2))
	assert.False(t, clock.Done(11))
	assert.True(t, clock.Done(12))
}
