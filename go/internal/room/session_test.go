package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func runningSession(baseline int, start time.Time) Session {
	ms := Millis(start)
	return Session{
		IsActive:      true,
		IsPaused:      false,
		StartTime:     &ms,
		TimeRemaining: baseline,
	}
}

func TestRemainingWhileRunning(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		baseline int
		elapsed  time.Duration
		want     int
	}{
		{"exact at anchor", 1500, 0, 1500},
		{"one second in", 1500, time.Second, 1499},
		{"sub-second elapsed floors to zero", 1500, 900 * time.Millisecond, 1500},
		{"mid countdown", 1500, 10 * time.Minute, 900},
		{"hits zero exactly", 60, time.Minute, 0},
		{"clamps past zero", 60, 2 * time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := runningSession(tt.baseline, start)
			assert.Equal(t, tt.want, s.Remaining(start.Add(tt.elapsed)))
		})
	}
}

func TestRemainingWhenNotRunning(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	idle := Session{TimeRemaining: 300}
	assert.Equal(t, 300, idle.Remaining(now), "idle baseline is authoritative")

	paused := Session{IsActive: true, IsPaused: true, TimeRemaining: 120}
	assert.Equal(t, 120, paused.Remaining(now), "paused baseline is authoritative")

	negative := Session{TimeRemaining: -5}
	assert.Equal(t, 0, negative.Remaining(now), "remaining is never negative")
}

func TestRunning(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, runningSession(60, start).Running())
	assert.False(t, Session{}.Running())
	assert.False(t, Session{IsActive: true, IsPaused: true}.Running())

	// Active without an anchor never counts as running; the record is
	// either counting down with an anchor or not counting down at all.
	assert.False(t, Session{IsActive: true}.Running())
}

func TestCompleted(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := runningSession(60, start)

	assert.False(t, s.Completed(start))
	assert.False(t, s.Completed(start.Add(59*time.Second)))
	assert.True(t, s.Completed(start.Add(time.Minute)))
	assert.True(t, s.Completed(start.Add(time.Hour)))

	idle := Session{TimeRemaining: 0}
	assert.False(t, idle.Completed(start), "completion is a running-only condition")
}
