package room

import "time"

// DefaultEnvironment is the backdrop new rooms start with. Opaque to the
// core; clients interpret it.
const DefaultEnvironment = "garden"

// Ping is an ephemeral attention nudge; it carries no authority and is
// overwritten by the next one.
type Ping struct {
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	Timestamp int64  `json:"timestamp"`
}

// Session is the shared countdown clock embedded in a Room.
//
// It is never ticked in the store. TimeRemaining is the baseline remaining
// seconds as of StartTime; while running, the live value is derived by every
// client independently from the anchor timestamp. The record is either
// counting down with StartTime set, or not counting down with StartTime nil.
type Session struct {
	IsActive        bool   `json:"isActive"`
	IsPaused        bool   `json:"isPaused"`
	StartTime       *int64 `json:"startTime"`
	TimeRemaining   int    `json:"timeRemaining"`
	Environment     string `json:"environment,omitempty"`
	LastPing        *Ping  `json:"lastPing,omitempty"`
	LastResetReason string `json:"lastResetReason,omitempty"`
	LastResetTime   int64  `json:"lastResetTime,omitempty"`
	LastSyncTime    int64  `json:"lastSyncTime,omitempty"`
}

// Running reports whether the session is actively counting down.
func (s Session) Running() bool {
	return s.IsActive && !s.IsPaused && s.StartTime != nil
}

// Remaining derives the live remaining seconds at now. While running this is
// max(0, baseline - elapsed whole seconds since the anchor); otherwise the
// stored baseline is authoritative. Never negative.
func (s Session) Remaining(now time.Time) int {
	if !s.Running() {
		if s.TimeRemaining < 0 {
			return 0
		}
		return s.TimeRemaining
	}
	elapsed := int((Millis(now) - *s.StartTime) / 1000)
	remaining := s.TimeRemaining - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Completed reports the client-observed terminal condition: running and out
// of time. It is not a stored state; each viewer detects it locally.
func (s Session) Completed(now time.Time) bool {
	return s.Running() && s.Remaining(now) == 0
}
