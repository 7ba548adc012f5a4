// Package session is the authoritative shared countdown clock: transitions
// on the stored session record, the policy gate in front of them, and the
// local display ticker that derives live remaining time between store
// pushes.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

var (
	// ErrUnauthorized means the caller is neither host nor covered by
	// partner control. Rejected before any write.
	ErrUnauthorized = errors.New("session: caller may not control the timer")
	// ErrDurationOutOfRange means a requested duration fell outside the
	// 1..720 minute bounds. Rejected, never clamped.
	ErrDurationOutOfRange = errors.New("session: duration must be between 1 and 720 minutes")
)

// Duration bounds for SetDuration, in minutes.
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 720
)

// Service applies session clock transitions. Every transition is a single
// merged update on the session subtree, so other clients never observe a
// half-applied state, and every one stamps lastSyncTime. Clients call these
// on user action only; nothing here ticks the stored record.
type Service struct {
	store store.Store
}

// NewService creates a session Service on top of the shared store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Start moves the session to Running with a store-assigned anchor timestamp.
// The baseline carried into the write is the live derived remaining, so
// starting an already-running session is an idempotent authorized write: the
// anchor moves, the observable countdown does not.
func (s *Service) Start(ctx context.Context, roomID, callerID string) error {
	r, now, err := s.loadAuthorized(ctx, roomID, callerID)
	if err != nil {
		return err
	}

	nowMs := room.Millis(now)
	err = s.store.Merge(ctx, room.SessionPath(roomID), map[string]any{
		"isActive":      true,
		"isPaused":      false,
		"startTime":     nowMs,
		"timeRemaining": r.CurrentSession.Remaining(now),
		"lastSyncTime":  nowMs,
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	log.Info().Str("room_id", roomID).Str("caller_id", callerID).
		Int("time_remaining", r.CurrentSession.Remaining(now)).Msg("session started")
	return nil
}

// Pause freezes a running countdown: the live remaining becomes the new
// stored baseline and the anchor is cleared. Pausing a session that is not
// running changes nothing.
func (s *Service) Pause(ctx context.Context, roomID, callerID string) error {
	r, now, err := s.loadAuthorized(ctx, roomID, callerID)
	if err != nil {
		return err
	}
	if !r.CurrentSession.Running() {
		return nil
	}

	nowMs := room.Millis(now)
	err = s.store.Merge(ctx, room.SessionPath(roomID), map[string]any{
		"isActive":      true,
		"isPaused":      true,
		"startTime":     nil,
		"timeRemaining": r.CurrentSession.Remaining(now),
		"lastSyncTime":  nowMs,
	})
	if err != nil {
		return fmt.Errorf("pause session: %w", err)
	}

	log.Info().Str("room_id", roomID).Str("caller_id", callerID).
		Int("time_remaining", r.CurrentSession.Remaining(now)).Msg("session paused")
	return nil
}

// Reset returns the session to Idle at the room's default duration, from any
// state.
func (s *Service) Reset(ctx context.Context, roomID, callerID string) error {
	r, now, err := s.loadAuthorized(ctx, roomID, callerID)
	if err != nil {
		return err
	}

	err = s.store.Merge(ctx, room.SessionPath(roomID), map[string]any{
		"isActive":      false,
		"isPaused":      false,
		"startTime":     nil,
		"timeRemaining": r.Settings.DefaultDuration,
		"lastSyncTime":  room.Millis(now),
	})
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}

	log.Info().Str("room_id", roomID).Str("caller_id", callerID).Msg("session reset")
	return nil
}

// SetDuration stops any countdown in progress and sets a fresh baseline.
// Changing the clock face never silently continues toward a new target.
// Durations outside 1..720 minutes are rejected.
func (s *Service) SetDuration(ctx context.Context, roomID, callerID string, minutes int) error {
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return ErrDurationOutOfRange
	}

	_, now, err := s.loadAuthorized(ctx, roomID, callerID)
	if err != nil {
		return err
	}

	err = s.store.Merge(ctx, room.SessionPath(roomID), map[string]any{
		"isActive":      false,
		"isPaused":      false,
		"startTime":     nil,
		"timeRemaining": minutes * 60,
		"lastSyncTime":  room.Millis(now),
	})
	if err != nil {
		return fmt.Errorf("set session duration: %w", err)
	}

	log.Info().Str("room_id", roomID).Str("caller_id", callerID).
		Int("minutes", minutes).Msg("session duration set")
	return nil
}

// SetEnvironment swaps the visual backdrop. Gated like the other mutations;
// the string itself is opaque to the core.
func (s *Service) SetEnvironment(ctx context.Context, roomID, callerID, environment string) error {
	_, now, err := s.loadAuthorized(ctx, roomID, callerID)
	if err != nil {
		return err
	}

	err = s.store.Merge(ctx, room.SessionPath(roomID), map[string]any{
		"environment":  environment,
		"lastSyncTime": room.Millis(now),
	})
	if err != nil {
		return fmt.Errorf("set session environment: %w", err)
	}
	return nil
}

// Ping writes an attention nudge for the other members. Any member may ping;
// no policy check applies. The write is ephemeral and best-effort: failures
// are logged, never surfaced.
func (s *Service) Ping(ctx context.Context, roomID string, from room.User) {
	now, err := s.store.ServerNow(ctx)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("ping dropped: no server time")
		return
	}

	err = s.store.Merge(ctx, room.SessionPath(roomID), map[string]any{
		"lastPing": map[string]any{
			"from":      from.ID,
			"fromName":  from.Name,
			"timestamp": room.Millis(now),
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("from", from.ID).Msg("ping write failed")
	}
}

// loadAuthorized reads the room and runs the policy gate. No transition
// writes anything before this passes.
func (s *Service) loadAuthorized(ctx context.Context, roomID, callerID string) (*room.Room, time.Time, error) {
	r, err := room.Load(ctx, s.store, roomID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if !CanControl(r, callerID) {
		return nil, time.Time{}, ErrUnauthorized
	}

	now, err := s.store.ServerNow(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	return r, now, nil
}
