// Package presence maintains the live member set: online/offline flips on
// abrupt disconnects, clean departures, and the reset rule a departure
// triggers for everyone else.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// Reset reasons written to the session audit fields when a departure fires
// the reset rule.
const (
	ResetReasonMemberLeft = "A member has left the room."
	ResetReasonRoomEmpty  = "All members have left the room."
)

// Tracker owns disconnect registrations and the leave flow.
type Tracker struct {
	store store.Store

	mu      sync.Mutex
	cancels map[string]store.CancelFunc
}

// New creates a Tracker on top of the shared store.
func New(st store.Store) *Tracker {
	return &Tracker{
		store:   st,
		cancels: make(map[string]store.CancelFunc),
	}
}

// Track registers the disconnect-triggered write for a member: if this
// client's connection drops without a clean leave, the store flips their
// online flag to false. Registered with the store's own disconnect
// detection, not an application heartbeat.
func (t *Tracker) Track(ctx context.Context, roomID, userID string) error {
	cancel, err := t.store.OnDisconnect(ctx, room.MemberPath(roomID, userID), map[string]any{
		"online": false,
	})
	if err != nil {
		return fmt.Errorf("register disconnect write: %w", err)
	}

	key := roomID + "/" + userID
	t.mu.Lock()
	if old, ok := t.cancels[key]; ok {
		// Rejoin replaced the registration; drop the stale one.
		if err := old(ctx); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("user_id", userID).
				Msg("failed to cancel stale disconnect registration")
		}
	}
	t.cancels[key] = cancel
	t.mu.Unlock()
	return nil
}

// SetOnline updates a member's advisory presence bit. Best-effort: failures
// are logged, never surfaced, since stale presence corrupts nothing.
func (t *Tracker) SetOnline(ctx context.Context, roomID, userID string, online bool) {
	// Members who already left have no entry; merging would resurrect a
	// ghost record with nothing but the online bit.
	if _, err := t.store.Get(ctx, room.MemberPath(roomID, userID)); errors.Is(err, store.ErrKeyNotFound) {
		return
	}
	err := t.store.Merge(ctx, room.MemberPath(roomID, userID), map[string]any{
		"online": online,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Bool("online", online).
			Msg("presence write failed")
	}
}

// LeaveRoom is a clean, explicit departure. The member entry is removed
// entirely, the host role is handed to the earliest-joined remaining member
// if the host left, and the shared timer is reset for everyone: a stale
// timer for a now-different group is worse than a forced restart.
func (t *Tracker) LeaveRoom(ctx context.Context, roomID, userID string) error {
	t.untrack(ctx, roomID, userID)

	coreData, err := t.store.Get(ctx, room.RoomPath(roomID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}
	if err != nil {
		return fmt.Errorf("read room core: %w", err)
	}

	var core struct {
		HostID string `json:"hostId"`
	}
	if err := json.Unmarshal(coreData, &core); err != nil {
		return fmt.Errorf("decode room core: %w", err)
	}
	wasHost := core.HostID == userID

	if err := t.store.Delete(ctx, room.MemberPath(roomID, userID)); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	remaining, err := t.store.List(ctx, room.MembersPrefix(roomID))
	if err != nil {
		return fmt.Errorf("list remaining members: %w", err)
	}

	if wasHost && len(remaining) > 0 {
		if err := t.promoteHost(ctx, roomID, remaining); err != nil {
			return err
		}
	}

	reason := ResetReasonMemberLeft
	if len(remaining) == 0 {
		reason = ResetReasonRoomEmpty
	}
	if err := t.resetSession(ctx, roomID, reason); err != nil {
		return err
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", userID).
		Bool("was_host", wasHost).
		Int("remaining_members", len(remaining)).
		Msg("user left room")

	return nil
}

// promoteHost hands the host role to the earliest-joined remaining member.
// Ties break on user id so every client picks the same member.
func (t *Tracker) promoteHost(ctx context.Context, roomID string, remaining map[string][]byte) error {
	prefix := room.MembersPrefix(roomID)
	var nextID string
	var nextJoined int64
	for path, data := range remaining {
		userID := path[len(prefix):]
		var m room.Member
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode member %s: %w", userID, err)
		}
		if nextID == "" || m.JoinedAt < nextJoined || (m.JoinedAt == nextJoined && userID < nextID) {
			nextID = userID
			nextJoined = m.JoinedAt
		}
	}
	if nextID == "" {
		return nil
	}

	if err := t.store.Merge(ctx, room.RoomPath(roomID), map[string]any{"hostId": nextID}); err != nil {
		return fmt.Errorf("reassign host: %w", err)
	}
	if err := t.store.Merge(ctx, room.MemberPath(roomID, nextID), map[string]any{"isHost": true}); err != nil {
		return fmt.Errorf("flag new host: %w", err)
	}

	log.Info().Str("room_id", roomID).Str("new_host_id", nextID).Msg("host reassigned")
	return nil
}

// resetSession applies the one-leaves-resets-all rule as a single merged
// update on the session subtree.
func (t *Tracker) resetSession(ctx context.Context, roomID, reason string) error {
	now, err := t.store.ServerNow(ctx)
	if err != nil {
		return fmt.Errorf("get server time: %w", err)
	}
	nowMs := room.Millis(now)

	err = t.store.Merge(ctx, room.SessionPath(roomID), map[string]any{
		"isActive":        false,
		"isPaused":        false,
		"startTime":       nil,
		"timeRemaining":   0,
		"lastResetReason": reason,
		"lastResetTime":   nowMs,
		"lastSyncTime":    nowMs,
	})
	if err != nil {
		return fmt.Errorf("reset session after departure: %w", err)
	}
	return nil
}

// untrack cancels the disconnect registration on clean leave, best-effort.
func (t *Tracker) untrack(ctx context.Context, roomID, userID string) {
	key := roomID + "/" + userID
	t.mu.Lock()
	cancel, ok := t.cancels[key]
	delete(t.cancels, key)
	t.mu.Unlock()

	if ok {
		if err := cancel(ctx); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("user_id", userID).
				Msg("failed to cancel disconnect registration")
		}
	}
}
