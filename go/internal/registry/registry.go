// Package registry creates rooms, assigns join codes, resolves codes back to
// rooms, and enforces join-time capacity.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

var (
	// ErrRoomNotFound means no active room carries the given code or id.
	ErrRoomNotFound = errors.New("registry: room not found")
	// ErrRoomFull means the room already has its maximum of distinct members.
	ErrRoomFull = errors.New("registry: room is at capacity")
)

// maxCodeAttempts bounds the regenerate-on-collision loop. Collisions are
// rare (32^6 code space); running out means the store is misbehaving.
const maxCodeAttempts = 5

// PresenceTracker registers a member's disconnect handling after a join.
// Implemented by the presence package.
type PresenceTracker interface {
	Track(ctx context.Context, roomID string, userID string) error
}

// codeIndex is the document under roomcodes/{CODE}. Claiming it with an
// atomic create is what keeps active codes unique.
type codeIndex struct {
	RoomID string `json:"roomId"`
}

// Registry is the room lifecycle front door.
type Registry struct {
	store    store.Store
	presence PresenceTracker
	defaults room.Settings

	// newCode generates candidate join codes; swapped out in tests to force
	// collisions.
	newCode func() string
}

// DefaultSettings are applied to new rooms.
func DefaultSettings() room.Settings {
	return room.Settings{
		DefaultDuration:     25 * 60,
		AllowPartnerControl: true,
	}
}

// New creates a Registry on top of the shared store.
func New(st store.Store, presence PresenceTracker) *Registry {
	return &Registry{
		store:    st,
		presence: presence,
		defaults: DefaultSettings(),
		newCode:  room.GenerateCode,
	}
}

// CreateRoom creates a room with the creator as host and returns its id.
// The join code is claimed with an atomic create against the code index and
// regenerated on collision, so two rooms never share an active code.
func (r *Registry) CreateRoom(ctx context.Context, creator room.User) (string, error) {
	now, err := r.store.ServerNow(ctx)
	if err != nil {
		return "", fmt.Errorf("get server time: %w", err)
	}
	nowMs := room.Millis(now)

	roomID := "room_" + uuid.NewString()

	code, err := r.claimCode(ctx, roomID)
	if err != nil {
		return "", err
	}

	core, err := room.EncodeCore(room.Room{
		RoomID:    roomID,
		RoomCode:  code,
		HostID:    creator.ID,
		Status:    "active",
		CreatedAt: nowMs,
		Settings:  r.defaults,
	})
	if err != nil {
		return "", fmt.Errorf("encode room core: %w", err)
	}
	if err := r.store.Set(ctx, room.RoomPath(roomID), core); err != nil {
		return "", fmt.Errorf("write room core: %w", err)
	}

	session, err := json.Marshal(room.Session{
		IsActive:      false,
		IsPaused:      false,
		StartTime:     nil,
		TimeRemaining: r.defaults.DefaultDuration,
		Environment:   room.DefaultEnvironment,
	})
	if err != nil {
		return "", fmt.Errorf("encode initial session: %w", err)
	}
	if err := r.store.Set(ctx, room.SessionPath(roomID), session); err != nil {
		return "", fmt.Errorf("write initial session: %w", err)
	}

	member, err := json.Marshal(room.Member{
		Name:     creator.Name,
		JoinedAt: nowMs,
		IsHost:   true,
		Online:   true,
	})
	if err != nil {
		return "", fmt.Errorf("encode host member: %w", err)
	}
	if err := r.store.Set(ctx, room.MemberPath(roomID, creator.ID), member); err != nil {
		return "", fmt.Errorf("write host member: %w", err)
	}

	if err := r.presence.Track(ctx, roomID, creator.ID); err != nil {
		return "", fmt.Errorf("register presence for creator: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("room_code", code).
		Str("host_id", creator.ID).
		Msg("room created")

	return roomID, nil
}

// claimCode generates codes until one is claimed atomically in the index.
func (r *Registry) claimCode(ctx context.Context, roomID string) (string, error) {
	idx, err := json.Marshal(codeIndex{RoomID: roomID})
	if err != nil {
		return "", fmt.Errorf("encode code index: %w", err)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := r.newCode()
		err := r.store.Create(ctx, room.CodePath(code), idx)
		if errors.Is(err, store.ErrAlreadyExists) {
			log.Debug().Str("room_code", code).Msg("room code collision, regenerating")
			continue
		}
		if err != nil {
			return "", fmt.Errorf("claim room code: %w", err)
		}
		return code, nil
	}
	return "", fmt.Errorf("claim room code: %d consecutive collisions", maxCodeAttempts)
}

// FindRoomByCode resolves a user-entered code to a room id. Input is
// normalized (trimmed, uppercased) before lookup.
func (r *Registry) FindRoomByCode(ctx context.Context, code string) (string, error) {
	data, err := r.store.Get(ctx, room.CodePath(code))
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("look up room code: %w", err)
	}

	var idx codeIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", fmt.Errorf("decode code index: %w", err)
	}
	return idx.RoomID, nil
}

// JoinRoom resolves a code and adds the user to the room. A join past
// capacity fails with ErrRoomFull unless the user is already a member, in
// which case the rejoin is idempotent: their host flag and join time are
// preserved and only name and online status are refreshed.
func (r *Registry) JoinRoom(ctx context.Context, code string, user room.User) (string, error) {
	roomID, err := r.FindRoomByCode(ctx, code)
	if err != nil {
		return "", err
	}

	members, err := r.store.List(ctx, room.MembersPrefix(roomID))
	if err != nil {
		return "", fmt.Errorf("list members: %w", err)
	}

	memberPath := room.MemberPath(roomID, user.ID)
	_, alreadyMember := members[memberPath]
	if !alreadyMember && len(members) >= room.MaxMembers {
		return "", ErrRoomFull
	}

	now, err := r.store.ServerNow(ctx)
	if err != nil {
		return "", fmt.Errorf("get server time: %w", err)
	}

	if alreadyMember {
		err = r.store.Merge(ctx, memberPath, map[string]any{
			"name":   user.Name,
			"online": true,
		})
	} else {
		var member []byte
		member, err = json.Marshal(room.Member{
			Name:     user.Name,
			JoinedAt: room.Millis(now),
			IsHost:   false,
			Online:   true,
		})
		if err != nil {
			return "", fmt.Errorf("encode member: %w", err)
		}
		err = r.store.Set(ctx, memberPath, member)
	}
	if err != nil {
		return "", fmt.Errorf("write member: %w", err)
	}

	if err := r.presence.Track(ctx, roomID, user.ID); err != nil {
		return "", fmt.Errorf("register presence: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", user.ID).
		Bool("rejoin", alreadyMember).
		Msg("user joined room")

	return roomID, nil
}
