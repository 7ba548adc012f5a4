package room

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcdev12/focusroom/go/internal/store"
)

// coreDoc is the room core document at rooms/{roomId}: everything except the
// member set and the session clock, which live in their own documents.
type coreDoc struct {
	RoomID    string   `json:"roomId"`
	RoomCode  string   `json:"roomCode"`
	HostID    string   `json:"hostId"`
	Status    string   `json:"status"`
	CreatedAt int64    `json:"createdAt"`
	Settings  Settings `json:"settings"`
}

// EncodeCore marshals the core document for a room.
func EncodeCore(r Room) ([]byte, error) {
	return json.Marshal(coreDoc{
		RoomID:    r.RoomID,
		RoomCode:  r.RoomCode,
		HostID:    r.HostID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		Settings:  r.Settings,
	})
}

// Assemble reconstructs a Room from the documents under its store prefix, as
// returned by List or accumulated from a Watch.
func Assemble(roomID string, docs map[string][]byte) (*Room, error) {
	core, ok := docs[RoomPath(roomID)]
	if !ok {
		return nil, store.ErrKeyNotFound
	}

	var cd coreDoc
	if err := json.Unmarshal(core, &cd); err != nil {
		return nil, fmt.Errorf("unmarshal room core %s: %w", roomID, err)
	}

	r := &Room{
		RoomID:    cd.RoomID,
		RoomCode:  cd.RoomCode,
		HostID:    cd.HostID,
		Status:    cd.Status,
		CreatedAt: cd.CreatedAt,
		Settings:  cd.Settings,
		Members:   make(map[string]Member),
	}

	if data, ok := docs[SessionPath(roomID)]; ok {
		if err := json.Unmarshal(data, &r.CurrentSession); err != nil {
			return nil, fmt.Errorf("unmarshal session for %s: %w", roomID, err)
		}
	}

	prefix := MembersPrefix(roomID)
	for path, data := range docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		userID := path[len(prefix):]
		var m Member
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal member %s of %s: %w", userID, roomID, err)
		}
		r.Members[userID] = m
	}

	return r, nil
}

// Load reads a full Room out of the store. Returns store.ErrKeyNotFound if
// there is no room with that id.
func Load(ctx context.Context, st store.Store, roomID string) (*Room, error) {
	docs, err := st.List(ctx, RoomPrefix(roomID))
	if err != nil {
		return nil, fmt.Errorf("list room %s: %w", roomID, err)
	}
	return Assemble(roomID, docs)
}
