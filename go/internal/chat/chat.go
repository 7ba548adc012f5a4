// Package chat is the append-only room chat. Messages are ordered by
// timestamp; there is no edit or delete.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// Service reads and appends chat messages.
type Service struct {
	store store.Store
}

// NewService creates a chat Service on top of the shared store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Send appends a message. Blank messages are dropped. Send is best-effort:
// a lost chat line is an annoyance, not corrupted state, so failures are
// logged and not surfaced.
func (s *Service) Send(ctx context.Context, roomID string, from room.User, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	now, err := s.store.ServerNow(ctx)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("chat message dropped: no server time")
		return
	}

	msg := room.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   from.ID,
		SenderName: from.Name,
		Text:       text,
		Timestamp:  room.Millis(now),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("chat message dropped: marshal failed")
		return
	}

	if err := s.store.Set(ctx, room.ChatMessagePath(roomID, msg.ID), data); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("sender_id", from.ID).
			Msg("chat message write failed")
	}
}

// List returns a room's messages ordered by timestamp ascending.
func (s *Service) List(ctx context.Context, roomID string) ([]room.ChatMessage, error) {
	docs, err := s.store.List(ctx, room.ChatPrefix(roomID))
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}

	msgs := make([]room.ChatMessage, 0, len(docs))
	for path, data := range docs {
		var m room.ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode chat message %s: %w", path, err)
		}
		msgs = append(msgs, m)
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}
