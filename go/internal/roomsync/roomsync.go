// Package roomsync gives a client one subscription handle per room: it
// watches the room's documents and chat in the shared store and pushes
// assembled snapshots. Unsubscribing releases both watchers; a handle left
// open keeps stale updates flowing, which is a leak even though it corrupts
// nothing.
package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// Snapshot is the assembled view of a room at one point in the update
// stream. Room is nil when the room does not (or no longer) exists.
type Snapshot struct {
	Room     *room.Room
	Messages []room.ChatMessage
}

// Subscription is a live handle on one room's state.
type Subscription struct {
	roomID    string
	snapshots chan Snapshot
	cancel    context.CancelFunc
}

// Subscribe starts watching a room and its chat. Snapshots are conflated:
// a slow consumer always sees the latest state, not every intermediate one,
// matching the store's own delivery guarantee.
func Subscribe(ctx context.Context, st store.Store, roomID string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	roomWatcher, err := st.Watch(ctx, room.RoomPrefix(roomID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch room %s: %w", roomID, err)
	}
	chatWatcher, err := st.Watch(ctx, room.ChatPrefix(roomID))
	if err != nil {
		roomWatcher.Stop()
		cancel()
		return nil, fmt.Errorf("watch chat for %s: %w", roomID, err)
	}

	sub := &Subscription{
		roomID:    roomID,
		snapshots: make(chan Snapshot, 1),
		cancel:    cancel,
	}
	go sub.pump(roomWatcher, chatWatcher)
	return sub, nil
}

// Snapshots returns the stream of assembled snapshots. Closed after
// Unsubscribe.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Unsubscribe releases both watchers. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.cancel()
}

func (s *Subscription) pump(roomWatcher, chatWatcher store.Watcher) {
	defer close(s.snapshots)

	roomDocs := make(map[string][]byte)
	chatDocs := make(map[string][]byte)
	roomCh := roomWatcher.Updates()
	chatCh := chatWatcher.Updates()

	for roomCh != nil || chatCh != nil {
		select {
		case u, ok := <-roomCh:
			if !ok {
				roomCh = nil
				continue
			}
			apply(roomDocs, u)
		case u, ok := <-chatCh:
			if !ok {
				chatCh = nil
				continue
			}
			apply(chatDocs, u)
		}
		s.publish(roomDocs, chatDocs)
	}
}

// publish assembles the current documents and conflates them into the
// snapshot channel, replacing any undelivered snapshot.
func (s *Subscription) publish(roomDocs, chatDocs map[string][]byte) {
	snap := Snapshot{}

	r, err := room.Assemble(s.roomID, roomDocs)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		// Room core gone or not yet delivered; Room stays nil.
	case err != nil:
		log.Error().Err(err).Str("room_id", s.roomID).Msg("failed to assemble room snapshot")
		return
	default:
		snap.Room = r
	}

	snap.Messages = assembleMessages(s.roomID, chatDocs)

	for {
		select {
		case s.snapshots <- snap:
			return
		default:
			select {
			case <-s.snapshots:
			default:
			}
		}
	}
}

func assembleMessages(roomID string, docs map[string][]byte) []room.ChatMessage {
	prefix := room.ChatPrefix(roomID)
	msgs := make([]room.ChatMessage, 0, len(docs))
	for path, data := range docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		var m room.ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping undecodable chat message")
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

func apply(docs map[string][]byte, u store.Update) {
	if u.Value == nil {
		delete(docs, u.Path)
		return
	}
	docs[u.Path] = u.Value
}
