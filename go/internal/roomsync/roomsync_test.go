package roomsync

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/internal/chat"
	"github.com/mcdev12/focusroom/go/internal/registry"
	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/session"
	"github.com/mcdev12/focusroom/go/internal/store/memstore"
)

type noopTracker struct{}

func (noopTracker) Track(ctx context.Context, roomID, userID string) error { return nil }

// waitFor pulls snapshots until cond holds or the deadline passes.
func waitFor(t *testing.T, sub *Subscription, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			require.True(t, ok, "snapshot stream closed while waiting")
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("condition never reached")
		}
	}
}

func TestSubscribeDeliversRoomAndChat(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clock)
	reg := registry.New(st, noopTracker{})
	ctx := context.Background()

	roomID, err := reg.CreateRoom(ctx, room.User{ID: "host", Name: "Ada"})
	require.NoError(t, err)

	sub, err := Subscribe(ctx, st, roomID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Room != nil })
	assert.Equal(t, "host", snap.Room.HostID)
	assert.Len(t, snap.Room.Members, 1)

	// A session transition shows up in subsequent snapshots.
	svc := session.NewService(st)
	require.NoError(t, svc.Start(ctx, roomID, "host"))
	snap = waitFor(t, sub, func(s Snapshot) bool {
		return s.Room != nil && s.Room.CurrentSession.Running()
	})
	assert.NotNil(t, snap.Room.CurrentSession.StartTime)

	// So does chat.
	chat.NewService(st).Send(ctx, roomID, room.User{ID: "host", Name: "Ada"}, "hello")
	snap = waitFor(t, sub, func(s Snapshot) bool { return len(s.Messages) == 1 })
	assert.Equal(t, "hello", snap.Messages[0].Text)
}

func TestSubscribeToMissingRoom(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clock)
	ctx := context.Background()

	sub, err := Subscribe(ctx, st, "room_missing")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Nothing exists yet; once the room is created the stream catches up.
	require.NoError(t, st.Set(ctx, room.RoomPath("room_missing"),
		[]byte(`{"roomId":"room_missing","roomCode":"AAA-BBB","hostId":"u1","status":"active"}`)))

	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Room != nil })
	assert.Equal(t, "room_missing", snap.Room.RoomID)
}

func TestUnsubscribeClosesStream(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clock)

	sub, err := Subscribe(context.Background(), st, "room_x")
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	for {
		if _, open := <-sub.Snapshots(); !open {
			return
		}
	}
}
