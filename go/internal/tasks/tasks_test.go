package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store/memstore"
)

func newTestService() (*Service, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(memstore.New(clock)), clock
}

func TestCreateAndListNewestFirst(t *testing.T) {
	svc, clock := newTestService()
	ctx := context.Background()
	user := room.User{ID: "u1", Name: "Ada"}

	_, err := svc.Create(ctx, "room_1", user, "older")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Create(ctx, "room_1", user, "newer")
	require.NoError(t, err)

	list, err := svc.List(ctx, "room_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].Title)
	assert.Equal(t, "older", list[1].Title)
	assert.Equal(t, "Ada", list[0].CreatedByName)
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Create(context.Background(), "room_1", room.User{ID: "u1"}, "   ")
	assert.Error(t, err)
}

func TestToggle(t *testing.T) {
	svc, clock := newTestService()
	ctx := context.Background()

	id, err := svc.Create(ctx, "room_1", room.User{ID: "u1", Name: "Ada"}, "focus")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, svc.Toggle(ctx, "room_1", id))

	list, err := svc.List(ctx, "room_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Completed)
	assert.Equal(t, room.Millis(clock.Now()), list[0].CompletedAt)

	// Toggling back clears the completion stamp.
	require.NoError(t, svc.Toggle(ctx, "room_1", id))
	list, err = svc.List(ctx, "room_1")
	require.NoError(t, err)
	assert.False(t, list[0].Completed)
	assert.Zero(t, list[0].CompletedAt)
}

func TestToggleMissingTask(t *testing.T) {
	svc, _ := newTestService()

	err := svc.Toggle(context.Background(), "room_1", "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Create(ctx, "room_1", room.User{ID: "u1", Name: "Ada"}, "focus")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "room_1", id))
	require.NoError(t, svc.Delete(ctx, "room_1", id), "deleting an absent task is not an error")

	list, err := svc.List(ctx, "room_1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
