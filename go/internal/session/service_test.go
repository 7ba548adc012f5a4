package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/internal/registry"
	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store/memstore"
)

type noopTracker struct{}

func (noopTracker) Track(ctx context.Context, roomID, userID string) error { return nil }

// setup creates a two-member room. The returned clock drives the store's
// server timestamps.
func setup(t *testing.T) (*Service, *memstore.Store, *clockwork.FakeClock, string) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clock)
	reg := registry.New(st, noopTracker{})
	ctx := context.Background()

	roomID, err := reg.CreateRoom(ctx, room.User{ID: "host", Name: "Ada"})
	require.NoError(t, err)
	r, err := room.Load(ctx, st, roomID)
	require.NoError(t, err)
	_, err = reg.JoinRoom(ctx, r.RoomCode, room.User{ID: "partner", Name: "Ben"})
	require.NoError(t, err)

	return NewService(st), st, clock, roomID
}

func loadSession(t *testing.T, st *memstore.Store, roomID string) room.Session {
	t.Helper()
	r, err := room.Load(context.Background(), st, roomID)
	require.NoError(t, err)
	return r.CurrentSession
}

func setPartnerControl(t *testing.T, st *memstore.Store, roomID string, allowed bool) {
	t.Helper()
	require.NoError(t, st.Merge(context.Background(), room.RoomPath(roomID), map[string]any{
		"settings": map[string]any{
			"defaultDuration":     25 * 60,
			"allowPartnerControl": allowed,
		},
	}))
}

func TestStartAnchorsTheCountdown(t *testing.T) {
	svc, st, clock, roomID := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, roomID, "host"))

	sess := loadSession(t, st, roomID)
	assert.True(t, sess.Running())
	require.NotNil(t, sess.StartTime)
	assert.Equal(t, room.Millis(clock.Now()), *sess.StartTime)
	assert.Equal(t, 25*60, sess.TimeRemaining)
	assert.Equal(t, room.Millis(clock.Now()), sess.LastSyncTime)
}

func TestStartIsIdempotent(t *testing.T) {
	svc, st, clock, roomID := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, roomID, "host"))
	first := loadSession(t, st, roomID)

	// A second start moments later re-anchors without changing the
	// observable countdown.
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, svc.Start(ctx, roomID, "host"))
	second := loadSession(t, st, roomID)

	assert.True(t, second.Running())
	assert.Equal(t, first.Remaining(clock.Now()), second.Remaining(clock.Now()))
}

func TestPauseResumeRoundTrip(t *testing.T) {
	svc, st, clock, roomID := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, roomID, "host"))

	clock.Advance(90 * time.Second)
	require.NoError(t, svc.Pause(ctx, roomID, "host"))

	sess := loadSession(t, st, roomID)
	assert.True(t, sess.IsActive)
	assert.True(t, sess.IsPaused)
	assert.Nil(t, sess.StartTime)
	assert.Equal(t, 25*60-90, sess.TimeRemaining, "pause freezes the derived remaining")

	// Time passing while paused must not leak into the countdown.
	clock.Advance(10 * time.Minute)
	require.NoError(t, svc.Start(ctx, roomID, "host"))

	sess = loadSession(t, st, roomID)
	assert.True(t, sess.Running())
	assert.Equal(t, 25*60-90, sess.TimeRemaining)
	assert.Equal(t, 25*60-90, sess.Remaining(clock.Now()))
}

func TestPauseWhenNotRunningIsNoOp(t *testing.T) {
	svc, st, _, roomID := setup(t)
	ctx := context.Background()

	before := loadSession(t, st, roomID)
	require.NoError(t, svc.Pause(ctx, roomID, "host"))
	assert.Equal(t, before, loadSession(t, st, roomID))
}

func TestReset(t *testing.T) {
	svc, st, clock, roomID := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, roomID, "host"))
	clock.Advance(5 * time.Minute)

	require.NoError(t, svc.Reset(ctx, roomID, "host"))

	sess := loadSession(t, st, roomID)
	assert.False(t, sess.IsActive)
	assert.False(t, sess.IsPaused)
	assert.Nil(t, sess.StartTime)
	assert.Equal(t, 25*60, sess.TimeRemaining)
}

func TestSetDuration(t *testing.T) {
	svc, st, _, roomID := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.SetDuration(ctx, roomID, "host", 1))
	assert.Equal(t, 60, loadSession(t, st, roomID).TimeRemaining)

	require.NoError(t, svc.SetDuration(ctx, roomID, "host", 720))
	assert.Equal(t, 43200, loadSession(t, st, roomID).TimeRemaining)
}

func TestSetDurationRejectsOutOfRange(t *testing.T) {
	svc, st, _, roomID := setup(t)
	ctx := context.Background()

	before := loadSession(t, st, roomID)

	assert.ErrorIs(t, svc.SetDuration(ctx, roomID, "host", 0), ErrDurationOutOfRange)
	assert.ErrorIs(t, svc.SetDuration(ctx, roomID, "host", 721), ErrDurationOutOfRange)
	assert.ErrorIs(t, svc.SetDuration(ctx, roomID, "host", -10), ErrDurationOutOfRange)

	assert.Equal(t, before, loadSession(t, st, roomID), "rejected durations must not write")
}

func TestSetDurationStopsRunningCountdown(t *testing.T) {
	svc, st, clock, roomID := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, roomID, "host"))
	clock.Advance(time.Minute)

	require.NoError(t, svc.SetDuration(ctx, roomID, "host", 50))

	sess := loadSession(t, st, roomID)
	assert.False(t, sess.IsActive, "changing the clock face never silently continues")
	assert.Nil(t, sess.StartTime)
	assert.Equal(t, 50*60, sess.TimeRemaining)
}

func TestPartnerControlAllowed(t *testing.T) {
	svc, st, _, roomID := setup(t)
	ctx := context.Background()

	// Default settings allow partner control.
	require.NoError(t, svc.Start(ctx, roomID, "partner"))
	assert.True(t, loadSession(t, st, roomID).Running())
}

func TestAuthorizationGate(t *testing.T) {
	svc, st, _, roomID := setup(t)
	ctx := context.Background()
	setPartnerControl(t, st, roomID, false)

	before := loadSession(t, st, roomID)

	assert.ErrorIs(t, svc.Start(ctx, roomID, "partner"), ErrUnauthorized)
	assert.ErrorIs(t, svc.Pause(ctx, roomID, "partner"), ErrUnauthorized)
	assert.ErrorIs(t, svc.Reset(ctx, roomID, "partner"), ErrUnauthorized)
	assert.ErrorIs(t, svc.SetDuration(ctx, roomID, "partner", 30), ErrUnauthorized)
	assert.ErrorIs(t, svc.SetEnvironment(ctx, roomID, "partner", "library"), ErrUnauthorized)

	assert.Equal(t, before, loadSession(t, st, roomID), "rejected calls must not mutate the session")

	// The host is unaffected by the partner-control setting.
	require.NoError(t, svc.Start(ctx, roomID, "host"))
}

func TestPingBypassesPolicy(t *testing.T) {
	svc, st, clock, roomID := setup(t)
	ctx := context.Background()
	setPartnerControl(t, st, roomID, false)

	svc.Ping(ctx, roomID, room.User{ID: "partner", Name: "Ben"})

	sess := loadSession(t, st, roomID)
	require.NotNil(t, sess.LastPing)
	assert.Equal(t, "partner", sess.LastPing.From)
	assert.Equal(t, "Ben", sess.LastPing.FromName)
	assert.Equal(t, room.Millis(clock.Now()), sess.LastPing.Timestamp)
}

func TestSetEnvironment(t *testing.T) {
	svc, st, _, roomID := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.SetEnvironment(ctx, roomID, "host", "library"))
	assert.Equal(t, "library", loadSession(t, st, roomID).Environment)
}

func TestCanControl(t *testing.T) {
	r := &room.Room{HostID: "host", Settings: room.Settings{AllowPartnerControl: false}}
	assert.True(t, CanControl(r, "host"))
	assert.False(t, CanControl(r, "partner"))

	r.Settings.AllowPartnerControl = true
	assert.True(t, CanControl(r, "partner"))
}
