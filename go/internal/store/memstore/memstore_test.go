package memstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/internal/store"
)

func newTestStore() *Store {
	return New(clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func mustDoc(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestGetSetRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/r1", []byte(`{"roomId":"r1","hostId":"u1"}`)))

	data, err := s.Get(ctx, "rooms/r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", mustDoc(t, data)["hostId"])

	_, err = s.Get(ctx, "rooms/missing")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestCreateRejectsExisting(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "roomcodes/AAA-BBB", []byte(`{"roomId":"r1"}`)))
	err := s.Create(ctx, "roomcodes/AAA-BBB", []byte(`{"roomId":"r2"}`))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	data, err := s.Get(ctx, "roomcodes/AAA-BBB")
	require.NoError(t, err)
	assert.Equal(t, "r1", mustDoc(t, data)["roomId"], "losing create must not clobber the winner")
}

func TestMergeUpdatesAndRemovesFields(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/r1/currentSession", []byte(`{"isActive":true,"startTime":100,"timeRemaining":60}`)))
	require.NoError(t, s.Merge(ctx, "rooms/r1/currentSession", map[string]any{
		"isActive":      false,
		"startTime":     nil,
		"timeRemaining": 0,
	}))

	data, err := s.Get(ctx, "rooms/r1/currentSession")
	require.NoError(t, err)
	doc := mustDoc(t, data)
	assert.Equal(t, false, doc["isActive"])
	assert.NotContains(t, doc, "startTime", "nil merge value removes the field")
	assert.Equal(t, float64(0), doc["timeRemaining"])
}

func TestListByPrefix(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/r1/members/u1", []byte(`{"name":"a"}`)))
	require.NoError(t, s.Set(ctx, "rooms/r1/members/u2", []byte(`{"name":"b"}`)))
	require.NoError(t, s.Set(ctx, "rooms/r2/members/u3", []byte(`{"name":"c"}`)))

	docs, err := s.List(ctx, "rooms/r1/members/")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Contains(t, docs, "rooms/r1/members/u1")
	assert.Contains(t, docs, "rooms/r1/members/u2")
}

func TestWatchDeliversCurrentThenChanges(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/r1", []byte(`{"roomId":"r1"}`)))

	w, err := s.Watch(ctx, "rooms/r1")
	require.NoError(t, err)
	defer w.Stop()

	first := <-w.Updates()
	assert.Equal(t, "rooms/r1", first.Path)

	require.NoError(t, s.Merge(ctx, "rooms/r1/currentSession", map[string]any{"isActive": true}))
	second := <-w.Updates()
	assert.Equal(t, "rooms/r1/currentSession", second.Path)
	assert.Equal(t, true, mustDoc(t, second.Value)["isActive"])

	require.NoError(t, s.Delete(ctx, "rooms/r1/currentSession"))
	third := <-w.Updates()
	assert.Equal(t, "rooms/r1/currentSession", third.Path)
	assert.Nil(t, third.Value, "deletions arrive as nil values")
}

func TestWatchStopClosesChannel(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	w, err := s.Watch(ctx, "rooms/")
	require.NoError(t, err)
	w.Stop()
	w.Stop() // idempotent

	_, open := <-w.Updates()
	assert.False(t, open)

	// Writes after Stop must not panic or deliver.
	require.NoError(t, s.Set(ctx, "rooms/r1", []byte(`{"roomId":"r1"}`)))
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	s := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())

	w, err := s.Watch(ctx, "rooms/")
	require.NoError(t, err)

	cancel()
	for {
		if _, open := <-w.Updates(); !open {
			return
		}
	}
}

func TestDisconnectWritesApplyOnDrop(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/r1/members/u1", []byte(`{"name":"a","online":true}`)))

	_, err := s.OnDisconnect(ctx, "rooms/r1/members/u1", map[string]any{"online": false})
	require.NoError(t, err)

	s.SimulateDisconnect()

	data, err := s.Get(ctx, "rooms/r1/members/u1")
	require.NoError(t, err)
	assert.Equal(t, false, mustDoc(t, data)["online"])
}

func TestDisconnectWriteCancelled(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/r1/members/u1", []byte(`{"name":"a","online":true}`)))

	cancel, err := s.OnDisconnect(ctx, "rooms/r1/members/u1", map[string]any{"online": false})
	require.NoError(t, err)
	require.NoError(t, cancel(ctx))

	s.SimulateDisconnect()

	data, err := s.Get(ctx, "rooms/r1/members/u1")
	require.NoError(t, err)
	assert.Equal(t, true, mustDoc(t, data)["online"], "cancelled registration must not fire")
}

func TestServerNowUsesClock(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New(clockwork.NewFakeClockAt(at))

	now, err := s.ServerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at, now)
}
