package gateway

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/roomsync"
	"github.com/mcdev12/focusroom/go/internal/session"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// StoreBridge fans store changes out to WebSocket connections. Each room
// with at least one connection gets a roomsync subscription plus a session
// ticker that fires the completion event when the countdown reaches zero.
type StoreBridge struct {
	store store.Store
	clock clockwork.Clock
	cm    *ConnectionManager

	mu    sync.Mutex
	rooms map[string]*roomBridge
	ctx   context.Context
}

type roomBridge struct {
	sub    *roomsync.Subscription
	ticker *session.Ticker
	cancel context.CancelFunc
}

// NewStoreBridge creates a bridge over the given store.
func NewStoreBridge(st store.Store, clock clockwork.Clock, cm *ConnectionManager) *StoreBridge {
	return &StoreBridge{
		store: st,
		clock: clock,
		cm:    cm,
		rooms: make(map[string]*roomBridge),
	}
}

// Start runs until the context is cancelled, then tears down all room
// subscriptions.
func (b *StoreBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	log.Info().Msg("store bridge started")
	<-ctx.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, rb := range b.rooms {
		rb.cancel()
		delete(b.rooms, roomID)
	}
	log.Info().Msg("store bridge stopped")
	return nil
}

// EnsureRoom starts watching a room. Idempotent; called when a room gains
// its first connection.
func (b *StoreBridge) EnsureRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.rooms[roomID]; exists {
		return
	}
	parent := b.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sub, err := roomsync.Subscribe(ctx, b.store, roomID)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to subscribe to room")
		return
	}

	ticker := session.NewTicker(b.clock,
		nil, // per-second display updates are derived client-side
		func() {
			event, err := newEvent(EventSessionComplete, roomID, struct{}{})
			if err != nil {
				return
			}
			b.cm.BroadcastToRoom(roomID, event)
		},
	)

	rb := &roomBridge{sub: sub, ticker: ticker, cancel: cancel}
	b.rooms[roomID] = rb

	go ticker.Run(ctx)
	go b.pump(ctx, roomID, rb)

	log.Info().Str("room_id", roomID).Msg("room bridge started")
}

// ReleaseRoom stops watching a room. Called when the last connection for
// the room goes away.
func (b *StoreBridge) ReleaseRoom(roomID string) {
	b.mu.Lock()
	rb, exists := b.rooms[roomID]
	if exists {
		delete(b.rooms, roomID)
	}
	b.mu.Unlock()

	if exists {
		rb.cancel()
		log.Info().Str("room_id", roomID).Msg("room bridge stopped")
	}
}

func (b *StoreBridge) pump(ctx context.Context, roomID string, rb *roomBridge) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-rb.sub.Snapshots():
			if !ok {
				return
			}
			b.broadcastSnapshot(ctx, roomID, rb, snapshot)
		}
	}
}

func (b *StoreBridge) broadcastSnapshot(ctx context.Context, roomID string, rb *roomBridge, snapshot roomsync.Snapshot) {
	var sess room.Session
	if snapshot.Room != nil {
		sess = snapshot.Room.CurrentSession
	}
	rb.ticker.Update(sess)

	now, err := b.store.ServerNow(ctx)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("falling back to local clock for display state")
		now = b.clock.Now()
	}

	payload := RoomStatePayload{
		Room:     snapshot.Room,
		Messages: snapshot.Messages,
		Display: session.DisplayState{
			Remaining: sess.Remaining(now),
			Running:   sess.Running(),
		},
	}
	event, err := newEvent(EventRoomState, roomID, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to encode room state event")
		return
	}
	b.cm.BroadcastToRoom(roomID, event)
}
