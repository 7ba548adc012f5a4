package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/session"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// Service is the room gateway: it admits WebSocket connections, bridges
// store changes out to them, and routes client commands into the room
// services.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	bridge            *StoreBridge
	stateHandler      *StateHandler
	roomsHandler      *RoomsHandler
	dispatcher        *dispatcher
	presence          PresenceService
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// Deps are the room services the gateway fronts.
type Deps struct {
	Store    store.Store
	Clock    clockwork.Clock
	Registry RoomRegistry
	Sessions *session.Service
	Presence PresenceService
	Chat     ChatService
	Tasks    TaskService
}

// NewService creates a new gateway service.
func NewService(config Config, deps Deps) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	bridge := NewStoreBridge(deps.Store, deps.Clock, cm)

	d := &dispatcher{
		sessions: deps.Sessions,
		presence: deps.Presence,
		chat:     deps.Chat,
		tasks:    deps.Tasks,
		cm:       cm,
	}

	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, deps.Registry),
		bridge:            bridge,
		stateHandler:      NewStateHandler(deps.Store),
		roomsHandler:      NewRoomsHandler(deps.Registry, deps.Store),
		dispatcher:        d,
		presence:          deps.Presence,
	}

	cm.onCommand = d.handle
	cm.onJoin = bridge.EnsureRoom
	cm.onLeave = s.handleConnectionClosed
	return s
}

// Start begins the gateway service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)
	go func() {
		if err := s.bridge.Start(ctx); err != nil {
			log.Error().Err(err).Msg("store bridge failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("room gateway service stopped")
	return nil
}

// handleConnectionClosed marks the member offline and releases the room's
// bridge when its last connection goes away. A closed socket means the
// member is unreachable, not that they left; the member record stays.
func (s *Service) handleConnectionClosed(conn *Connection, lastInRoom bool) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	s.presence.SetOnline(ctx, conn.RoomID, conn.UserID, false)
	if lastInRoom {
		s.bridge.ReleaseRoom(conn.RoomID)
	}
}

// RegisterRoutes registers the WebSocket and REST routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	s.roomsHandler.RegisterRoomRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns connection statistics.
func (s *Service) GetStats() (total int, rooms int) {
	return s.connectionManager.GetConnectionStats()
}
