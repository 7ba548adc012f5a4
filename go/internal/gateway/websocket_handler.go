package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/registry"
	"github.com/mcdev12/focusroom/go/internal/room"
)

// RoomJoiner is the slice of the registry the gateway needs to admit a
// connection into a room.
type RoomJoiner interface {
	JoinRoom(ctx context.Context, code string, user room.User) (string, error)
}

// WebSocketHandler handles WebSocket upgrade requests for room connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	registry          RoomJoiner
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, registry RoomJoiner) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		registry:          registry,
	}
}

// HandleRoomConnection joins the caller into the room named by the invite
// code and upgrades the connection. Query parameters: code, user_id, name.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	// In production identity would come from a session token.
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "Anonymous"
	}

	user := room.User{ID: userID, Name: name}
	roomID, err := h.registry.JoinRoom(r.Context(), code, user)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to join room"
		switch {
		case errors.Is(err, registry.ErrRoomNotFound):
			status = http.StatusNotFound
			msg = "room not found"
		case errors.Is(err, registry.ErrRoomFull):
			status = http.StatusConflict
			msg = "room is full"
		}
		log.Warn().Err(err).Str("user_id", userID).Msg("join failed")
		http.Error(w, msg, status)
		return
	}

	if _, err := h.connectionManager.UpgradeConnection(w, r, user, roomID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"total_connections": total,
		"active_rooms":      rooms,
	})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/rooms", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
