package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// RoomStateResponse is the REST view of a room. Remaining time is derived
// from the anchor against the store's server clock at request time, so
// pollers get a live countdown without holding a WebSocket.
type RoomStateResponse struct {
	RoomID        string                 `json:"roomId"`
	RoomCode      string                 `json:"roomCode"`
	HostID        string                 `json:"hostId"`
	Members       map[string]room.Member `json:"members"`
	Session       room.Session           `json:"session"`
	TimeRemaining int                    `json:"timeRemainingSec"`
	Running       bool                   `json:"running"`
	Environment   string                 `json:"environment"`
}

// StateHandler handles HTTP requests for room state.
type StateHandler struct {
	store store.Store
}

// NewStateHandler creates a new state handler.
func NewStateHandler(st store.Store) *StateHandler {
	return &StateHandler{store: st}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state.
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path)
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	rm, err := room.Load(r.Context(), h.store, roomID)
	if errors.Is(err, store.ErrKeyNotFound) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room state")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}

	now, err := h.store.ServerNow(r.Context())
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to read server time")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}

	resp := RoomStateResponse{
		RoomID:        rm.RoomID,
		RoomCode:      rm.RoomCode,
		HostID:        rm.HostID,
		Members:       rm.Members,
		Session:       rm.CurrentSession,
		TimeRemaining: rm.CurrentSession.Remaining(now),
		Running:       rm.CurrentSession.Running(),
		Environment:   rm.CurrentSession.Environment,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetRoomState(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// extractRoomIDFromPath extracts the room ID from /api/rooms/{id}/state.
func extractRoomIDFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := path[len(prefix) : len(path)-len(suffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
