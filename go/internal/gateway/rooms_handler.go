package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/registry"
	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// RoomRegistry is the slice of the registry the REST surface needs.
type RoomRegistry interface {
	RoomJoiner
	CreateRoom(ctx context.Context, creator room.User) (string, error)
	FindRoomByCode(ctx context.Context, code string) (string, error)
}

// RoomsHandler handles room creation and code lookup over REST. Joining
// happens on the WebSocket upgrade, not here.
type RoomsHandler struct {
	registry RoomRegistry
	store    store.Store
}

// NewRoomsHandler creates a new rooms handler.
func NewRoomsHandler(reg RoomRegistry, st store.Store) *RoomsHandler {
	return &RoomsHandler{registry: reg, store: st}
}

type createRoomRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type createRoomResponse struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode"`
}

// HandleCreateRoom handles POST /api/rooms.
func (h *RoomsHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "Anonymous"
	}

	roomID, err := h.registry.CreateRoom(r.Context(), room.User{ID: req.UserID, Name: req.Name})
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to create room")
		http.Error(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	rm, err := room.Load(r.Context(), h.store, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load created room")
		http.Error(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createRoomResponse{
		RoomID:   rm.RoomID,
		RoomCode: rm.RoomCode,
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode create room response")
	}
}

// HandleLookupRoom handles GET /api/rooms/lookup?code=XXX-XXX.
func (h *RoomsHandler) HandleLookupRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	roomID, err := h.registry.FindRoomByCode(r.Context(), code)
	if errors.Is(err, registry.ErrRoomNotFound) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to look up room code")
		http.Error(w, "Failed to look up room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"roomId": roomID}); err != nil {
		log.Error().Err(err).Msg("failed to encode lookup response")
	}
}

// RegisterRoomRoutes registers room lifecycle routes.
func (h *RoomsHandler) RegisterRoomRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", h.HandleCreateRoom)
	mux.HandleFunc("/api/rooms/lookup", h.HandleLookupRoom)
}
