package gateway

import (
	"encoding/json"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/session"
)

// EventType identifies a server-to-client event.
type EventType string

const (
	// EventRoomState carries a full room snapshot after any change.
	EventRoomState EventType = "room_state"
	// EventSessionComplete fires once when the running session hits zero.
	EventSessionComplete EventType = "session_complete"
	// EventError reports a failed client command.
	EventError EventType = "error"
)

// Event is the server-to-client envelope.
type Event struct {
	Type    EventType       `json:"type"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomStatePayload is the body of a room_state event. Remaining and
// running are derived server-side so clients can render without doing
// anchor math.
type RoomStatePayload struct {
	Room     *room.Room           `json:"room"`
	Messages []room.ChatMessage   `json:"messages"`
	Display  session.DisplayState `json:"display"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

func newEvent(eventType EventType, roomID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, RoomID: roomID, Payload: data}, nil
}

// CommandType identifies a client-to-server command.
type CommandType string

const (
	CommandStartSession   CommandType = "start_session"
	CommandPauseSession   CommandType = "pause_session"
	CommandResetSession   CommandType = "reset_session"
	CommandSetDuration    CommandType = "set_duration"
	CommandSetEnvironment CommandType = "set_environment"
	CommandPing           CommandType = "ping"
	CommandLeaveRoom      CommandType = "leave_room"
	CommandSendChat       CommandType = "send_chat"
	CommandCreateTask     CommandType = "create_task"
	CommandToggleTask     CommandType = "toggle_task"
	CommandDeleteTask     CommandType = "delete_task"
)

// Command is the client-to-server envelope.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command payload bodies.
type setDurationPayload struct {
	Minutes int `json:"minutes"`
}

type setEnvironmentPayload struct {
	Environment string `json:"environment"`
}

type sendChatPayload struct {
	Text string `json:"text"`
}

type createTaskPayload struct {
	Title string `json:"title"`
}

type taskRefPayload struct {
	TaskID string `json:"taskId"`
}
