package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/session"
)

const commandTimeout = 10 * time.Second

// dispatcher routes client commands to the room services. Every command
// runs with the connection's identity as the caller, so the session
// policy gate applies server-side regardless of what the client claims.
type dispatcher struct {
	sessions *session.Service
	presence PresenceService
	chat     ChatService
	tasks    TaskService
	cm       *ConnectionManager
}

// PresenceService is the slice of the presence tracker the gateway needs.
type PresenceService interface {
	SetOnline(ctx context.Context, roomID, userID string, online bool)
	LeaveRoom(ctx context.Context, roomID, userID string) error
}

// ChatService is the slice of the chat service the gateway needs.
type ChatService interface {
	Send(ctx context.Context, roomID string, from room.User, text string)
}

// TaskService is the slice of the task service the gateway needs.
type TaskService interface {
	Create(ctx context.Context, roomID string, by room.User, title string) (string, error)
	Toggle(ctx context.Context, roomID, taskID string) error
	Delete(ctx context.Context, roomID, taskID string) error
}

func (d *dispatcher) handle(conn *Connection, cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	user := room.User{ID: conn.UserID, Name: conn.UserName}
	err := d.run(ctx, conn, cmd, user)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.sendError(conn, cmd, err)
	}
	commandsHandled.WithLabelValues(string(cmd.Type), outcome).Inc()
}

func (d *dispatcher) run(ctx context.Context, conn *Connection, cmd Command, user room.User) error {
	roomID := conn.RoomID

	switch cmd.Type {
	case CommandStartSession:
		return d.sessions.Start(ctx, roomID, user.ID)

	case CommandPauseSession:
		return d.sessions.Pause(ctx, roomID, user.ID)

	case CommandResetSession:
		return d.sessions.Reset(ctx, roomID, user.ID)

	case CommandSetDuration:
		var p setDurationPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errors.New("invalid set_duration payload")
		}
		return d.sessions.SetDuration(ctx, roomID, user.ID, p.Minutes)

	case CommandSetEnvironment:
		var p setEnvironmentPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errors.New("invalid set_environment payload")
		}
		return d.sessions.SetEnvironment(ctx, roomID, user.ID, p.Environment)

	case CommandPing:
		d.sessions.Ping(ctx, roomID, user)
		return nil

	case CommandLeaveRoom:
		if err := d.presence.LeaveRoom(ctx, roomID, user.ID); err != nil {
			return err
		}
		// The member record is gone; drop the socket so the read pump
		// unwinds cleanly.
		conn.Conn.Close()
		return nil

	case CommandSendChat:
		var p sendChatPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errors.New("invalid send_chat payload")
		}
		d.chat.Send(ctx, roomID, user, p.Text)
		return nil

	case CommandCreateTask:
		var p createTaskPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errors.New("invalid create_task payload")
		}
		_, err := d.tasks.Create(ctx, roomID, user, p.Title)
		return err

	case CommandToggleTask:
		var p taskRefPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errors.New("invalid toggle_task payload")
		}
		return d.tasks.Toggle(ctx, roomID, p.TaskID)

	case CommandDeleteTask:
		var p taskRefPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return errors.New("invalid delete_task payload")
		}
		return d.tasks.Delete(ctx, roomID, p.TaskID)

	default:
		return errors.New("unknown command")
	}
}

func (d *dispatcher) sendError(conn *Connection, cmd Command, err error) {
	log.Warn().
		Err(err).
		Str("connection_id", conn.ID).
		Str("command", string(cmd.Type)).
		Msg("command failed")

	event, encodeErr := newEvent(EventError, conn.RoomID, ErrorPayload{
		Command: string(cmd.Type),
		Message: err.Error(),
	})
	if encodeErr != nil {
		return
	}
	d.cm.SendToConnection(conn, event)
}
