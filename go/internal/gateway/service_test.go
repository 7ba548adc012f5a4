package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/focusroom/go/internal/chat"
	"github.com/mcdev12/focusroom/go/internal/presence"
	"github.com/mcdev12/focusroom/go/internal/registry"
	"github.com/mcdev12/focusroom/go/internal/session"
	"github.com/mcdev12/focusroom/go/internal/store/memstore"
	"github.com/mcdev12/focusroom/go/internal/tasks"
)

type testEnv struct {
	server *httptest.Server
	cancel context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewRealClock()
	st := memstore.New(clock)
	tracker := presence.New(st)

	svc := NewService(DefaultConfig(), Deps{
		Store:    st,
		Clock:    clock,
		Registry: registry.New(st, tracker),
		Sessions: session.NewService(st),
		Presence: tracker,
		Chat:     chat.NewService(st),
		Tasks:    tasks.NewService(st),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return &testEnv{server: server, cancel: cancel}
}

func (e *testEnv) createRoom(t *testing.T, userID, name string) createRoomResponse {
	t.Helper()

	body, err := json.Marshal(createRoomRequest{UserID: userID, Name: name})
	require.NoError(t, err)

	resp, err := http.Post(e.server.URL+"/api/rooms", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created createRoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created
}

func (e *testEnv) dial(t *testing.T, code, userID, name string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") +
		"/ws/rooms?code=" + code + "&user_id=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads events until one of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want EventType) Event {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var event Event
		require.NoError(t, conn.ReadJSON(&event), "waiting for %s event", want)
		if event.Type == want {
			return event
		}
	}
}

func decodeState(t *testing.T, event Event) RoomStatePayload {
	t.Helper()
	var payload RoomStatePayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	return payload
}

func TestConnectReceivesInitialState(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, "host-user", "Ana")

	conn := env.dial(t, created.RoomCode, "host-user", "Ana")

	event := readEvent(t, conn, EventRoomState)
	assert.Equal(t, created.RoomID, event.RoomID)

	payload := decodeState(t, event)
	require.NotNil(t, payload.Room)
	assert.Equal(t, created.RoomCode, payload.Room.RoomCode)
	assert.Equal(t, "host-user", payload.Room.HostID)
	assert.False(t, payload.Display.Running)
}

func TestStartSessionBroadcastsRunningState(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, "host-user", "Ana")
	conn := env.dial(t, created.RoomCode, "host-user", "Ana")
	readEvent(t, conn, EventRoomState)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandStartSession}))

	for {
		payload := decodeState(t, readEvent(t, conn, EventRoomState))
		if payload.Room == nil || !payload.Room.CurrentSession.IsActive {
			continue
		}
		assert.True(t, payload.Display.Running)
		assert.Greater(t, payload.Display.Remaining, 0)
		break
	}
}

func TestChatIsBroadcastToAllConnections(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, "host-user", "Ana")

	hostConn := env.dial(t, created.RoomCode, "host-user", "Ana")
	readEvent(t, hostConn, EventRoomState)

	guestConn := env.dial(t, created.RoomCode, "guest-user", "Ben")
	readEvent(t, guestConn, EventRoomState)

	payload, err := json.Marshal(sendChatPayload{Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, guestConn.WriteJSON(Command{Type: CommandSendChat, Payload: payload}))

	for {
		state := decodeState(t, readEvent(t, hostConn, EventRoomState))
		if len(state.Messages) == 0 {
			continue
		}
		assert.Equal(t, "hello", state.Messages[0].Text)
		assert.Equal(t, "guest-user", state.Messages[0].SenderID)
		break
	}
}

func TestGuestCanStartWithPartnerControlEnabled(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, "host-user", "Ana")

	hostConn := env.dial(t, created.RoomCode, "host-user", "Ana")
	readEvent(t, hostConn, EventRoomState)

	guestConn := env.dial(t, created.RoomCode, "guest-user", "Ben")
	readEvent(t, guestConn, EventRoomState)

	// Rooms allow partner control by default, so the guest can start.
	require.NoError(t, guestConn.WriteJSON(Command{Type: CommandStartSession}))
	for {
		state := decodeState(t, readEvent(t, guestConn, EventRoomState))
		if state.Room != nil && state.Room.CurrentSession.IsActive {
			break
		}
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, "host-user", "Ana")
	conn := env.dial(t, created.RoomCode, "host-user", "Ana")
	readEvent(t, conn, EventRoomState)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandType("definitely_not_a_command")}))

	event := readEvent(t, conn, EventError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "definitely_not_a_command", payload.Command)
}

func TestJoinUnknownCodeFails(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") +
		"/ws/rooms?code=ZZZ-ZZZ&user_id=u1&name=Ana"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoomStateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, "host-user", "Ana")

	resp, err := http.Get(env.server.URL + "/api/rooms/" + created.RoomID + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state RoomStateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, created.RoomID, state.RoomID)
	assert.Equal(t, created.RoomCode, state.RoomCode)
	assert.False(t, state.Running)
	assert.Len(t, state.Members, 1)
}

func TestLookupByCode(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, "host-user", "Ana")

	resp, err := http.Get(env.server.URL + "/api/rooms/lookup?code=" + created.RoomCode)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, created.RoomID, body["roomId"])

	missing, err := http.Get(env.server.URL + "/api/rooms/lookup?code=ZZZ-ZZZ")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
