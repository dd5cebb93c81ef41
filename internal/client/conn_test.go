package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync-io/chatsync/internal/server"
	"github.com/chatsync-io/chatsync/internal/testutil"
	"github.com/chatsync-io/chatsync/internal/types"
)

func newWsServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestConnectAuthRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)

	cm := NewConnManager(ConnConfig{
		URL:   "ws" + strings.TrimPrefix(ts.URL, "http"),
		Token: "expired",
	}, testutil.TestLogger(t))

	err := cm.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthRejected))
	assert.Equal(t, StateIdle, cm.State())
}

func TestConnectDispatchesPushedEvents(t *testing.T) {
	url := newWsServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(server.NewMessageEvent(types.Message{Id: "m1", ConversationId: "abc", Content: "hi"}))
		n := types.Notification{Id: 4, RecipientId: 1, Message: "welcome"}
		conn.WriteJSON(server.NewNotificationEvent(server.NotificationEvent{New: &n}))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cm := NewConnManager(ConnConfig{URL: url, Token: "tok"}, testutil.TestLogger(t))

	messages := make(chan types.Message, 1)
	notifications := make(chan server.NotificationEvent, 1)
	var connectedResumed bool
	cm.OnMessage(func(m types.Message) { messages <- m })
	cm.OnNotification(func(ev server.NotificationEvent) { notifications <- ev })
	cm.OnConnected(func(resumed bool) { connectedResumed = resumed })

	require.NoError(t, cm.Connect(context.Background()))
	defer cm.Disconnect()

	assert.Equal(t, StateConnected, cm.State())
	assert.False(t, connectedResumed)

	select {
	case m := <-messages:
		assert.Equal(t, "m1", m.Id)
	case <-time.After(2 * time.Second):
		t.Fatal("message event not dispatched")
	}

	select {
	case ev := <-notifications:
		require.NotNil(t, ev.New)
		assert.Equal(t, 4, ev.New.Id)
	case <-time.After(2 * time.Second):
		t.Fatal("notification event not dispatched")
	}
}

func TestJoinRoomLifecycle(t *testing.T) {
	url := newWsServer(t, func(conn *websocket.Conn) {
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg server.ClientMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			switch {
			case msg.Join != nil:
				conn.WriteJSON(server.NoErrOK(msg.Id, map[string]any{"room_id": msg.Join.RoomId}))
			case msg.Leave != nil:
				conn.WriteJSON(server.NoErrOK(msg.Id, nil))
			}
		}
	})

	cm := NewConnManager(ConnConfig{URL: url, Token: "tok"}, testutil.TestLogger(t))
	require.NoError(t, cm.Connect(context.Background()))
	defer cm.Disconnect()

	roomId := types.ConversationRoom("abc")
	require.NoError(t, cm.JoinRoom(roomId))
	assert.Eventually(t, func() bool {
		return cm.RoomPhase(roomId) == "joined"
	}, 2*time.Second, 10*time.Millisecond)

	// joining again is a no-op
	require.NoError(t, cm.JoinRoom(roomId))
	assert.Equal(t, "joined", cm.RoomPhase(roomId))

	require.NoError(t, cm.LeaveRoom(roomId))
	assert.Eventually(t, func() bool {
		return cm.RoomPhase(roomId) == "idle"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJoinRoomRejectsInvalidId(t *testing.T) {
	cm := NewConnManager(ConnConfig{URL: "ws://localhost:0", Token: "tok"}, testutil.TestLogger(t))
	assert.Error(t, cm.JoinRoom("lobby"))
}

func TestLeaveRoomNeverJoinedIsNoop(t *testing.T) {
	cm := NewConnManager(ConnConfig{URL: "ws://localhost:0", Token: "tok"}, testutil.TestLogger(t))
	assert.NoError(t, cm.LeaveRoom(types.ConversationRoom("abc")))
}

// chanWriter hands log lines to the test without sharing a buffer
// with the logging goroutine.
type chanWriter chan string

func (w chanWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestRejoinLogsFailedWrite(t *testing.T) {
	logs := make(chanWriter, 8)
	cm := NewConnManager(ConnConfig{URL: "ws://localhost:0", Token: "tok"}, log.New(logs, "", 0))

	roomId := types.ConversationRoom("abc")
	require.NoError(t, cm.JoinRoom(roomId))

	// replaying the join with no connection behind it must not lose the
	// failure silently
	cm.mu.Lock()
	cm.rejoinRoomsLocked()
	cm.mu.Unlock()

	select {
	case line := <-logs:
		assert.Contains(t, line, "re-join")
		assert.Contains(t, line, roomId)
	case <-time.After(2 * time.Second):
		t.Fatal("write failure never logged")
	}
}

func TestReconnectRejoinsRooms(t *testing.T) {
	conns := make(chan *websocket.Conn, 2)
	url := newWsServer(t, func(conn *websocket.Conn) {
		conns <- conn
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg server.ClientMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			if msg.Join != nil {
				conn.WriteJSON(server.NoErrOK(msg.Id, map[string]any{"room_id": msg.Join.RoomId}))
			}
		}
	})

	cm := NewConnManager(ConnConfig{
		URL:       url,
		Token:     "tok",
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
	}, testutil.TestLogger(t))

	reconnecting := make(chan struct{}, 4)
	resumedCh := make(chan bool, 2)
	cm.OnReconnecting(func(int, time.Duration) { reconnecting <- struct{}{} })
	cm.OnConnected(func(resumed bool) { resumedCh <- resumed })

	require.NoError(t, cm.Connect(context.Background()))
	defer cm.Disconnect()
	assert.False(t, <-resumedCh)

	roomId := types.ConversationRoom("abc")
	require.NoError(t, cm.JoinRoom(roomId))
	assert.Eventually(t, func() bool { return cm.RoomPhase(roomId) == "joined" }, 2*time.Second, 10*time.Millisecond)

	// drop the connection from the server side
	first := <-conns
	first.Close()

	select {
	case <-reconnecting:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never attempted")
	}

	select {
	case resumed := <-resumedCh:
		assert.True(t, resumed)
	case <-time.After(5 * time.Second):
		t.Fatal("never reconnected")
	}

	// membership is session-scoped: the new session joined the room again
	assert.Eventually(t, func() bool { return cm.RoomPhase(roomId) == "joined" }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateConnected, cm.State())
}
