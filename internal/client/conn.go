package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync-io/chatsync/internal/server"
	"github.com/chatsync-io/chatsync/internal/types"
)

// ErrAuthRejected is returned when the server refuses the websocket
// handshake with an authentication failure. It is terminal: the
// connection manager never retries past it.
var ErrAuthRejected = errors.New("authentication rejected")

// ErrNotConnected is returned for operations that need an established
// connection.
var ErrNotConnected = errors.New("not connected")

type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

const (
	defaultBaseDelay    = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMaxAttempts  = 10
	defaultHandshake    = 10 * time.Second
	stableResetInterval = time.Minute
)

type ConnConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxAttempts      int
}

func (c *ConnConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshake
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// ConnManager owns the persistent websocket connection: dialing,
// reconnecting with backoff, room membership for this session and
// dispatch of pushed events to the registered handlers.
type ConnManager struct {
	cfg    ConnConfig
	log    *log.Logger
	dialer *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	state         ConnState
	intentional   bool
	everConnected bool
	recon         *reconnector
	rooms         map[string]*roomState
	pending       map[int]pendingOp
	nextFrameId   int

	writeMu sync.Mutex

	onMessage      func(types.Message)
	onNotification func(server.NotificationEvent)
	onConnected    func(resumed bool)
	onDisconnected func(error)
	onReconnecting func(attempt int, delay time.Duration)
}

type pendingOp struct {
	op     string
	roomId string
}

func NewConnManager(cfg ConnConfig, logger *log.Logger) *ConnManager {
	cfg.applyDefaults()
	return &ConnManager{
		cfg: cfg,
		log: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		state:   StateIdle,
		recon:   newReconnector(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxAttempts),
		rooms:   make(map[string]*roomState),
		pending: make(map[int]pendingOp),
	}
}

func (cm *ConnManager) OnMessage(fn func(types.Message))                  { cm.onMessage = fn }
func (cm *ConnManager) OnNotification(fn func(server.NotificationEvent)) { cm.onNotification = fn }
func (cm *ConnManager) OnConnected(fn func(resumed bool))                 { cm.onConnected = fn }
func (cm *ConnManager) OnDisconnected(fn func(error))                     { cm.onDisconnected = fn }
func (cm *ConnManager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	cm.onReconnecting = fn
}

func (cm *ConnManager) State() ConnState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Connect establishes the websocket connection. An authentication
// refusal is reported as ErrAuthRejected and must not be retried;
// any other dial failure is returned as-is and the manager stays
// idle until the caller connects again.
func (cm *ConnManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	if cm.state == StateConnected || cm.state == StateConnecting {
		cm.mu.Unlock()
		return nil
	}
	prev := cm.state
	cm.state = StateConnecting
	cm.intentional = false
	cm.mu.Unlock()

	header := http.Header{}
	header.Add("Cookie", "token="+cm.cfg.Token)

	conn, resp, err := cm.dialer.DialContext(ctx, cm.cfg.URL, header)
	if err != nil {
		cm.mu.Lock()
		cm.state = StateIdle
		cm.mu.Unlock()

		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", cm.cfg.URL, err)
	}

	cm.mu.Lock()
	cm.conn = conn
	cm.state = StateConnected
	resumed := cm.everConnected
	cm.everConnected = true
	cm.recon.markConnected()
	cm.rejoinRoomsLocked()
	cm.mu.Unlock()

	go cm.readLoop(conn)

	if prev == StateReconnecting {
		cm.log.Println("reconnected")
	}
	if cm.onConnected != nil {
		cm.onConnected(resumed)
	}

	return nil
}

// Disconnect tears the connection down intentionally; no reconnect
// follows.
func (cm *ConnManager) Disconnect() error {
	cm.mu.Lock()
	cm.intentional = true
	cm.state = StateIdle
	conn := cm.conn
	cm.conn = nil
	cm.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// JoinRoom requests membership in a room. It is idempotent: joining a
// room that is already joined or joining is a no-op. If the connection
// is down the join is recorded and replayed once connected.
func (cm *ConnManager) JoinRoom(roomId string) error {
	if _, _, err := types.SplitRoom(roomId); err != nil {
		return err
	}

	cm.mu.Lock()
	rs, ok := cm.rooms[roomId]
	if !ok {
		rs = &roomState{}
		cm.rooms[roomId] = rs
	}
	if rs.phase == roomJoined || rs.phase == roomJoining {
		cm.mu.Unlock()
		return nil
	}
	rs.phase = roomJoining
	connected := cm.state == StateConnected
	var frameId int
	if connected {
		frameId = cm.nextFrameIdLocked()
		cm.pending[frameId] = pendingOp{op: "join", roomId: roomId}
	}
	cm.mu.Unlock()

	if !connected {
		return nil
	}

	return cm.writeFrame(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: frameId, Timestamp: server.Now()},
		Join:        &server.Join{RoomId: roomId},
	})
}

// LeaveRoom relinquishes membership in a room. Leaving a room that was
// never joined is a no-op.
func (cm *ConnManager) LeaveRoom(roomId string) error {
	cm.mu.Lock()
	rs, ok := cm.rooms[roomId]
	if !ok || rs.phase == roomIdle {
		cm.mu.Unlock()
		return nil
	}
	if cm.state != StateConnected {
		delete(cm.rooms, roomId)
		cm.mu.Unlock()
		return nil
	}
	rs.phase = roomLeaving
	frameId := cm.nextFrameIdLocked()
	cm.pending[frameId] = pendingOp{op: "leave", roomId: roomId}
	cm.mu.Unlock()

	return cm.writeFrame(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: frameId, Timestamp: server.Now()},
		Leave:       &server.Leave{RoomId: roomId},
	})
}

// RoomPhase reports the membership phase for a room.
func (cm *ConnManager) RoomPhase(roomId string) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	rs, ok := cm.rooms[roomId]
	if !ok {
		return roomIdle.String()
	}
	return rs.phase.String()
}

func (cm *ConnManager) nextFrameIdLocked() int {
	cm.nextFrameId++
	return cm.nextFrameId
}

// rejoinRoomsLocked replays join frames for every room the session
// held before the connection dropped. Caller holds mu.
func (cm *ConnManager) rejoinRoomsLocked() {
	for roomId, rs := range cm.rooms {
		if rs.phase == roomLeaving || rs.phase == roomIdle {
			delete(cm.rooms, roomId)
			continue
		}
		rs.phase = roomJoining
		frameId := cm.nextFrameIdLocked()
		cm.pending[frameId] = pendingOp{op: "join", roomId: roomId}
		go func(frame *server.ClientMessage, roomId string) {
			// a failed write also errors the read loop, so the next
			// reconnect replays this join; the log is the only trace
			if err := cm.writeFrame(frame); err != nil {
				cm.log.Printf("re-join %s: %s", roomId, err)
			}
		}(&server.ClientMessage{
			BaseMessage: server.BaseMessage{Id: frameId, Timestamp: server.Now()},
			Join:        &server.Join{RoomId: roomId},
		}, roomId)
	}
}

func (cm *ConnManager) writeFrame(msg *server.ClientMessage) error {
	cm.mu.Lock()
	conn := cm.conn
	cm.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (cm *ConnManager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			cm.handleDisconnect(conn, err)
			return
		}

		var msg server.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cm.log.Println("malformed server frame:", err)
			continue
		}

		switch {
		case msg.Response != nil:
			cm.handleResponse(&msg)
		case msg.Message != nil:
			if cm.onMessage != nil {
				cm.onMessage(*msg.Message)
			}
		case msg.Notification != nil:
			if cm.onNotification != nil {
				cm.onNotification(*msg.Notification)
			}
		}
	}
}

func (cm *ConnManager) handleResponse(msg *server.ServerMessage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	op, ok := cm.pending[msg.Id]
	if !ok {
		return
	}
	delete(cm.pending, msg.Id)

	rs, ok := cm.rooms[op.roomId]
	if !ok {
		return
	}

	if msg.Response.Error != "" {
		cm.log.Printf("room %s %s rejected: %s", op.roomId, op.op, msg.Response.Error)
		delete(cm.rooms, op.roomId)
		return
	}

	switch op.op {
	case "join":
		if rs.phase == roomJoining {
			rs.phase = roomJoined
		}
	case "leave":
		delete(cm.rooms, op.roomId)
	}
}

func (cm *ConnManager) handleDisconnect(conn *websocket.Conn, err error) {
	conn.Close()

	cm.mu.Lock()
	if cm.conn != conn {
		cm.mu.Unlock()
		return
	}
	cm.conn = nil
	// acks for the dead connection will never arrive
	cm.pending = make(map[int]pendingOp)
	if cm.intentional {
		cm.state = StateIdle
		cm.mu.Unlock()
		return
	}
	cm.state = StateReconnecting
	cm.mu.Unlock()

	cm.log.Println("connection lost:", err)
	if cm.onDisconnected != nil {
		cm.onDisconnected(err)
	}

	go cm.reconnectLoop()
}

func (cm *ConnManager) reconnectLoop() {
	for cm.recon.shouldReconnect() {
		cm.mu.Lock()
		if cm.intentional || cm.state != StateReconnecting {
			cm.mu.Unlock()
			return
		}
		cm.mu.Unlock()

		attempt, delay := cm.recon.nextDelay()
		cm.log.Printf("reconnecting in %s (attempt %d/%d)", delay, attempt, cm.cfg.MaxAttempts)
		if cm.onReconnecting != nil {
			cm.onReconnecting(attempt, delay)
		}
		time.Sleep(delay)

		cm.mu.Lock()
		if cm.intentional {
			cm.mu.Unlock()
			return
		}
		cm.state = StateIdle
		cm.mu.Unlock()

		err := cm.Connect(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, ErrAuthRejected) {
			cm.log.Println("reconnect refused:", err)
			if cm.onDisconnected != nil {
				cm.onDisconnected(err)
			}
			return
		}

		cm.mu.Lock()
		cm.state = StateReconnecting
		cm.mu.Unlock()
	}

	cm.log.Println("reconnect attempts exhausted")
	cm.mu.Lock()
	cm.state = StateIdle
	cm.mu.Unlock()
}
