package server

import (
	"log"
	"sync"
	"time"
)

// idleRoomTimeout is how long a room with no attached sessions stays
// loaded before the hub unloads it.
const idleRoomTimeout = time.Minute

type exitReq struct {
	done chan string
}

type unloadRoomRequest struct {
	roomId string
}

// Room is a logical broadcast scope. All membership mutation and
// publishing for one room runs on the room's own goroutine, so join,
// leave and publish are serialized per room while distinct rooms
// proceed concurrently.
type Room struct {
	id          string
	srv         *SyncServer
	joinChan    chan *ClientMessage
	leaveChan   chan *ClientMessage
	publishChan chan *ServerMessage
	clients     map[*Client]struct{}
	clientLock  sync.RWMutex
	log         *log.Logger
	// killTimer unloads the room once no sessions remain attached.
	killTimer *time.Timer
	exit      chan exitReq
}

func newRoom(id string, srv *SyncServer, logger *log.Logger) *Room {
	return &Room{
		id:          id,
		srv:         srv,
		joinChan:    make(chan *ClientMessage, 256),
		leaveChan:   make(chan *ClientMessage, 256),
		publishChan: make(chan *ServerMessage, 256),
		clients:     make(map[*Client]struct{}),
		log:         logger,
		exit:        make(chan exitReq),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.publishChan:
			r.broadcast(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	if r.hasClient(c) {
		// join is idempotent; re-ack and carry on
		c.queueMessage(NoErrOK(join.Id, map[string]any{"room_id": r.id}))
		return
	}

	r.addClient(c)
	c.queueMessage(NoErrOK(join.Id, map[string]any{"room_id": r.id}))
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	c := leaveMsg.client
	// leave is idempotent: removing an absent client is a no-op
	r.removeClient(c)

	if leaveMsg.Id != 0 {
		c.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q idle, requesting unload", r.id)
	select {
	case r.srv.unloadRoomChan <- unloadRoomRequest{roomId: r.id}:
	default:
		// hub busy; retry on the next timer cycle
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.id)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	clear(r.clients)
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.id
	}
}

// broadcast delivers an event to every attached session, best-effort.
// Delivery is FIFO relative to publish calls against this room.
func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if !client.queueMessage(msg) {
			r.log.Printf("dropped event for session %q in room %q", client.sessionId, r.id)
		}
	}
	r.srv.stats.Incr("EventsPublished")
}

func (r *Room) hasClient(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
	r.log.Printf("attached session %q to room %q", c.sessionId, r.id)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.id)
	r.log.Printf("detached session %q from room %q", c.sessionId, r.id)

	if len(r.clients) == 0 {
		r.log.Printf("no sessions in %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}
