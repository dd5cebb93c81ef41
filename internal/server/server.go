package server

import (
	"context"
	"log"
	"strconv"
	"sync"

	"github.com/chatsync-io/chatsync/internal/database"
	"github.com/chatsync-io/chatsync/internal/stats"
	"github.com/chatsync-io/chatsync/internal/types"
)

type publishRequest struct {
	roomId string
	msg    *ServerMessage
}

type stopReq struct {
	done chan struct{}
}

// SyncServer is the room membership registry and event dispatcher. It
// owns the room table; each room runs its own goroutine, so membership
// mutations are serialized per room and independent across rooms.
type SyncServer struct {
	log            *log.Logger
	db             database.SyncRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	registerChan   chan *Client
	deRegisterChan chan *Client
	publishChan    chan *publishRequest
	unloadRoomChan chan unloadRoomRequest
	rooms          map[string]*Room
	stop           chan stopReq
}

func NewSyncServer(logger *log.Logger, db database.SyncRepository, sp stats.StatsProvider) (*SyncServer, error) {
	cs := &SyncServer{
		log:            logger,
		db:             db,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		publishChan:    make(chan *publishRequest, 512),
		unloadRoomChan: make(chan unloadRoomRequest, 64),
		rooms:          make(map[string]*Room),
		stop:           make(chan stopReq),
	}

	for _, metric := range []string{
		"NumConnectedSessions",
		"NumActiveRooms",
		"EventsPublished",
		"MessagesSent",
	} {
		sp.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *SyncServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.registerChan:
			cs.log.Printf("adding session %q for %q", client.sessionId, client.user.Username)
			cs.addClient(client)
			// every session is attached to its own user room on connect
			cs.handleJoin(&ClientMessage{
				Join:   &Join{RoomId: types.UserRoom(client.user.Id)},
				UserId: client.user.Id,
				client: client,
			})
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing session %q for %q", client.sessionId, client.user.Username)
			cs.removeClient(client)
		case req := <-cs.publishChan:
			room, ok := cs.rooms[req.roomId]
			if !ok {
				// nobody joined; events are scoped to rooms, never broadcast
				continue
			}
			select {
			case room.publishChan <- req.msg:
			default:
				cs.log.Printf("publish channel full on room %q", room.id)
			}
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId)
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				done := make(chan string)
				r.exit <- exitReq{done: done}
				<-done
				cs.stats.Decr("NumActiveRooms")
			}
			clear(cs.rooms)

			if req.done != nil {
				close(req.done)
			}
			return
		}
	}
}

// handleJoin validates room access and routes the join to the room
// actor, loading the room first if needed. Conversation rooms are open
// only to participants; a user room only to its own user.
func (cs *SyncServer) handleJoin(joinMsg *ClientMessage) {
	kind, key, err := types.SplitRoom(joinMsg.Join.RoomId)
	if err != nil {
		joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		return
	}

	switch kind {
	case "user":
		if key != strconv.Itoa(joinMsg.GetUserId()) {
			joinMsg.client.queueMessage(ErrForbidden(joinMsg.Id))
			return
		}
	case "conversation":
		conv, err := cs.db.GetConversationByExternalId(key)
		if err != nil {
			joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
			return
		}
		if !cs.db.IsParticipant(joinMsg.GetUserId(), conv.Id) {
			joinMsg.client.queueMessage(ErrForbidden(joinMsg.Id))
			return
		}
	}

	room, ok := cs.rooms[joinMsg.Join.RoomId]
	if !ok {
		room = newRoom(joinMsg.Join.RoomId, cs, cs.log)
		cs.rooms[room.id] = room
		cs.stats.Incr("NumActiveRooms")
		go room.start()
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		cs.log.Printf("join channel full on room %q", room.id)
		joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
	}
}

// Publish routes an event to every session currently joined to roomId.
// Delivery is best-effort, at-least-once, FIFO within the room.
func (cs *SyncServer) Publish(roomId string, msg *ServerMessage) {
	select {
	case cs.publishChan <- &publishRequest{roomId: roomId, msg: msg}:
	default:
		cs.log.Printf("dispatcher publish queue full, dropping event for room %q", roomId)
	}
}

func (cs *SyncServer) RegisterClient(c *Client) {
	cs.registerChan <- c
}

func (cs *SyncServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr("NumConnectedSessions")
}

func (cs *SyncServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr("NumConnectedSessions")
	}
}

func (cs *SyncServer) unloadRoom(roomId string) {
	r, ok := cs.rooms[roomId]
	if !ok {
		return
	}

	cs.log.Printf("unloading room %q", roomId)
	delete(cs.rooms, roomId)
	cs.stats.Decr("NumActiveRooms")

	done := make(chan string)
	r.exit <- exitReq{done: done}
	<-done
}

func (cs *SyncServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	select {
	case cs.stop <- stopReq{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
