package server

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync-io/chatsync/internal/testutil"
	"github.com/chatsync-io/chatsync/internal/types"
)

func typesMessage(id string) types.Message {
	return types.Message{Id: id, ConversationId: "abc", Content: "content " + id}
}

func startTestRoom(t *testing.T, id string) (*Room, *SyncServer) {
	t.Helper()

	cs, _ := newTestServer(t)
	r := newRoom(id, cs, testutil.TestLogger(t))
	go r.start()
	t.Cleanup(func() {
		done := make(chan string)
		r.exit <- exitReq{done: done}
		<-done
	})

	return r, cs
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	r, cs := startTestRoom(t, "conversation:abc")
	c := newTestClient(t, cs, 1)

	join := &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: r.id},
		UserId:      1,
		client:      c,
	}

	r.joinChan <- join
	ack := recvMessage(t, c)
	require.NotNil(t, ack.Response)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	assert.Equal(t, r.id, ack.Response.Data["room_id"])
	assert.True(t, r.hasClient(c))

	// a second join re-acks without attaching twice
	r.joinChan <- join
	ack = recvMessage(t, c)
	require.NotNil(t, ack.Response)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)

	r.clientLock.RLock()
	assert.Len(t, r.clients, 1)
	r.clientLock.RUnlock()
}

func TestRoomLeaveIsIdempotent(t *testing.T) {
	r, cs := startTestRoom(t, "conversation:abc")
	c := newTestClient(t, cs, 1)

	r.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: r.id}, UserId: 1, client: c}
	recvMessage(t, c)

	leave := &ClientMessage{BaseMessage: BaseMessage{Id: 2}, Leave: &Leave{RoomId: r.id}, UserId: 1, client: c}
	r.leaveChan <- leave
	ack := recvMessage(t, c)
	require.NotNil(t, ack.Response)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	assert.False(t, r.hasClient(c))
	assert.Nil(t, c.getRoom(r.id))

	// leaving again is a no-op, still acked
	r.leaveChan <- leave
	ack = recvMessage(t, c)
	require.NotNil(t, ack.Response)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
}

func TestRoomBroadcastPreservesOrder(t *testing.T) {
	r, cs := startTestRoom(t, "conversation:abc")

	a := newTestClient(t, cs, 1)
	b := newTestClient(t, cs, 2)
	for _, c := range []*Client{a, b} {
		r.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: r.id}, UserId: c.user.Id, client: c}
		recvMessage(t, c)
	}

	for i := 0; i < 5; i++ {
		r.publishChan <- NewMessageEvent(typesMessage(fmt.Sprintf("m%d", i)))
	}

	for _, c := range []*Client{a, b} {
		for i := 0; i < 5; i++ {
			ev := recvMessage(t, c)
			require.NotNil(t, ev.Message)
			assert.Equal(t, fmt.Sprintf("m%d", i), ev.Message.Id)
		}
	}
}

func TestRoomExitDetachesClients(t *testing.T) {
	cs, _ := newTestServer(t)
	r := newRoom("conversation:abc", cs, testutil.TestLogger(t))
	go r.start()

	c := newTestClient(t, cs, 1)
	r.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: r.id}, UserId: 1, client: c}
	recvMessage(t, c)

	done := make(chan string)
	r.exit <- exitReq{done: done}

	select {
	case id := <-done:
		assert.Equal(t, r.id, id)
	case <-time.After(2 * time.Second):
		t.Fatal("room did not exit")
	}

	assert.Nil(t, c.getRoom(r.id))
	assert.False(t, r.hasClient(c))
}

func TestRoomDropsEventWhenClientQueueFull(t *testing.T) {
	r, cs := startTestRoom(t, "conversation:abc")

	c := newTestClient(t, cs, 1)
	c.send = make(chan *ServerMessage, 1)

	r.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: r.id}, UserId: 1, client: c}
	recvMessage(t, c)

	// queue capacity is one; the second event has nowhere to go
	r.publishChan <- NewMessageEvent(typesMessage("m0"))
	r.publishChan <- NewMessageEvent(typesMessage("m1"))

	// let the room drain its publish queue while the client queue is full
	time.Sleep(200 * time.Millisecond)

	ev := recvMessage(t, c)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "m0", ev.Message.Id)

	select {
	case msg := <-c.send:
		t.Fatalf("expected dropped event, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
