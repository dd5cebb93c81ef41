package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatsync-io/chatsync/internal/testutil"
	"github.com/chatsync-io/chatsync/internal/types"
)

type fakeRooms struct {
	mu     sync.Mutex
	joined []string
	left   []string
}

func (f *fakeRooms) JoinRoom(roomId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomId)
	return nil
}

func (f *fakeRooms) LeaveRoom(roomId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomId)
	return nil
}

func newTestStore(t *testing.T, degraded bool) (*ConversationStore, *MockBackend, *fakeRooms) {
	t.Helper()

	backend := &MockBackend{}
	rooms := &fakeRooms{}
	store := NewConversationStore(backend, rooms, testutil.TestLogger(t), time.Second, degraded)
	return store, backend, rooms
}

func conv(id string, lastMessageAt time.Time) types.Conversation {
	return types.Conversation{Id: id, ParticipantIds: []int{1, 2}, LastMessageAt: lastMessageAt}
}

func TestLoadConversationsSortedByRecency(t *testing.T) {
	store, backend, _ := newTestStore(t, false)
	now := time.Now().UTC()

	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{
		conv("old", now.Add(-time.Hour)),
		conv("new", now),
		conv("mid", now.Add(-time.Minute)),
	}, nil)

	require.NoError(t, store.LoadConversations(context.Background()))

	convs := store.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "new", convs[0].Id)
	assert.Equal(t, "mid", convs[1].Id)
	assert.Equal(t, "old", convs[2].Id)
	assert.False(t, store.Degraded())
}

func TestLoadConversationsFallback(t *testing.T) {
	t.Run("placeholders when enabled", func(t *testing.T) {
		store, backend, _ := newTestStore(t, true)
		backend.On("ListConversations", mock.Anything).Return([]types.Conversation{}, errors.New("connection refused"))

		require.NoError(t, store.LoadConversations(context.Background()))
		assert.True(t, store.Degraded())

		convs := store.Conversations()
		require.NotEmpty(t, convs)
		for _, c := range convs {
			assert.True(t, c.Placeholder)
			assert.Contains(t, c.LastMessagePreview, "Placeholder")
		}
	})

	t.Run("error when disabled", func(t *testing.T) {
		store, backend, _ := newTestStore(t, false)
		backend.On("ListConversations", mock.Anything).Return([]types.Conversation{}, errors.New("connection refused"))

		assert.Error(t, store.LoadConversations(context.Background()))
		assert.Empty(t, store.Conversations())
	})
}

func TestOpenJoinsRoomAndLoadsHistory(t *testing.T) {
	store, backend, rooms := newTestStore(t, false)
	now := time.Now().UTC()

	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{conv("abc", now)}, nil)
	backend.On("ListMessages", mock.Anything, "abc", "", defaultHistoryLimit).Return([]types.Message{
		{Id: "m2", ConversationId: "abc", Content: "second", CreatedAt: now},
		{Id: "m1", ConversationId: "abc", Content: "first", CreatedAt: now.Add(-time.Minute)},
	}, nil)

	require.NoError(t, store.LoadConversations(context.Background()))
	require.NoError(t, store.Open(context.Background(), "abc"))

	rooms.mu.Lock()
	assert.Contains(t, rooms.joined, types.ConversationRoom("abc"))
	rooms.mu.Unlock()

	timeline := store.Timeline("abc")
	require.Len(t, timeline, 2)
	assert.Equal(t, "m1", timeline[0].Id)
	assert.Equal(t, "m2", timeline[1].Id)
	for _, m := range timeline {
		assert.Equal(t, types.DeliveryConfirmed, m.DeliveryState)
	}
}

func TestOpenHistoryFetchFailureIsMarked(t *testing.T) {
	store, backend, rooms := newTestStore(t, false)
	now := time.Now().UTC()

	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{
		conv("broken", now), conv("empty", now),
	}, nil)
	backend.On("ListMessages", mock.Anything, "broken", "", defaultHistoryLimit).Return(
		[]types.Message{}, errors.New("timeout"),
	).Once()
	backend.On("ListMessages", mock.Anything, "empty", "", defaultHistoryLimit).Return([]types.Message{}, nil)

	require.NoError(t, store.LoadConversations(context.Background()))

	// the view stays open and the room joined, but the failure is
	// surfaced so an empty timeline is not mistaken for an empty thread
	err := store.Open(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.True(t, store.HistoryFailed("broken"))
	assert.Empty(t, store.Timeline("broken"))
	rooms.mu.Lock()
	assert.Contains(t, rooms.joined, types.ConversationRoom("broken"))
	rooms.mu.Unlock()

	require.NoError(t, store.Open(context.Background(), "empty"))
	assert.False(t, store.HistoryFailed("empty"))

	t.Run("successful resync clears the mark", func(t *testing.T) {
		backend.On("ListMessages", mock.Anything, "broken", "", defaultHistoryLimit).Return([]types.Message{}, nil)

		store.Resync(context.Background())
		assert.False(t, store.HistoryFailed("broken"))
	})
}

func TestLoadOlderMessagesPagesBackward(t *testing.T) {
	store, backend, _ := newTestStore(t, false)
	now := time.Now().UTC()

	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{conv("abc", now)}, nil)
	backend.On("ListMessages", mock.Anything, "abc", "", defaultHistoryLimit).Return([]types.Message{
		{Id: "m2", ConversationId: "abc", Content: "recent", CreatedAt: now},
	}, nil)

	require.NoError(t, store.LoadConversations(context.Background()))
	require.NoError(t, store.Open(context.Background(), "abc"))

	// the oldest held message anchors the next page
	backend.On("ListMessages", mock.Anything, "abc", "m2", defaultHistoryLimit).Return([]types.Message{
		{Id: "m1", ConversationId: "abc", Content: "older", CreatedAt: now.Add(-time.Hour)},
	}, nil).Once()

	n, err := store.LoadOlderMessages(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	timeline := store.Timeline("abc")
	require.Len(t, timeline, 2)
	assert.Equal(t, "m1", timeline[0].Id)
	assert.Equal(t, "m2", timeline[1].Id)

	t.Run("empty page means history is exhausted", func(t *testing.T) {
		backend.On("ListMessages", mock.Anything, "abc", "m1", defaultHistoryLimit).Return([]types.Message{}, nil).Once()

		n, err := store.LoadOlderMessages(context.Background(), "abc")
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, store.Timeline("abc"), 2)
	})
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	store, backend, _ := newTestStore(t, false)
	now := time.Now().UTC()

	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{conv("abc", now.Add(-time.Hour))}, nil)
	backend.On("SendMessage", mock.Anything, "abc", mock.AnythingOfType("string"), "hello").Return(
		types.Message{Id: "m1", ConversationId: "abc", SenderId: 1, Content: "hello", CreatedAt: now},
		nil,
	)

	require.NoError(t, store.LoadConversations(context.Background()))

	msg, err := store.Send("abc", 1, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.TempId)
	assert.Empty(t, msg.Id)
	assert.Equal(t, types.DeliveryOptimistic, msg.DeliveryState)

	// visible immediately, before the server replies
	timeline := store.Timeline("abc")
	require.Len(t, timeline, 1)
	assert.Equal(t, types.DeliveryOptimistic, timeline[0].DeliveryState)

	store.Wait()

	// replaced in place, not appended
	timeline = store.Timeline("abc")
	require.Len(t, timeline, 1)
	assert.Equal(t, "m1", timeline[0].Id)
	assert.Equal(t, msg.TempId, timeline[0].TempId)
	assert.Equal(t, types.DeliveryConfirmed, timeline[0].DeliveryState)

	convs := store.Conversations()
	assert.Equal(t, "hello", convs[0].LastMessagePreview)
}

func TestSendFailureRetryAndDiscard(t *testing.T) {
	store, backend, _ := newTestStore(t, false)
	now := time.Now().UTC()

	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{conv("abc", now)}, nil)
	backend.On("SendMessage", mock.Anything, "abc", mock.AnythingOfType("string"), "hello").Return(
		types.Message{}, errors.New("gateway timeout"),
	).Once()

	require.NoError(t, store.LoadConversations(context.Background()))

	msg, err := store.Send("abc", 1, "hello")
	require.NoError(t, err)
	store.Wait()

	timeline := store.Timeline("abc")
	require.Len(t, timeline, 1)
	assert.Equal(t, types.DeliveryFailed, timeline[0].DeliveryState)

	t.Run("retry succeeds under the same temp id", func(t *testing.T) {
		backend.On("SendMessage", mock.Anything, "abc", msg.TempId, "hello").Return(
			types.Message{Id: "m1", ConversationId: "abc", SenderId: 1, Content: "hello", CreatedAt: now},
			nil,
		).Once()

		require.NoError(t, store.RetrySend("abc", msg.TempId))
		store.Wait()

		timeline := store.Timeline("abc")
		require.Len(t, timeline, 1)
		assert.Equal(t, "m1", timeline[0].Id)
		assert.Equal(t, types.DeliveryConfirmed, timeline[0].DeliveryState)
	})

	t.Run("discard removes a failed entry", func(t *testing.T) {
		backend.On("SendMessage", mock.Anything, "abc", mock.AnythingOfType("string"), "doomed").Return(
			types.Message{}, errors.New("gateway timeout"),
		).Once()

		doomed, err := store.Send("abc", 1, "doomed")
		require.NoError(t, err)
		store.Wait()

		store.DiscardFailed("abc", doomed.TempId)
		for _, m := range store.Timeline("abc") {
			assert.NotEqual(t, doomed.TempId, m.TempId)
		}
	})
}

func TestApplyPushDeduplicatesById(t *testing.T) {
	store, _, _ := newTestStore(t, false)
	now := time.Now().UTC()

	msg := types.Message{Id: "m1", ConversationId: "abc", SenderId: 2, Content: "hello", CreatedAt: now}
	store.ApplyPush(msg)
	store.ApplyPush(msg)

	assert.Len(t, store.Timeline("abc"), 1)
}

func TestApplyPushConfirmsOwnPendingSend(t *testing.T) {
	store, backend, _ := newTestStore(t, false)
	now := time.Now().UTC()

	release := make(chan struct{})
	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{conv("abc", now)}, nil)
	backend.On("SendMessage", mock.Anything, "abc", mock.AnythingOfType("string"), "hello").Run(func(mock.Arguments) {
		<-release
	}).Return(
		types.Message{Id: "m1", ConversationId: "abc", SenderId: 1, Content: "hello", CreatedAt: now},
		nil,
	)

	require.NoError(t, store.LoadConversations(context.Background()))

	msg, err := store.Send("abc", 1, "hello")
	require.NoError(t, err)

	// the room echo can arrive before the send response does
	store.ApplyPush(types.Message{
		Id: "m1", TempId: msg.TempId, ConversationId: "abc", SenderId: 1, Content: "hello", CreatedAt: now,
	})

	timeline := store.Timeline("abc")
	require.Len(t, timeline, 1)
	assert.Equal(t, "m1", timeline[0].Id)
	assert.Equal(t, types.DeliveryConfirmed, timeline[0].DeliveryState)

	// the late send response must not re-add the message
	close(release)
	store.Wait()
	assert.Len(t, store.Timeline("abc"), 1)
}

func TestApplyPushUnknownConversation(t *testing.T) {
	store, _, _ := newTestStore(t, false)
	now := time.Now().UTC()

	store.ApplyPush(types.Message{Id: "m1", ConversationId: "fresh", SenderId: 2, Content: "hi", CreatedAt: now})

	convs := store.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "fresh", convs[0].Id)
	assert.Len(t, store.Timeline("fresh"), 1)

	// the first message sets the new entry's recency and preview
	assert.True(t, convs[0].LastMessageAt.Equal(now))
	assert.Equal(t, "hi", convs[0].LastMessagePreview)
}

func TestTimelineTieBreakOnEqualTimestamps(t *testing.T) {
	store, _, _ := newTestStore(t, false)
	now := time.Now().UTC()

	store.ApplyPush(types.Message{Id: "b", ConversationId: "abc", CreatedAt: now})
	store.ApplyPush(types.Message{Id: "a", ConversationId: "abc", CreatedAt: now})

	timeline := store.Timeline("abc")
	require.Len(t, timeline, 2)
	assert.Equal(t, "a", timeline[0].Id)
	assert.Equal(t, "b", timeline[1].Id)
}

func TestResyncMergesWithoutDuplicates(t *testing.T) {
	store, backend, _ := newTestStore(t, false)
	now := time.Now().UTC()

	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{conv("abc", now)}, nil)
	backend.On("ListMessages", mock.Anything, "abc", "", defaultHistoryLimit).Return([]types.Message{
		{Id: "m1", ConversationId: "abc", Content: "first", CreatedAt: now.Add(-2 * time.Minute)},
	}, nil).Once()

	require.NoError(t, store.LoadConversations(context.Background()))
	require.NoError(t, store.Open(context.Background(), "abc"))
	require.Len(t, store.Timeline("abc"), 1)

	// a gap: m2 was published while this session was disconnected
	backend.On("ListMessages", mock.Anything, "abc", "", defaultHistoryLimit).Return([]types.Message{
		{Id: "m1", ConversationId: "abc", Content: "first", CreatedAt: now.Add(-2 * time.Minute)},
		{Id: "m2", ConversationId: "abc", Content: "missed", CreatedAt: now.Add(-time.Minute)},
	}, nil).Once()

	store.Resync(context.Background())

	timeline := store.Timeline("abc")
	require.Len(t, timeline, 2)
	assert.Equal(t, "m1", timeline[0].Id)
	assert.Equal(t, "m2", timeline[1].Id)
}

func TestDegradedSendConfirmsLocally(t *testing.T) {
	store, backend, rooms := newTestStore(t, true)
	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{}, errors.New("connection refused"))

	require.NoError(t, store.LoadConversations(context.Background()))
	require.True(t, store.Degraded())

	convs := store.Conversations()
	require.NotEmpty(t, convs)
	id := convs[0].Id

	require.NoError(t, store.Open(context.Background(), id))
	rooms.mu.Lock()
	assert.Empty(t, rooms.joined, "placeholder conversations never join rooms")
	rooms.mu.Unlock()

	before := len(store.Timeline(id))
	msg, err := store.Send(id, 1, "offline message")
	require.NoError(t, err)

	assert.Equal(t, types.DeliveryConfirmed, msg.DeliveryState)
	assert.Contains(t, msg.Id, "local-")
	assert.Len(t, store.Timeline(id), before+1)
	backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = store.CreateConversation(context.Background(), []int{2})
	assert.ErrorIs(t, err, ErrDegraded)
}

func TestCloseLeavesRoomButSendsComplete(t *testing.T) {
	store, backend, rooms := newTestStore(t, false)
	now := time.Now().UTC()

	release := make(chan struct{})
	backend.On("ListConversations", mock.Anything).Return([]types.Conversation{conv("abc", now)}, nil)
	backend.On("ListMessages", mock.Anything, "abc", "", defaultHistoryLimit).Return([]types.Message{}, nil)
	backend.On("SendMessage", mock.Anything, "abc", mock.AnythingOfType("string"), "hello").Run(func(mock.Arguments) {
		<-release
	}).Return(
		types.Message{Id: "m1", ConversationId: "abc", SenderId: 1, Content: "hello", CreatedAt: now},
		nil,
	)

	require.NoError(t, store.LoadConversations(context.Background()))
	require.NoError(t, store.Open(context.Background(), "abc"))

	_, err := store.Send("abc", 1, "hello")
	require.NoError(t, err)

	// closing the view does not cancel the in-flight send
	store.Close("abc")
	rooms.mu.Lock()
	assert.Contains(t, rooms.left, types.ConversationRoom("abc"))
	rooms.mu.Unlock()

	close(release)
	store.Wait()

	timeline := store.Timeline("abc")
	require.Len(t, timeline, 1)
	assert.Equal(t, types.DeliveryConfirmed, timeline[0].DeliveryState)
}
