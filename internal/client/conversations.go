package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync-io/chatsync/internal/types"
)

// roomJoiner is the slice of ConnManager the store needs.
type roomJoiner interface {
	JoinRoom(roomId string) error
	LeaveRoom(roomId string) error
}

// ErrDegraded is returned for operations that need a reachable backend
// while the store is serving placeholder data.
var ErrDegraded = errors.New("backend unavailable, serving placeholder data")

// ErrHistoryUnavailable reports a failed history fetch. The
// conversation stays usable for live events, but its timeline may be
// incomplete until a later fetch succeeds; HistoryFailed exposes the
// same condition so an empty timeline is distinguishable from an
// unfetched one.
var ErrHistoryUnavailable = errors.New("history unavailable")

const defaultHistoryLimit = 50

// ConversationStore holds the client-side view of every conversation:
// the ordered conversation list, per-conversation timelines, and the
// optimistic entries awaiting confirmation. Pushed events and REST
// responses both funnel through it so the view converges on the
// server state.
type ConversationStore struct {
	log      *log.Logger
	backend  Backend
	rooms    roomJoiner
	timeout  time.Duration
	fallback bool

	mu            sync.Mutex
	conversations map[string]*conversationState
	degraded      bool
	wg            sync.WaitGroup
}

type conversationState struct {
	conv          types.Conversation
	messages      []types.Message
	open          bool
	historyFailed bool
	pending       map[string]struct{}
}

func NewConversationStore(backend Backend, rooms roomJoiner, logger *log.Logger, fetchTimeout time.Duration, degradedFallback bool) *ConversationStore {
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	return &ConversationStore{
		log:           logger,
		backend:       backend,
		rooms:         rooms,
		timeout:       fetchTimeout,
		fallback:      degradedFallback,
		conversations: make(map[string]*conversationState),
	}
}

// LoadConversations pulls the conversation list. When the backend is
// unreachable and the placeholder fallback is enabled, the store
// installs a labelled placeholder dataset instead of failing.
func (s *ConversationStore) LoadConversations(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		if s.fallback {
			s.log.Println("conversation list unavailable, serving placeholder data:", err)
			s.installPlaceholders()
			return nil
		}
		return fmt.Errorf("list conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
	for _, conv := range convs {
		cs, ok := s.conversations[conv.Id]
		if !ok {
			s.conversations[conv.Id] = &conversationState{
				conv:    conv,
				pending: make(map[string]struct{}),
			}
			continue
		}
		cs.conv = conv
	}

	return nil
}

// Degraded reports whether the store is serving placeholder data.
func (s *ConversationStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Conversations returns the list sorted by most recent activity first.
func (s *ConversationStore) Conversations() []types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make([]types.Conversation, 0, len(s.conversations))
	for _, cs := range s.conversations {
		convs = append(convs, cs.conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastMessageAt.Equal(convs[j].LastMessageAt) {
			return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
		}
		return convs[i].Id < convs[j].Id
	})

	return convs
}

// CreateConversation creates a conversation on the server and adds it
// to the local list.
func (s *ConversationStore) CreateConversation(ctx context.Context, participantIds []int) (types.Conversation, error) {
	s.mu.Lock()
	degraded := s.degraded
	s.mu.Unlock()
	if degraded {
		return types.Conversation{}, ErrDegraded
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conv, err := s.backend.CreateConversation(ctx, participantIds)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	s.mu.Lock()
	s.conversations[conv.Id] = &conversationState{
		conv:    conv,
		pending: make(map[string]struct{}),
	}
	s.mu.Unlock()

	return conv, nil
}

// Open joins the conversation room and fetches its history. A failed
// history fetch does not block the view: the conversation stays open
// and live events still arrive through the joined room, but the
// failure is reported as ErrHistoryUnavailable and the conversation is
// marked until a fetch succeeds.
func (s *ConversationStore) Open(ctx context.Context, conversationId string) error {
	s.mu.Lock()
	cs, ok := s.conversations[conversationId]
	if !ok {
		cs = &conversationState{
			conv:    types.Conversation{Id: conversationId},
			pending: make(map[string]struct{}),
		}
		s.conversations[conversationId] = cs
	}
	cs.open = true
	placeholder := cs.conv.Placeholder
	s.mu.Unlock()

	if placeholder {
		return nil
	}

	if err := s.rooms.JoinRoom(types.ConversationRoom(conversationId)); err != nil {
		s.log.Printf("join room for conversation %s: %s", conversationId, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	history, err := s.backend.ListMessages(ctx, conversationId, "", defaultHistoryLimit)
	if err != nil {
		s.log.Printf("history fetch for conversation %s: %s", conversationId, err)
		s.mu.Lock()
		cs.historyFailed = true
		s.mu.Unlock()
		return fmt.Errorf("%w for conversation %s: %s", ErrHistoryUnavailable, conversationId, err)
	}

	s.mu.Lock()
	cs.historyFailed = false
	s.mergeHistoryLocked(cs, history)
	s.mu.Unlock()

	return nil
}

// HistoryFailed reports whether the conversation's last history fetch
// failed, leaving the timeline possibly incomplete.
func (s *ConversationStore) HistoryFailed(conversationId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationId]
	return ok && cs.historyFailed
}

// LoadOlderMessages fetches the page of history before the oldest
// server-confirmed message in the timeline and merges it in. It
// reports how many messages the backend returned; zero means the
// history is exhausted.
func (s *ConversationStore) LoadOlderMessages(ctx context.Context, conversationId string) (int, error) {
	s.mu.Lock()
	cs, ok := s.conversations[conversationId]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("unknown conversation %q", conversationId)
	}
	if cs.conv.Placeholder {
		s.mu.Unlock()
		return 0, nil
	}
	var before string
	for _, msg := range cs.messages {
		// optimistic entries have no server id and cannot anchor a page
		if msg.Id != "" {
			before = msg.Id
			break
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	history, err := s.backend.ListMessages(ctx, conversationId, before, defaultHistoryLimit)
	if err != nil {
		return 0, fmt.Errorf("load older messages for %s: %w", conversationId, err)
	}

	s.mu.Lock()
	s.mergeHistoryLocked(cs, history)
	s.mu.Unlock()

	return len(history), nil
}

// Close leaves the conversation room. In-flight sends keep running to
// completion; the timeline is kept so reopening is cheap.
func (s *ConversationStore) Close(conversationId string) {
	s.mu.Lock()
	cs, ok := s.conversations[conversationId]
	if ok {
		cs.open = false
	}
	placeholder := ok && cs.conv.Placeholder
	s.mu.Unlock()

	if !ok || placeholder {
		return
	}

	if err := s.rooms.LeaveRoom(types.ConversationRoom(conversationId)); err != nil {
		s.log.Printf("leave room for conversation %s: %s", conversationId, err)
	}
}

// Timeline returns a copy of the conversation's messages ordered by
// (createdAt, id) ascending.
func (s *ConversationStore) Timeline(conversationId string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationId]
	if !ok {
		return nil
	}

	out := make([]types.Message, len(cs.messages))
	copy(out, cs.messages)
	return out
}

// Send appends an optimistic message to the timeline and dispatches it
// to the backend in the background. The returned message carries the
// temp id and optimistic delivery state; the entry is replaced in
// place once the server confirms, or marked failed if the request
// errors. The request is not tied to the caller's view: closing the
// conversation does not cancel it.
func (s *ConversationStore) Send(conversationId string, senderId int, content string) (types.Message, error) {
	if content == "" {
		return types.Message{}, fmt.Errorf("content is required")
	}

	s.mu.Lock()
	cs, ok := s.conversations[conversationId]
	if !ok {
		s.mu.Unlock()
		return types.Message{}, fmt.Errorf("unknown conversation %q", conversationId)
	}

	msg := types.Message{
		TempId:         uuid.NewString(),
		ConversationId: conversationId,
		SenderId:       senderId,
		Content:        content,
		CreatedAt:      time.Now().UTC().Round(time.Millisecond),
		DeliveryState:  types.DeliveryOptimistic,
	}

	// recency advances on confirmation, never for a send that may fail
	cs.pending[msg.TempId] = struct{}{}
	s.insertSortedLocked(cs, msg)

	if cs.conv.Placeholder {
		// degraded mode: no backend behind this conversation, confirm locally
		confirmed := msg
		confirmed.Id = "local-" + msg.TempId
		confirmed.DeliveryState = types.DeliveryConfirmed
		s.confirmLocked(cs, msg.TempId, confirmed)
		s.mu.Unlock()
		return confirmed, nil
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		confirmed, err := s.backend.SendMessage(ctx, conversationId, msg.TempId, content)
		s.mu.Lock()
		defer s.mu.Unlock()

		if err != nil {
			s.log.Printf("send message %s: %s", msg.TempId, err)
			s.failLocked(cs, msg.TempId)
			return
		}
		s.confirmLocked(cs, msg.TempId, confirmed)
	}()

	return msg, nil
}

// RetrySend re-dispatches a failed message under the same temp id.
func (s *ConversationStore) RetrySend(conversationId, tempId string) error {
	s.mu.Lock()
	cs, ok := s.conversations[conversationId]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown conversation %q", conversationId)
	}

	idx := indexByTempId(cs.messages, tempId)
	if idx < 0 || cs.messages[idx].DeliveryState != types.DeliveryFailed {
		s.mu.Unlock()
		return fmt.Errorf("no failed message with temp id %q", tempId)
	}

	cs.messages[idx].DeliveryState = types.DeliveryOptimistic
	cs.pending[tempId] = struct{}{}
	content := cs.messages[idx].Content
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		confirmed, err := s.backend.SendMessage(ctx, conversationId, tempId, content)
		s.mu.Lock()
		defer s.mu.Unlock()

		if err != nil {
			s.log.Printf("retry send %s: %s", tempId, err)
			s.failLocked(cs, tempId)
			return
		}
		s.confirmLocked(cs, tempId, confirmed)
	}()

	return nil
}

// DiscardFailed drops a failed message from the timeline.
func (s *ConversationStore) DiscardFailed(conversationId, tempId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[conversationId]
	if !ok {
		return
	}

	idx := indexByTempId(cs.messages, tempId)
	if idx < 0 || cs.messages[idx].DeliveryState != types.DeliveryFailed {
		return
	}
	cs.messages = append(cs.messages[:idx], cs.messages[idx+1:]...)
}

// ApplyPush folds a pushed message event into the store. Confirmed
// copies of this session's own optimistic sends are matched by temp
// id; duplicate deliveries are dropped by server id.
func (s *ConversationStore) ApplyPush(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.conversations[msg.ConversationId]
	if !ok {
		// recency stays zero here so touchConversationLocked picks up
		// the first message's timestamp and preview below
		cs = &conversationState{
			conv:    types.Conversation{Id: msg.ConversationId},
			pending: make(map[string]struct{}),
		}
		s.conversations[msg.ConversationId] = cs
	}

	if msg.TempId != "" {
		if _, pending := cs.pending[msg.TempId]; pending {
			s.confirmLocked(cs, msg.TempId, msg)
			return
		}
	}

	if indexById(cs.messages, msg.Id) >= 0 {
		return
	}

	msg.DeliveryState = types.DeliveryConfirmed
	s.insertSortedLocked(cs, msg)
	s.touchConversationLocked(cs, msg)
}

// Resync re-fetches history for every open conversation. Called after
// a reconnect, when pushed events may have been missed.
func (s *ConversationStore) Resync(ctx context.Context) {
	s.mu.Lock()
	var openIds []string
	for id, cs := range s.conversations {
		if cs.open && !cs.conv.Placeholder {
			openIds = append(openIds, id)
		}
	}
	s.mu.Unlock()

	for _, id := range openIds {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		history, err := s.backend.ListMessages(ctx, id, "", defaultHistoryLimit)
		cancel()

		s.mu.Lock()
		if cs, ok := s.conversations[id]; ok {
			if err != nil {
				cs.historyFailed = true
			} else {
				cs.historyFailed = false
				s.mergeHistoryLocked(cs, history)
			}
		}
		s.mu.Unlock()

		if err != nil {
			s.log.Printf("resync conversation %s: %s", id, err)
		}
	}
}

// Wait blocks until all background sends have completed. Used by
// tests and graceful shutdown.
func (s *ConversationStore) Wait() {
	s.wg.Wait()
}

func (s *ConversationStore) installPlaceholders() {
	convs, messages := placeholderDataset()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.degraded = true
	for _, conv := range convs {
		if _, ok := s.conversations[conv.Id]; ok {
			continue
		}
		cs := &conversationState{
			conv:    conv,
			pending: make(map[string]struct{}),
		}
		cs.messages = append(cs.messages, messages[conv.Id]...)
		s.conversations[conv.Id] = cs
	}
}

// mergeHistoryLocked folds a fetched history page into the timeline,
// keeping optimistic and failed local entries. Caller holds mu.
func (s *ConversationStore) mergeHistoryLocked(cs *conversationState, history []types.Message) {
	for _, msg := range history {
		if indexById(cs.messages, msg.Id) >= 0 {
			continue
		}
		msg.DeliveryState = types.DeliveryConfirmed
		s.insertSortedLocked(cs, msg)
	}
}

// confirmLocked replaces the optimistic entry for tempId with the
// server's confirmed copy in place. If the confirmed id already
// arrived through a push or a resync, the optimistic entry is dropped
// instead so the id stays unique. Caller holds mu.
func (s *ConversationStore) confirmLocked(cs *conversationState, tempId string, confirmed types.Message) {
	delete(cs.pending, tempId)

	idx := indexByTempId(cs.messages, tempId)
	if idx < 0 {
		return
	}

	if confirmed.Id != "" && indexById(cs.messages, confirmed.Id) >= 0 {
		cs.messages = append(cs.messages[:idx], cs.messages[idx+1:]...)
		return
	}

	confirmed.TempId = tempId
	confirmed.DeliveryState = types.DeliveryConfirmed
	cs.messages[idx] = confirmed
	sort.SliceStable(cs.messages, func(i, j int) bool {
		return cs.messages[i].Before(cs.messages[j])
	})

	s.touchConversationLocked(cs, confirmed)
}

// failLocked marks the entry failed but keeps it visible so the user
// can retry or discard it. Failed entries never advance the
// conversation's recency. Caller holds mu.
func (s *ConversationStore) failLocked(cs *conversationState, tempId string) {
	delete(cs.pending, tempId)

	idx := indexByTempId(cs.messages, tempId)
	if idx < 0 {
		return
	}
	cs.messages[idx].DeliveryState = types.DeliveryFailed
}

func (s *ConversationStore) insertSortedLocked(cs *conversationState, msg types.Message) {
	i := sort.Search(len(cs.messages), func(i int) bool {
		return msg.Before(cs.messages[i])
	})
	cs.messages = append(cs.messages, types.Message{})
	copy(cs.messages[i+1:], cs.messages[i:])
	cs.messages[i] = msg
}

func (s *ConversationStore) touchConversationLocked(cs *conversationState, msg types.Message) {
	if msg.DeliveryState == types.DeliveryFailed {
		return
	}
	if msg.CreatedAt.After(cs.conv.LastMessageAt) {
		cs.conv.LastMessageAt = msg.CreatedAt
		cs.conv.LastMessagePreview = msg.Content
	}
}

func indexById(messages []types.Message, id string) int {
	if id == "" {
		return -1
	}
	for i := range messages {
		if messages[i].Id == id {
			return i
		}
	}
	return -1
}

func indexByTempId(messages []types.Message, tempId string) int {
	for i := range messages {
		if messages[i].TempId == tempId {
			return i
		}
	}
	return -1
}
