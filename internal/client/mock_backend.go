package client

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/chatsync-io/chatsync/internal/types"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Conversation), args.Error(1)
}
func (m *MockBackend) CreateConversation(ctx context.Context, participantIds []int) (types.Conversation, error) {
	args := m.Called(ctx, participantIds)
	return args.Get(0).(types.Conversation), args.Error(1)
}
func (m *MockBackend) ListMessages(ctx context.Context, conversationId, before string, limit int) ([]types.Message, error) {
	args := m.Called(ctx, conversationId, before, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockBackend) SendMessage(ctx context.Context, conversationId, tempId, content string) (types.Message, error) {
	args := m.Called(ctx, conversationId, tempId, content)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockBackend) ListNotifications(ctx context.Context, limit int) ([]types.Notification, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]types.Notification), args.Error(1)
}
func (m *MockBackend) MarkNotificationRead(ctx context.Context, notificationId int) (types.Notification, error) {
	args := m.Called(ctx, notificationId)
	return args.Get(0).(types.Notification), args.Error(1)
}
func (m *MockBackend) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
func (m *MockBackend) DeleteNotification(ctx context.Context, notificationId int) error {
	args := m.Called(ctx, notificationId)
	return args.Error(0)
}
