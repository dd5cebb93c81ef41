package database

import (
	"github.com/stretchr/testify/mock"
)

type MockSyncRepository struct {
	mock.Mock
}

func (m *MockSyncRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockSyncRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSyncRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSyncRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSyncRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockSyncRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	args := m.Called(externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockSyncRepository) ListConversations(accountId int) ([]Conversation, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockSyncRepository) IsParticipant(accountId, conversationId int) bool {
	args := m.Called(accountId, conversationId)
	return args.Bool(0)
}
func (m *MockSyncRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockSyncRepository) UpdateConversationOnMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockSyncRepository) ListMessages(conversationId int, before string, limit int) ([]Message, error) {
	args := m.Called(conversationId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockSyncRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	args := m.Called(params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockSyncRepository) ListNotifications(recipientId, limit int) ([]Notification, error) {
	args := m.Called(recipientId, limit)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockSyncRepository) MarkNotificationRead(recipientId, notificationId int) (Notification, error) {
	args := m.Called(recipientId, notificationId)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockSyncRepository) MarkAllNotificationsRead(recipientId int) (int, error) {
	args := m.Called(recipientId)
	return args.Int(0), args.Error(1)
}
func (m *MockSyncRepository) DeleteNotification(recipientId, notificationId int) error {
	args := m.Called(recipientId, notificationId)
	return args.Error(0)
}
