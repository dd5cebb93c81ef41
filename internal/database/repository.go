package database

type SyncRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateConversation(params CreateConversationParams) (Conversation, error)
	GetConversationByExternalId(externalId string) (Conversation, error)
	ListConversations(accountId int) ([]Conversation, error)
	IsParticipant(accountId, conversationId int) bool
	CreateMessage(params CreateMessageParams) (Message, error)
	UpdateConversationOnMessage(msg Message) error
	ListMessages(conversationId int, before string, limit int) ([]Message, error)
	CreateNotification(params CreateNotificationParams) (Notification, error)
	ListNotifications(recipientId, limit int) ([]Notification, error)
	MarkNotificationRead(recipientId, notificationId int) (Notification, error)
	MarkAllNotificationsRead(recipientId int) (int, error)
	DeleteNotification(recipientId, notificationId int) error
}
