package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id                 int
	ExternalId         string
	ParticipantIds     []int
	LastMessageAt      time.Time
	LastMessagePreview string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Message struct {
	Id             int
	ExternalId     string
	ConversationId int
	SenderId       int
	Content        string
	CreatedAt      time.Time
}

type Notification struct {
	Id          int
	RecipientId int
	Type        string
	Message     string
	IsRead      bool
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateConversationParams struct {
	ExternalId     string
	ParticipantIds []int
}

type CreateMessageParams struct {
	ExternalId     string
	ConversationId int
	SenderId       int
	Content        string
	CreatedAt      time.Time
}

type CreateNotificationParams struct {
	RecipientId int
	Type        string
	Message     string
}
