package types

import (
	"fmt"
	"strings"
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// DeliveryState tracks a message's progress from locally rendered to
// server confirmed.
type DeliveryState string

const (
	DeliveryOptimistic DeliveryState = "optimistic"
	DeliveryConfirmed  DeliveryState = "confirmed"
	DeliveryFailed     DeliveryState = "failed"
)

type Message struct {
	Id             string        `json:"id"`
	TempId         string        `json:"temp_id,omitempty"`
	ConversationId string        `json:"conversation_id"`
	SenderId       int           `json:"sender_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	DeliveryState  DeliveryState `json:"delivery_state,omitempty"`
}

// Before reports whether m sorts ahead of other in a conversation
// timeline: created-at ascending, id ascending on equal timestamps.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.Id < other.Id
}

type Conversation struct {
	Id                 string    `json:"id"`
	ParticipantIds     []int     `json:"participant_ids"`
	LastMessageAt      time.Time `json:"last_message_at"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	// Placeholder marks degraded-mode substitute data. It is never set
	// on conversations returned by the backend.
	Placeholder bool      `json:"placeholder,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type NotificationType string

const (
	NotificationRegistration NotificationType = "registration"
	NotificationModeration   NotificationType = "moderation"
	NotificationStatus       NotificationType = "status"
)

type Notification struct {
	Id          int              `json:"id"`
	RecipientId int              `json:"recipient_id"`
	Type        NotificationType `json:"type"`
	Message     string           `json:"message"`
	CreatedAt   time.Time        `json:"created_at"`
	IsRead      bool             `json:"is_read"`
}

// Room identifiers. Two kinds exist: one per user for notifications,
// one per conversation for chat.
const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

func UserRoom(userId int) string {
	return fmt.Sprintf("%s%d", userRoomPrefix, userId)
}

func ConversationRoom(conversationId string) string {
	return conversationRoomPrefix + conversationId
}

// SplitRoom parses a room identifier into its kind and key. Kind is
// "user" or "conversation".
func SplitRoom(roomId string) (kind, key string, err error) {
	switch {
	case strings.HasPrefix(roomId, userRoomPrefix):
		return "user", strings.TrimPrefix(roomId, userRoomPrefix), nil
	case strings.HasPrefix(roomId, conversationRoomPrefix):
		return "conversation", strings.TrimPrefix(roomId, conversationRoomPrefix), nil
	default:
		return "", "", fmt.Errorf("invalid room id %q", roomId)
	}
}
