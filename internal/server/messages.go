package server

import (
	"net/http"
	"time"

	"github.com/chatsync-io/chatsync/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the client-to-server wire envelope. Exactly one of
// Join or Leave is set.
type ClientMessage struct {
	BaseMessage
	Join   *Join   `json:"join,omitempty"`
	Leave  *Leave  `json:"leave,omitempty"`
	UserId int     `json:"-"`
	client *Client `json:"-"`
}

func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}
	if cm.client != nil {
		return cm.client.user.Id
	}
	return 0
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

// ServerMessage is the server-to-client wire envelope. The set field
// names the event: receive_message, notification, or response.
type ServerMessage struct {
	BaseMessage
	Response     *Response          `json:"response,omitempty"`
	Message      *types.Message     `json:"receive_message,omitempty"`
	Notification *NotificationEvent `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// NotificationEvent carries account-feed changes pushed into a user
// room: a new notification, or a read/delete mutation mirrored to the
// user's other sessions.
type NotificationEvent struct {
	New     *types.Notification  `json:"new,omitempty"`
	Read    *NotificationRead    `json:"read,omitempty"`
	Removed *NotificationRemoved `json:"removed,omitempty"`
}

type NotificationRead struct {
	Ids []int `json:"ids,omitempty"`
	All bool  `json:"all,omitempty"`
}

type NotificationRemoved struct {
	Id int `json:"id"`
}

func NewMessageEvent(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Message:     &msg,
	}
}

func NewNotificationEvent(ev NotificationEvent) *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &ev,
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrForbidden(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not a participant",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
