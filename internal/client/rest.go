package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chatsync-io/chatsync/internal/types"
)

// Backend is the REST collaborator the client core calls for bulk
// fetches and mutations. Its server-side implementation is out of
// scope; HTTPBackend talks to the conventional endpoints.
type Backend interface {
	ListConversations(ctx context.Context) ([]types.Conversation, error)
	CreateConversation(ctx context.Context, participantIds []int) (types.Conversation, error)
	ListMessages(ctx context.Context, conversationId, before string, limit int) ([]types.Message, error)
	SendMessage(ctx context.Context, conversationId, tempId, content string) (types.Message, error)
	ListNotifications(ctx context.Context, limit int) ([]types.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationId int) (types.Notification, error)
	MarkAllNotificationsRead(ctx context.Context) (int, error)
	DeleteNotification(ctx context.Context, notificationId int) error
}

type HTTPBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPBackend(baseURL, token string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "token", Value: b.token})

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (b *HTTPBackend) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	var convs []types.Conversation
	err := b.doRequest(ctx, http.MethodGet, "/api/conversations", nil, &convs)
	return convs, err
}

func (b *HTTPBackend) CreateConversation(ctx context.Context, participantIds []int) (types.Conversation, error) {
	var conv types.Conversation
	err := b.doRequest(ctx, http.MethodPost, "/api/conversations", map[string]any{
		"participant_ids": participantIds,
	}, &conv)
	return conv, err
}

// ListMessages fetches the newest page of a conversation's history.
// A non-empty before cursor (the id of the oldest message already
// held) pages backward through older messages.
func (b *HTTPBackend) ListMessages(ctx context.Context, conversationId, before string, limit int) ([]types.Message, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages", conversationId)
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		params.Set("before", before)
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var messages []types.Message
	err := b.doRequest(ctx, http.MethodGet, path, nil, &messages)
	return messages, err
}

func (b *HTTPBackend) SendMessage(ctx context.Context, conversationId, tempId, content string) (types.Message, error) {
	var msg types.Message
	err := b.doRequest(ctx, http.MethodPost, "/api/messages", map[string]string{
		"conversation_id": conversationId,
		"temp_id":         tempId,
		"content":         content,
	}, &msg)
	return msg, err
}

func (b *HTTPBackend) ListNotifications(ctx context.Context, limit int) ([]types.Notification, error) {
	path := "/api/notifications"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var notifications []types.Notification
	err := b.doRequest(ctx, http.MethodGet, path, nil, &notifications)
	return notifications, err
}

func (b *HTTPBackend) MarkNotificationRead(ctx context.Context, notificationId int) (types.Notification, error) {
	var n types.Notification
	err := b.doRequest(ctx, http.MethodPatch, fmt.Sprintf("/api/notifications/%d/read", notificationId), nil, &n)
	return n, err
}

func (b *HTTPBackend) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	var resp map[string]int
	if err := b.doRequest(ctx, http.MethodPut, "/api/notifications/read-all", nil, &resp); err != nil {
		return 0, err
	}
	return resp["updated"], nil
}

func (b *HTTPBackend) DeleteNotification(ctx context.Context, notificationId int) error {
	return b.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/notifications/%d", notificationId), nil, nil)
}
