package client

import (
	"context"
	"log"
	"time"

	"github.com/chatsync-io/chatsync/internal/types"
)

type Config struct {
	BaseURL          string
	WebsocketURL     string
	Token            string
	UserId           int
	HandshakeTimeout time.Duration
	FetchTimeout     time.Duration
	DegradedFallback bool
}

// SyncClient ties the connection manager to the conversation store and
// notification feed: pushed events flow into the stores, and a
// reconnect triggers a resync so nothing missed while offline is lost.
type SyncClient struct {
	log           *log.Logger
	Conn          *ConnManager
	Conversations *ConversationStore
	Notifications *NotificationFeed
}

func New(cfg Config, logger *log.Logger) *SyncClient {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}

	backend := NewHTTPBackend(cfg.BaseURL, cfg.Token, cfg.FetchTimeout)
	conn := NewConnManager(ConnConfig{
		URL:              cfg.WebsocketURL,
		Token:            cfg.Token,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, logger)

	c := &SyncClient{
		log:           logger,
		Conn:          conn,
		Conversations: NewConversationStore(backend, conn, logger, cfg.FetchTimeout, cfg.DegradedFallback),
		Notifications: NewNotificationFeed(backend, logger, cfg.FetchTimeout),
	}

	conn.OnMessage(c.Conversations.ApplyPush)
	conn.OnNotification(c.Notifications.ApplyEvent)
	conn.OnConnected(func(resumed bool) {
		if !resumed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout)
		defer cancel()
		c.Conversations.Resync(ctx)
		if err := c.Notifications.Refresh(ctx); err != nil {
			logger.Println("notification refresh after reconnect:", err)
		}
	})

	return c
}

// Start connects the realtime channel and pulls the initial state.
func (c *SyncClient) Start(ctx context.Context) error {
	if err := c.Conn.Connect(ctx); err != nil {
		return err
	}
	if err := c.Conversations.LoadConversations(ctx); err != nil {
		return err
	}
	if err := c.Notifications.Refresh(ctx); err != nil {
		c.log.Println("initial notification refresh:", err)
	}

	return nil
}

// Stop closes the realtime channel and waits for in-flight sends.
func (c *SyncClient) Stop() error {
	err := c.Conn.Disconnect()
	c.Conversations.Wait()
	return err
}

// OpenConversation joins the conversation's room and loads history.
func (c *SyncClient) OpenConversation(ctx context.Context, conversationId string) error {
	return c.Conversations.Open(ctx, conversationId)
}

// CloseConversation leaves the conversation's room.
func (c *SyncClient) CloseConversation(conversationId string) {
	c.Conversations.Close(conversationId)
}

// UserRoom is the room carrying this account's notification events.
// The server joins it on connect; exposed for diagnostics.
func (c *SyncClient) UserRoom(userId int) string {
	return types.UserRoom(userId)
}
