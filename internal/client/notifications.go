package client

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/chatsync-io/chatsync/internal/server"
	"github.com/chatsync-io/chatsync/internal/types"
)

// NotificationFeed holds the account notification list, newest first.
// Pushed events and refresh pulls are reconciled by id; read state is
// flipped optimistically and rolled back when the server rejects the
// mutation.
type NotificationFeed struct {
	log     *log.Logger
	backend Backend
	timeout time.Duration

	mu            sync.Mutex
	notifications []types.Notification
}

func NewNotificationFeed(backend Backend, logger *log.Logger, fetchTimeout time.Duration) *NotificationFeed {
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	return &NotificationFeed{
		log:     logger,
		backend: backend,
		timeout: fetchTimeout,
	}
}

// Refresh pulls the feed and reconciles it with local state. The pull
// is authoritative for the entries it returns; pushed entries the pull
// has not caught up to yet are kept.
func (f *NotificationFeed) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	pulled, err := f.backend.ListNotifications(ctx, 0)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	merged := make([]types.Notification, 0, len(pulled))
	seen := make(map[int]struct{}, len(pulled))
	for _, n := range pulled {
		merged = append(merged, n)
		seen[n.Id] = struct{}{}
	}
	for _, n := range f.notifications {
		if _, ok := seen[n.Id]; !ok {
			merged = append(merged, n)
		}
	}
	f.notifications = merged
	f.sortLocked()

	return nil
}

// Notifications returns a copy of the feed, newest first.
func (f *NotificationFeed) Notifications() []types.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]types.Notification, len(f.notifications))
	copy(out, f.notifications)
	return out
}

// UnreadCount is recomputed from the list on every call.
func (f *NotificationFeed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int
	for i := range f.notifications {
		if !f.notifications[i].IsRead {
			n++
		}
	}
	return n
}

// ApplyEvent folds a pushed notification event into the feed: a new
// entry, or a read/delete mutation mirrored from another session.
func (f *NotificationFeed) ApplyEvent(ev server.NotificationEvent) {
	switch {
	case ev.New != nil:
		f.applyNew(*ev.New)
	case ev.Read != nil:
		f.applyRead(ev.Read.Ids, ev.Read.All)
	case ev.Removed != nil:
		f.applyRemoved(ev.Removed.Id)
	}
}

func (f *NotificationFeed) applyNew(n types.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.indexLocked(n.Id) >= 0 {
		return
	}
	f.notifications = append(f.notifications, n)
	f.sortLocked()
}

func (f *NotificationFeed) applyRead(ids []int, all bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if all {
		for i := range f.notifications {
			f.notifications[i].IsRead = true
		}
		return
	}
	for _, id := range ids {
		if i := f.indexLocked(id); i >= 0 {
			f.notifications[i].IsRead = true
		}
	}
}

func (f *NotificationFeed) applyRemoved(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i := f.indexLocked(id); i >= 0 {
		f.notifications = append(f.notifications[:i], f.notifications[i+1:]...)
	}
}

// MarkRead flips the entry read optimistically, then confirms with the
// backend. On failure the flip is rolled back and the error returned.
func (f *NotificationFeed) MarkRead(ctx context.Context, id int) error {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx < 0 {
		f.mu.Unlock()
		return fmt.Errorf("unknown notification %d", id)
	}
	if f.notifications[idx].IsRead {
		f.mu.Unlock()
		return nil
	}
	f.notifications[idx].IsRead = true
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if _, err := f.backend.MarkNotificationRead(ctx, id); err != nil {
		f.mu.Lock()
		if i := f.indexLocked(id); i >= 0 {
			f.notifications[i].IsRead = false
		}
		f.mu.Unlock()
		return fmt.Errorf("mark notification read: %w", err)
	}

	return nil
}

// MarkAllRead flips every entry read optimistically; a backend failure
// restores the previous read states.
func (f *NotificationFeed) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	prev := make(map[int]bool, len(f.notifications))
	for i := range f.notifications {
		prev[f.notifications[i].Id] = f.notifications[i].IsRead
		f.notifications[i].IsRead = true
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if _, err := f.backend.MarkAllNotificationsRead(ctx); err != nil {
		f.mu.Lock()
		for i := range f.notifications {
			if wasRead, ok := prev[f.notifications[i].Id]; ok {
				f.notifications[i].IsRead = wasRead
			}
		}
		f.mu.Unlock()
		return fmt.Errorf("mark all notifications read: %w", err)
	}

	return nil
}

// Delete removes the entry immediately. The server delete is
// fire-and-forget: a failure is logged, never restored.
func (f *NotificationFeed) Delete(ctx context.Context, id int) {
	f.mu.Lock()
	if i := f.indexLocked(id); i >= 0 {
		f.notifications = append(f.notifications[:i], f.notifications[i+1:]...)
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.backend.DeleteNotification(ctx, id); err != nil {
		f.log.Printf("delete notification %d: %s", id, err)
	}
}

// caller holds mu
func (f *NotificationFeed) indexLocked(id int) int {
	for i := range f.notifications {
		if f.notifications[i].Id == id {
			return i
		}
	}
	return -1
}

// caller holds mu
func (f *NotificationFeed) sortLocked() {
	sort.SliceStable(f.notifications, func(i, j int) bool {
		if !f.notifications[i].CreatedAt.Equal(f.notifications[j].CreatedAt) {
			return f.notifications[i].CreatedAt.After(f.notifications[j].CreatedAt)
		}
		return f.notifications[i].Id > f.notifications[j].Id
	})
}
