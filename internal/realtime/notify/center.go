// Package notify is the per-user notification channel: it tracks the inbox
// and unread badge from server messages and sends read/delete requests.
package notify

import (
	"context"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/louisbranch/tableroom/internal/realtime/conn"
	"github.com/louisbranch/tableroom/internal/realtime/dispatch"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// maxSystemMessages bounds the retained system broadcasts.
const maxSystemMessages = 20

// Options configures a Center.
type Options struct {
	BaseURL string
	UserID  string
	// Conn carries transport overrides; its Channel is always replaced.
	Conn conn.Options
}

// Center owns one notification connection.
type Center struct {
	userID     string
	dispatcher *dispatch.Dispatcher
	manager    *conn.Manager
	logf       func(string, ...any)

	mu       sync.Mutex
	attached bool
	items    []protocol.Notification
	unread   int
	system   []protocol.SystemNotificationPayload
}

// New builds a disconnected center for opts.UserID.
func New(opts Options) *Center {
	logf := opts.Conn.Logf
	if logf == nil {
		logf = log.Printf
	}
	connOpts := opts.Conn
	connOpts.Channel = conn.NotificationChannel(opts.BaseURL)
	connOpts.Logf = logf
	d := dispatch.New(logf)
	return &Center{
		userID:     strings.TrimSpace(opts.UserID),
		dispatcher: d,
		manager:    conn.New(d, connOpts),
		logf:       logf,
	}
}

// Dispatcher exposes the center's dispatcher for additional subscribers.
// Disconnect clears it.
func (c *Center) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Connect opens the channel.
func (c *Center) Connect(ctx context.Context) error {
	c.attach()
	return c.manager.Connect(ctx, conn.Target{UserID: c.userID})
}

// Disconnect closes the channel and drops every subscription.
func (c *Center) Disconnect() {
	c.manager.Disconnect()
	c.mu.Lock()
	c.attached = false
	c.mu.Unlock()
}

// Status returns the connection status.
func (c *Center) Status() conn.Status {
	return c.manager.Status()
}

// Unread returns the unread badge count.
func (c *Center) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Items returns the inbox, newest first.
func (c *Center) Items() []protocol.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// System returns the retained system broadcasts, oldest first.
func (c *Center) System() []protocol.SystemNotificationPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.system)
}

// MarkAsRead asks the server to mark one notification read.
func (c *Center) MarkAsRead(notificationID string) bool {
	return c.manager.Send(protocol.KindMarkAsRead, protocol.NotificationIDPayload{NotificationID: notificationID})
}

// MarkAllRead asks the server to mark the whole inbox read.
func (c *Center) MarkAllRead() bool {
	return c.manager.Send(protocol.KindMarkAllRead, nil)
}

// Delete asks the server to delete one notification.
func (c *Center) Delete(notificationID string) bool {
	return c.manager.Send(protocol.KindDeleteNotification, protocol.NotificationIDPayload{NotificationID: notificationID})
}

func (c *Center) attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return
	}
	c.attached = true
	c.dispatcher.On(protocol.KindNotificationsConnected, c.handleConnected)
	c.dispatcher.On(protocol.KindNewNotification, c.handleNew)
	c.dispatcher.On(protocol.KindUnreadCountUpdate, c.handleUnreadCount)
	c.dispatcher.On(protocol.KindNotificationMarkedRead, c.handleMarkedRead)
	c.dispatcher.On(protocol.KindAllNotificationsMarkedRead, c.handleAllMarkedRead)
	c.dispatcher.On(protocol.KindNotificationDeleted, c.handleDeleted)
	c.dispatcher.On(protocol.KindSystemNotification, c.handleSystem)
}

func (c *Center) handleConnected(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.NotificationsConnectedPayload](env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread = payload.UnreadCount
	if payload.Notifications != nil {
		c.items = slices.Clone(payload.Notifications)
	}
	return nil
}

func (c *Center) handleNew(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.NewNotificationPayload](env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(payload.Notification.ID) >= 0 {
		return nil
	}
	c.items = slices.Insert(c.items, 0, payload.Notification)
	switch {
	case payload.UnreadCount != nil:
		c.unread = *payload.UnreadCount
	case !payload.Notification.Read:
		c.unread++
	}
	return nil
}

func (c *Center) handleUnreadCount(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.UnreadCountPayload](env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.unread = payload.UnreadCount
	c.mu.Unlock()
	return nil
}

func (c *Center) handleMarkedRead(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.NotificationIDPayload](env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wasUnread := false
	if idx := c.indexLocked(payload.NotificationID); idx >= 0 {
		wasUnread = !c.items[idx].Read
		c.items[idx].Read = true
	}
	c.adjustUnreadLocked(payload.UnreadCount, wasUnread)
	return nil
}

func (c *Center) handleAllMarkedRead(protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		c.items[i].Read = true
	}
	c.unread = 0
	return nil
}

func (c *Center) handleDeleted(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.NotificationIDPayload](env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wasUnread := false
	if idx := c.indexLocked(payload.NotificationID); idx >= 0 {
		wasUnread = !c.items[idx].Read
		c.items = slices.Delete(c.items, idx, idx+1)
	}
	c.adjustUnreadLocked(payload.UnreadCount, wasUnread)
	return nil
}

func (c *Center) handleSystem(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.SystemNotificationPayload](env)
	if err != nil {
		return err
	}
	c.logf("notify: system %s: %s", payload.Level, payload.Message)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = append(c.system, payload)
	if over := len(c.system) - maxSystemMessages; over > 0 {
		c.system = slices.Delete(c.system, 0, over)
	}
	return nil
}

func (c *Center) indexLocked(id string) int {
	return slices.IndexFunc(c.items, func(n protocol.Notification) bool { return n.ID == id })
}

// adjustUnreadLocked prefers the server count and otherwise decrements when a
// known unread item changed.
func (c *Center) adjustUnreadLocked(serverCount *int, wasUnread bool) {
	switch {
	case serverCount != nil:
		c.unread = *serverCount
	case wasUnread && c.unread > 0:
		c.unread--
	}
}
