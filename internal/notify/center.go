// Package notify keeps the notification list of the current user: history
// fetched page by page, live notifications pushed over WebSocket, NATS or
// AMQP, and read state changed optimistically.
package notify

import (
	"context"
	"sync"

	"feedline/internal/logging"
	"feedline/internal/optimistic"
	"feedline/internal/paging"
	"feedline/internal/types"
)

// API is the backend surface the center uses.
type API interface {
	Notifications(ctx context.Context, page, limit int) (types.Page[types.Notification], error)
	MarkNotificationRead(ctx context.Context, id types.ID) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Center holds live and historical notifications. Pushed notifications go
// to the head of the live list and are not deduplicated against history.
// Notifications are never removed.
type Center struct {
	api     API
	history *paging.Loader[types.Notification]
	queue   optimistic.Queue

	mu       sync.Mutex
	live     []liveEntry // newest first
	seq      uint64
	onChange func()
}

// liveEntry tags a pushed notification with its arrival number, since
// the same id may be pushed more than once.
type liveEntry struct {
	seq uint64
	n   types.Notification
}

// NewCenter returns an empty center; call LoadMore for history.
func NewCenter(api API, pageSize int) *Center {
	return &Center{
		api:     api,
		history: paging.New[types.Notification](api.Notifications, pageSize),
	}
}

// OnChange registers a callback run after every local change.
func (c *Center) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Center) changed() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Push adds a live notification at the head of the list.
func (c *Center) Push(n types.Notification) {
	c.mu.Lock()
	c.seq++
	c.live = append([]liveEntry{{seq: c.seq, n: n}}, c.live...)
	c.mu.Unlock()
	logging.NotifyDebug("Pushed notification %s", n.ID)
	c.changed()
}

// Listen feeds src into the center until ctx is done.
func (c *Center) Listen(ctx context.Context, src Source) error {
	return src.Run(ctx, c.Push)
}

// LoadMore fetches the next history page.
func (c *Center) LoadMore(ctx context.Context) (bool, error) {
	ok, err := c.history.LoadMore(ctx)
	if ok {
		c.changed()
	}
	return ok, err
}

// HasMore reports whether more history can be fetched.
func (c *Center) HasMore() bool { return c.history.State().HasMore }

// Items returns live notifications followed by history.
func (c *Center) Items() []types.Notification {
	c.mu.Lock()
	out := make([]types.Notification, 0, len(c.live)+c.history.Len())
	for _, e := range c.live {
		out = append(out, e.n)
	}
	c.mu.Unlock()
	return append(out, c.history.Items()...)
}

// Live returns only the pushed notifications, newest first.
func (c *Center) Live() []types.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Notification, len(c.live))
	for i, e := range c.live {
		out[i] = e.n
	}
	return out
}

// UnreadCount counts unread entries across live and history.
func (c *Center) UnreadCount() int {
	n := 0
	for _, item := range c.Items() {
		if item.IsUnRead {
			n++
		}
	}
	return n
}

// MarkRead clears the unread flag of id locally and on the server. The
// flag is restored if the request fails.
func (c *Center) MarkRead(ctx context.Context, id types.ID) error {
	return c.queue.Do(ctx, "notifications", func() error {
		flipped := c.setRead(func(n types.Notification) bool { return n.ID == id && n.IsUnRead })
		if flipped == nil {
			// Already read locally; still tell the server.
			return c.api.MarkNotificationRead(ctx, id)
		}
		c.changed()
		if err := c.api.MarkNotificationRead(ctx, id); err != nil {
			c.restore(flipped)
			logging.NotifyWarn("Mark read %s rolled back: %v", id, err)
			return err
		}
		return nil
	})
}

// MarkAllRead clears every unread flag locally and on the server,
// restoring the flags it changed if the request fails.
func (c *Center) MarkAllRead(ctx context.Context) error {
	return c.queue.Do(ctx, "notifications", func() error {
		flipped := c.setRead(func(n types.Notification) bool { return n.IsUnRead })
		if flipped != nil {
			c.changed()
		}
		if err := c.api.MarkAllNotificationsRead(ctx); err != nil {
			c.restore(flipped)
			logging.NotifyWarn("Mark all read rolled back: %v", err)
			return err
		}
		return nil
	})
}

// flip identifies an entry whose flag was cleared: live entries by
// arrival number, history entries by id (seq 0).
type flip struct {
	seq uint64
	id  types.ID
}

func (c *Center) setRead(match func(types.Notification) bool) []flip {
	var out []flip
	c.mu.Lock()
	for i := range c.live {
		if match(c.live[i].n) {
			c.live[i].n.IsUnRead = false
			out = append(out, flip{seq: c.live[i].seq, id: c.live[i].n.ID})
		}
	}
	c.mu.Unlock()

	for _, n := range c.history.Items() {
		if !match(n) {
			continue
		}
		c.history.Update(string(n.ID), func(n types.Notification) types.Notification {
			n.IsUnRead = false
			return n
		})
		out = append(out, flip{id: n.ID})
	}
	return out
}

// restore sets the unread flag again on the entries setRead changed.
func (c *Center) restore(flipped []flip) {
	if len(flipped) == 0 {
		return
	}
	bySeq := make(map[uint64]bool, len(flipped))
	for _, f := range flipped {
		if f.seq != 0 {
			bySeq[f.seq] = true
		}
	}
	c.mu.Lock()
	for i := range c.live {
		if bySeq[c.live[i].seq] {
			c.live[i].n.IsUnRead = true
		}
	}
	c.mu.Unlock()

	for _, f := range flipped {
		if f.seq != 0 {
			continue
		}
		c.history.Update(string(f.id), func(n types.Notification) types.Notification {
			n.IsUnRead = true
			return n
		})
	}
	c.changed()
}
