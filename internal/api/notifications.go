package api

import (
	"context"
	"net/http"

	"feedline/internal/types"
)

// Notifications returns one page of notification history, newest first.
func (c *Client) Notifications(ctx context.Context, page, limit int) (types.Page[types.Notification], error) {
	return getPage[types.Notification](ctx, c, "/notifications", page, limit, nil)
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id types.ID) error {
	return c.Do(ctx, http.MethodPost, pathf("/notifications/%s/read", id), nil, nil, nil)
}

// MarkAllNotificationsRead marks every notification read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, "/notifications/read-all", nil, nil, nil)
}
