package api

import (
	"context"
	"net/http"
	"net/url"

	"feedline/internal/types"
)

// Me fetches the profile of the current token's owner. Concurrent calls
// share one request.
func (c *Client) Me(ctx context.Context) (*types.UserProfile, error) {
	token, _ := c.tokens.TokenAndGeneration()
	v, err, _ := c.group.Do("me:"+token, func() (interface{}, error) {
		var u types.UserProfile
		if err := c.Do(ctx, http.MethodGet, "/user/me", nil, nil, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
	if err != nil {
		return nil, err
	}
	u := *v.(*types.UserProfile)
	return &u, nil
}

// ProfileUpdate carries editable profile fields; empty fields are omitted.
type ProfileUpdate struct {
	DisplayName string `json:"displayName,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// UpdateMe edits the current user's profile.
func (c *Client) UpdateMe(ctx context.Context, upd ProfileUpdate) (*types.UserProfile, error) {
	var u types.UserProfile
	if err := c.Do(ctx, http.MethodPut, "/user/me", nil, upd, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// User fetches a profile by id.
func (c *Client) User(ctx context.Context, id types.ID) (*types.UserProfile, error) {
	var u types.UserProfile
	if err := c.Do(ctx, http.MethodGet, pathf("/users/%s", id), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// People lists users for discovery.
func (c *Client) People(ctx context.Context, page, limit int) (types.Page[types.UserProfile], error) {
	return getPage[types.UserProfile](ctx, c, "/users", page, limit, nil)
}

// SearchUsers matches users by login or display name.
func (c *Client) SearchUsers(ctx context.Context, query string, page, limit int) (types.Page[types.UserProfile], error) {
	return getPage[types.UserProfile](ctx, c, "/users/search", page, limit, url.Values{"q": {query}})
}

// Followers lists users following id.
func (c *Client) Followers(ctx context.Context, id types.ID, page, limit int) (types.Page[types.UserProfile], error) {
	return getPage[types.UserProfile](ctx, c, pathf("/users/%s/followers", id), page, limit, nil)
}

// Following lists users id follows.
func (c *Client) Following(ctx context.Context, id types.ID, page, limit int) (types.Page[types.UserProfile], error) {
	return getPage[types.UserProfile](ctx, c, pathf("/users/%s/following", id), page, limit, nil)
}

// Follow starts following id.
func (c *Client) Follow(ctx context.Context, id types.ID) error {
	return c.Do(ctx, http.MethodPost, pathf("/users/%s/follow", id), nil, nil, nil)
}

// Unfollow stops following id.
func (c *Client) Unfollow(ctx context.Context, id types.ID) error {
	return c.Do(ctx, http.MethodDelete, pathf("/users/%s/follow", id), nil, nil, nil)
}

// SetFollowing follows or unfollows id.
func (c *Client) SetFollowing(ctx context.Context, id types.ID, follow bool) error {
	if follow {
		return c.Follow(ctx, id)
	}
	return c.Unfollow(ctx, id)
}
