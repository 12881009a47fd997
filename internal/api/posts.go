package api

import (
	"context"
	"net/http"

	"feedline/internal/types"
)

// Feed returns one page of the home feed.
func (c *Client) Feed(ctx context.Context, page, limit int) (types.Page[types.Post], error) {
	return getPage[types.Post](ctx, c, "/posts", page, limit, nil)
}

// UserPosts returns one page of a user's posts.
func (c *Client) UserPosts(ctx context.Context, userID types.ID, page, limit int) (types.Page[types.Post], error) {
	return getPage[types.Post](ctx, c, pathf("/users/%s/posts", userID), page, limit, nil)
}

// Post fetches a single post.
func (c *Client) Post(ctx context.Context, id types.ID) (*types.Post, error) {
	var p types.Post
	if err := c.Do(ctx, http.MethodGet, pathf("/posts/%s", id), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// NewPost is the body of a create request.
type NewPost struct {
	Content string   `json:"content"`
	Media   []string `json:"media,omitempty"`
}

// CreatePost publishes a post and returns it as stored.
func (c *Client) CreatePost(ctx context.Context, in NewPost) (*types.Post, error) {
	var p types.Post
	if err := c.Do(ctx, http.MethodPost, "/posts", nil, in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePost removes a post owned by the current user.
func (c *Client) DeletePost(ctx context.Context, id types.ID) error {
	return c.Do(ctx, http.MethodDelete, pathf("/posts/%s", id), nil, nil, nil)
}

// SetPostReaction moves the current user's reaction on a post from prev to
// next. ChoiceNone for next removes the previous reaction.
func (c *Client) SetPostReaction(ctx context.Context, id types.ID, prev, next types.Choice) error {
	return c.setReaction(ctx, "/posts/%s/%s", id, prev, next)
}

func (c *Client) setReaction(ctx context.Context, format string, id types.ID, prev, next types.Choice) error {
	if next == prev {
		return nil
	}
	if next == types.ChoiceNone {
		return c.Do(ctx, http.MethodDelete, reactionPath(format, id, prev), nil, nil, nil)
	}
	// The backend replaces an opposite reaction on POST.
	return c.Do(ctx, http.MethodPost, reactionPath(format, id, next), nil, nil, nil)
}

func reactionPath(format string, id types.ID, choice types.Choice) string {
	return pathf(format, id, types.ID(choice))
}
