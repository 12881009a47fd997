package api

import (
	"context"
	"net/http"

	"feedline/internal/types"
)

// Comments returns one page of a post's comments.
func (c *Client) Comments(ctx context.Context, postID types.ID, page, limit int) (types.Page[types.Comment], error) {
	return getPage[types.Comment](ctx, c, pathf("/posts/%s/comments", postID), page, limit, nil)
}

// AddComment posts a comment and returns it with its server id.
func (c *Client) AddComment(ctx context.Context, postID types.ID, content string) (*types.Comment, error) {
	var out types.Comment
	in := struct {
		Content string `json:"content"`
	}{content}
	if err := c.Do(ctx, http.MethodPost, pathf("/posts/%s/comments", postID), nil, in, &out); err != nil {
		return nil, err
	}
	if out.PostID == "" {
		out.PostID = postID
	}
	return &out, nil
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, id types.ID) error {
	return c.Do(ctx, http.MethodDelete, pathf("/comments/%s", id), nil, nil, nil)
}

// SetCommentReaction moves the user's reaction on a comment.
func (c *Client) SetCommentReaction(ctx context.Context, id types.ID, prev, next types.Choice) error {
	return c.setReaction(ctx, "/comments/%s/%s", id, prev, next)
}
