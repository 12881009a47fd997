package optimistic

import (
	"context"
	"time"

	"feedline/internal/logging"
	"feedline/internal/types"

	"github.com/google/uuid"
)

// CommentList is the local comment thread of a post.
type CommentList interface {
	Prepend(items ...types.Comment)
	Replace(id string, item types.Comment) bool
	Remove(id string) (types.Comment, int, bool)
	Insert(index int, item types.Comment)
}

// TempIDPrefix marks ids of comments not yet stored by the server.
const TempIDPrefix = "tmp-"

// AddComment shows a pending comment at the head of list right away and
// swaps in the server's copy once it is created. The pending comment is
// removed again when the request fails.
func AddComment(ctx context.Context, q *Queue, list CommentList, postID types.ID, author types.UserProfile, content string,
	create func(ctx context.Context, postID types.ID, content string) (*types.Comment, error)) (types.Comment, error) {

	pending := types.Comment{
		ID:        types.ID(TempIDPrefix + uuid.NewString()),
		PostID:    postID,
		Author:    author,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Pending:   true,
	}

	var out types.Comment
	err := q.Do(ctx, "comments:"+string(postID), func() error {
		list.Prepend(pending)
		created, err := create(ctx, postID, content)
		if err != nil {
			list.Remove(string(pending.ID))
			logging.FeedDebug("Comment on %s rolled back: %v", postID, err)
			return err
		}
		if !list.Replace(string(pending.ID), *created) {
			// The list was reset meanwhile; the new page will carry it.
			logging.FeedDebug("Pending comment %s no longer listed", pending.ID)
		}
		out = *created
		return nil
	})
	return out, err
}

// DeleteComment removes a comment from list immediately and restores it at
// its old position if the server refuses.
func DeleteComment(ctx context.Context, q *Queue, list CommentList, id types.ID,
	del func(ctx context.Context, id types.ID) error) error {

	return q.Do(ctx, CommentKey(id), func() error {
		removed, idx, ok := list.Remove(string(id))
		if !ok {
			return ErrNotFound
		}
		if err := del(ctx, id); err != nil {
			list.Insert(idx, removed)
			logging.FeedDebug("Delete of comment %s rolled back: %v", id, err)
			return err
		}
		return nil
	})
}
