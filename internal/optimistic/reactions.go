package optimistic

import (
	"context"

	"feedline/internal/types"
)

// Reactable is an entity carrying like/dislike counters.
type Reactable[T any] interface {
	Reactions() types.ReactionState
	WithReactions(types.ReactionState) T
}

// ReactionCommit sends a reaction change to the server.
type ReactionCommit func(ctx context.Context, prev, next types.Choice) error

// ToggleReaction applies the user's like or dislike to the entity in cell.
// Asking for the current choice removes it.
func ToggleReaction[T Reactable[T]](ctx context.Context, q *Queue, key string, cell Cell[T], want types.Choice, commit ReactionCommit) (T, error) {
	return Apply(ctx, q, cell, Mutation[T]{
		Key: key,
		Next: func(cur T) T {
			return cur.WithReactions(cur.Reactions().Toggle(want))
		},
		Commit: func(ctx context.Context, prev, next T) error {
			return commit(ctx, prev.Reactions().Choice, next.Reactions().Choice)
		},
	})
}

// PostKey and CommentKey namespace queue keys by entity kind.
func PostKey(id types.ID) string    { return "post:" + string(id) }
func CommentKey(id types.ID) string { return "comment:" + string(id) }
func UserKey(id types.ID) string    { return "user:" + string(id) }
