package optimistic

import (
	"context"

	"feedline/internal/types"
)

// FollowCommit sends a follow or unfollow to the server.
type FollowCommit func(ctx context.Context, id types.ID, follow bool) error

// SetFollowing marks the profile in cell as followed or not and adjusts its
// follower count. Requesting the current state is a no-op that still
// reaches the server.
func SetFollowing(ctx context.Context, q *Queue, cell Cell[types.UserProfile], follow bool, commit FollowCommit) (types.UserProfile, error) {
	cur, ok := cell.Load()
	if !ok {
		return types.UserProfile{}, ErrNotFound
	}
	return Apply(ctx, q, cell, Mutation[types.UserProfile]{
		Key: UserKey(cur.ID),
		Next: func(u types.UserProfile) types.UserProfile {
			if u.IsFollowing == follow {
				return u
			}
			u.IsFollowing = follow
			if follow {
				u.FollowersCount++
			} else if u.FollowersCount > 0 {
				u.FollowersCount--
			}
			return u
		},
		Commit: func(ctx context.Context, prev, next types.UserProfile) error {
			return commit(ctx, next.ID, follow)
		},
	})
}

// ToggleFollowing flips the follow state of the profile in cell.
func ToggleFollowing(ctx context.Context, q *Queue, cell Cell[types.UserProfile], commit FollowCommit) (types.UserProfile, error) {
	cur, ok := cell.Load()
	if !ok {
		return types.UserProfile{}, ErrNotFound
	}
	return SetFollowing(ctx, q, cell, !cur.IsFollowing, commit)
}
