package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedline/internal/paging"
	"feedline/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errServer = errors.New("server unavailable")

func okCommit(context.Context, types.Choice, types.Choice) error   { return nil }
func failCommit(context.Context, types.Choice, types.Choice) error { return errServer }

func TestToggleReactionSequence(t *testing.T) {
	ctx := context.Background()
	var q Queue
	cell := NewValue(types.Post{ID: "1", Likes: 5, Dislikes: 2})

	got, err := ToggleReaction(ctx, &q, PostKey("1"), cell, types.ChoiceLike, okCommit)
	require.NoError(t, err)
	assert.Equal(t, types.ReactionState{Likes: 6, Dislikes: 2, Choice: types.ChoiceLike}, got.Reactions())

	got, err = ToggleReaction(ctx, &q, PostKey("1"), cell, types.ChoiceLike, okCommit)
	require.NoError(t, err)
	assert.Equal(t, types.ReactionState{Likes: 5, Dislikes: 2}, got.Reactions())

	_, _ = ToggleReaction(ctx, &q, PostKey("1"), cell, types.ChoiceLike, okCommit)
	got, err = ToggleReaction(ctx, &q, PostKey("1"), cell, types.ChoiceDislike, okCommit)
	require.NoError(t, err)
	assert.Equal(t, types.ReactionState{Likes: 5, Dislikes: 3, Choice: types.ChoiceDislike}, got.Reactions())
	assert.Equal(t, got, cell.Get())
}

func TestToggleReactionRollback(t *testing.T) {
	ctx := context.Background()
	var q Queue
	before := types.Comment{ID: "c1", Content: "hi", Likes: 1, Dislikes: 4, MyReaction: types.ChoiceDislike}
	cell := NewValue(before)

	var seen types.Comment
	got, err := ToggleReaction(ctx, &q, CommentKey("c1"), cell, types.ChoiceLike,
		func(context.Context, types.Choice, types.Choice) error {
			seen = cell.Get()
			return errServer
		})

	assert.ErrorIs(t, err, errServer)
	assert.Equal(t, types.ChoiceLike, seen.MyReaction, "optimistic value is visible during the call")
	assert.Empty(t, cmp.Diff(before, cell.Get()), "failure restores the snapshot exactly")
	assert.Empty(t, cmp.Diff(before, got))
}

func TestCommitSeesChoiceTransition(t *testing.T) {
	var q Queue
	cell := NewValue(types.Post{ID: "1", Likes: 1, MyReaction: types.ChoiceLike})
	var prev, next types.Choice
	_, err := ToggleReaction(context.Background(), &q, PostKey("1"), cell, types.ChoiceDislike,
		func(_ context.Context, p, n types.Choice) error { prev, next = p, n; return nil })
	require.NoError(t, err)
	assert.Equal(t, types.ChoiceLike, prev)
	assert.Equal(t, types.ChoiceDislike, next)
}

// Two toggles on the same post while the first request is still running:
// the first fails, and its rollback must not clobber the second toggle.
func TestConcurrentTogglesAreSerialized(t *testing.T) {
	ctx := context.Background()
	var q Queue
	cell := NewValue(types.Post{ID: "1", Likes: 5, Dislikes: 2})

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = ToggleReaction(ctx, &q, PostKey("1"), cell, types.ChoiceLike,
			func(context.Context, types.Choice, types.Choice) error {
				close(firstStarted)
				<-releaseFirst
				return errServer
			})
	}()
	<-firstStarted
	go func() {
		defer wg.Done()
		_, _ = ToggleReaction(ctx, &q, PostKey("1"), cell, types.ChoiceDislike, okCommit)
	}()

	// The second toggle waits for the first.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, types.ChoiceLike, cell.Get().MyReaction)

	close(releaseFirst)
	wg.Wait()
	assert.Equal(t, types.ReactionState{Likes: 5, Dislikes: 3, Choice: types.ChoiceDislike}, cell.Get().Reactions())
	assert.Zero(t, q.Pending())
}

func TestRollbackSkippedWhenValueReplaced(t *testing.T) {
	var q Queue
	cell := NewValue(types.Post{ID: "1", Likes: 5})
	refreshed := types.Post{ID: "1", Likes: 40, Content: "server copy"}

	got, err := ToggleReaction(context.Background(), &q, PostKey("1"), cell, types.ChoiceLike,
		func(context.Context, types.Choice, types.Choice) error {
			// A refresh replaces the entity while the request is in flight.
			cur := cell.Get()
			require.True(t, cell.CompareAndSwap(cur, refreshed))
			return errServer
		})
	assert.ErrorIs(t, err, errServer)
	assert.Equal(t, refreshed, cell.Get())
	assert.Equal(t, refreshed, got)
}

func TestIndependentEntitiesRunConcurrently(t *testing.T) {
	ctx := context.Background()
	var q Queue
	a := NewValue(types.Post{ID: "a"})
	b := NewValue(types.Post{ID: "b"})

	aStarted := make(chan struct{})
	releaseA := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ToggleReaction(ctx, &q, PostKey("a"), a, types.ChoiceLike,
			func(context.Context, types.Choice, types.Choice) error {
				close(aStarted)
				<-releaseA
				return nil
			})
	}()
	<-aStarted

	_, err := ToggleReaction(ctx, &q, PostKey("b"), b, types.ChoiceLike, okCommit)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Get().Likes)

	close(releaseA)
	<-done
}

func TestQueueRespectsContext(t *testing.T) {
	var q Queue
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), "k", func() error { close(started); <-hold; return nil })
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, "k", func() error { t.Fatal("must not run"); return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)
}

func TestToggleOnLoaderItem(t *testing.T) {
	ctx := context.Background()
	feed := paging.New[types.Post](func(context.Context, int, int) (types.Page[types.Post], error) {
		return types.Page[types.Post]{Items: []types.Post{{ID: "1", Likes: 2}, {ID: "2"}}}, nil
	}, 10)
	_, err := feed.LoadMore(ctx)
	require.NoError(t, err)

	var q Queue
	_, err = ToggleReaction(ctx, &q, PostKey("1"), Item[types.Post](feed, "1"), types.ChoiceLike, failCommit)
	assert.Error(t, err)
	p, _ := feed.Get("1")
	assert.Equal(t, 2, p.Likes)

	_, err = ToggleReaction(ctx, &q, PostKey("1"), Item[types.Post](feed, "1"), types.ChoiceLike, okCommit)
	require.NoError(t, err)
	p, _ = feed.Get("1")
	assert.Equal(t, 3, p.Likes)

	_, err = ToggleReaction(ctx, &q, PostKey("9"), Item[types.Post](feed, "9"), types.ChoiceLike, okCommit)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFollowToggle(t *testing.T) {
	ctx := context.Background()
	var q Queue
	cell := NewValue(types.UserProfile{ID: "u1", FollowersCount: 3})

	var sent []bool
	commit := func(_ context.Context, id types.ID, follow bool) error {
		assert.Equal(t, types.ID("u1"), id)
		sent = append(sent, follow)
		return nil
	}

	u, err := ToggleFollowing(ctx, &q, cell, commit)
	require.NoError(t, err)
	assert.True(t, u.IsFollowing)
	assert.Equal(t, 4, u.FollowersCount)

	u, err = SetFollowing(ctx, &q, cell, false, commit)
	require.NoError(t, err)
	assert.False(t, u.IsFollowing)
	assert.Equal(t, 3, u.FollowersCount)
	assert.Equal(t, []bool{true, false}, sent)

	before := cell.Get()
	_, err = SetFollowing(ctx, &q, cell, true, func(context.Context, types.ID, bool) error { return errServer })
	assert.Error(t, err)
	assert.Equal(t, before, cell.Get())
}

func TestUnfollowNeverNegative(t *testing.T) {
	var q Queue
	cell := NewValue(types.UserProfile{ID: "u1", IsFollowing: true})
	u, err := SetFollowing(context.Background(), &q, cell, false,
		func(context.Context, types.ID, bool) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, u.FollowersCount)
}

func commentThread(t *testing.T, existing ...types.Comment) *paging.Loader[types.Comment] {
	t.Helper()
	l := paging.New[types.Comment](func(context.Context, int, int) (types.Page[types.Comment], error) {
		return types.Page[types.Comment]{Items: existing}, nil
	}, 20)
	_, err := l.LoadMore(context.Background())
	require.NoError(t, err)
	return l
}

func TestAddComment(t *testing.T) {
	ctx := context.Background()
	var q Queue
	thread := commentThread(t, types.Comment{ID: "c1", Content: "first"})
	me := types.UserProfile{ID: "u1", Login: "alice"}

	var pendingSeen types.Comment
	created, err := AddComment(ctx, &q, thread, "p1", me, "hello",
		func(_ context.Context, postID types.ID, content string) (*types.Comment, error) {
			pendingSeen = thread.Items()[0]
			return &types.Comment{ID: "c2", PostID: postID, Author: me, Content: content}, nil
		})
	require.NoError(t, err)

	assert.True(t, pendingSeen.Pending)
	assert.Contains(t, string(pendingSeen.ID), TempIDPrefix)
	assert.Equal(t, types.ID("c2"), created.ID)

	items := thread.Items()
	require.Len(t, items, 2)
	assert.Equal(t, types.ID("c2"), items[0].ID)
	assert.False(t, items[0].Pending)
}

func TestAddCommentRollback(t *testing.T) {
	var q Queue
	thread := commentThread(t, types.Comment{ID: "c1"})
	before := thread.Items()

	_, err := AddComment(context.Background(), &q, thread, "p1", types.UserProfile{}, "hello",
		func(context.Context, types.ID, string) (*types.Comment, error) { return nil, errServer })
	assert.ErrorIs(t, err, errServer)
	assert.Empty(t, cmp.Diff(before, thread.Items()))
}

func TestDeleteComment(t *testing.T) {
	ctx := context.Background()
	var q Queue
	thread := commentThread(t, types.Comment{ID: "c1"}, types.Comment{ID: "c2"}, types.Comment{ID: "c3"})
	before := thread.Items()

	err := DeleteComment(ctx, &q, thread, "c2", func(context.Context, types.ID) error { return errServer })
	assert.ErrorIs(t, err, errServer)
	assert.Empty(t, cmp.Diff(before, thread.Items()), "failed delete restores the original position")

	err = DeleteComment(ctx, &q, thread, "c2", func(context.Context, types.ID) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, thread.Len())

	err = DeleteComment(ctx, &q, thread, "c2", func(context.Context, types.ID) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}
