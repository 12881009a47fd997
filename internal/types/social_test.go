package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionToggle(t *testing.T) {
	start := ReactionState{Likes: 5, Dislikes: 2}

	liked := start.Toggle(ChoiceLike)
	assert.Equal(t, ReactionState{Likes: 6, Dislikes: 2, Choice: ChoiceLike}, liked)

	unliked := liked.Toggle(ChoiceLike)
	assert.Equal(t, ReactionState{Likes: 5, Dislikes: 2, Choice: ChoiceNone}, unliked)

	switched := liked.Toggle(ChoiceDislike)
	assert.Equal(t, ReactionState{Likes: 5, Dislikes: 3, Choice: ChoiceDislike}, switched)

	assert.Equal(t, start, start.Toggle(ChoiceNone))
}

func TestReactionToggleNeverNegative(t *testing.T) {
	// Inconsistent server state: user liked but counter already at zero.
	odd := ReactionState{Likes: 0, Dislikes: 0, Choice: ChoiceLike}
	got := odd.Toggle(ChoiceLike)
	assert.Equal(t, 0, got.Likes)
	got = odd.Toggle(ChoiceDislike)
	assert.Equal(t, 0, got.Likes)
	assert.Equal(t, 1, got.Dislikes)
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice("dislike")
	require.NoError(t, err)
	assert.Equal(t, ChoiceDislike, c)

	_, err = ParseChoice("love")
	assert.Error(t, err)
}

func TestPostDecoding(t *testing.T) {
	raw := `{"id": 42, "author": {"id": "u1", "login": "alice"}, "content": "hi",
		"likes": 3, "dislikes": 1, "myReaction": null, "commentsCount": 2}`

	var p Post
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, ID("42"), p.ID)
	assert.Equal(t, ID("u1"), p.Author.ID)
	assert.Equal(t, "alice", p.Author.Name())
	assert.Equal(t, ReactionState{Likes: 3, Dislikes: 1}, p.Reactions())

	out, err := json.Marshal(p.WithReactions(p.Reactions().Toggle(ChoiceLike)))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"myReaction":"like"`)
	assert.Contains(t, string(out), `"likes":4`)
}

func TestSessionAuthenticated(t *testing.T) {
	assert.False(t, Session{}.Authenticated())
	assert.True(t, Session{Token: "abc"}.Authenticated())
}
