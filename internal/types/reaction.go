package types

import (
	"encoding/json"
	"fmt"
)

// Choice is the current user's reaction to a post or comment.
type Choice string

const (
	ChoiceNone    Choice = ""
	ChoiceLike    Choice = "like"
	ChoiceDislike Choice = "dislike"
)

// ParseChoice parses "like" or "dislike".
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceLike, ChoiceDislike:
		return Choice(s), nil
	}
	return ChoiceNone, fmt.Errorf("unknown reaction %q (want like or dislike)", s)
}

// MarshalJSON encodes ChoiceNone as null.
func (c Choice) MarshalJSON() ([]byte, error) {
	if c == ChoiceNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON accepts null, "like" or "dislike".
func (c *Choice) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ChoiceNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Choice(s)
	return nil
}

// ReactionState holds like/dislike counters and the current user's choice.
// At most one choice is attributed to the user; counters never go negative.
type ReactionState struct {
	Likes    int
	Dislikes int
	Choice   Choice
}

// Toggle returns the state after the user requests reaction want.
// Requesting the current choice removes it; requesting the other choice
// moves the user's vote.
func (r ReactionState) Toggle(want Choice) ReactionState {
	next := r
	if want == ChoiceNone {
		return next
	}
	if r.Choice == want {
		next.dec(want)
		next.Choice = ChoiceNone
		return next
	}
	if r.Choice != ChoiceNone {
		next.dec(r.Choice)
	}
	next.inc(want)
	next.Choice = want
	return next
}

func (r *ReactionState) inc(c Choice) {
	switch c {
	case ChoiceLike:
		r.Likes++
	case ChoiceDislike:
		r.Dislikes++
	}
}

func (r *ReactionState) dec(c Choice) {
	switch c {
	case ChoiceLike:
		if r.Likes > 0 {
			r.Likes--
		}
	case ChoiceDislike:
		if r.Dislikes > 0 {
			r.Dislikes--
		}
	}
}
