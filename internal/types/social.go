package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ID is an entity identifier. Backends emit both numeric and string ids;
// both decode into the same string form.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a string.
func (id ID) String() string { return string(id) }

// IDFromInt formats an integer id.
func IDFromInt(n int64) ID { return ID(strconv.FormatInt(n, 10)) }

// UserProfile is passed through from the backend without validation.
// Optional fields default to their zero values.
type UserProfile struct {
	ID             ID     `json:"id"`
	Login          string `json:"login"`
	DisplayName    string `json:"displayName,omitempty"`
	Role           string `json:"role,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
	Bio            string `json:"bio,omitempty"`
	FollowersCount int    `json:"followersCount,omitempty"`
	FollowingCount int    `json:"followingCount,omitempty"`
	IsFollowing    bool   `json:"isFollowing,omitempty"`
}

// Key identifies the user in paged lists.
func (u UserProfile) Key() string { return string(u.ID) }

// Name returns the display name, falling back to the login.
func (u UserProfile) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Login
}

// Post is a feed entry.
type Post struct {
	ID            ID          `json:"id"`
	Author        UserProfile `json:"author"`
	Content       string      `json:"content"`
	Media         []string    `json:"media,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	Likes         int         `json:"likes"`
	Dislikes      int         `json:"dislikes"`
	MyReaction    Choice      `json:"myReaction"`
	CommentsCount int         `json:"commentsCount"`
}

// Key implements paging.Keyed.
func (p Post) Key() string { return string(p.ID) }

// Reactions returns the post's reaction counters.
func (p Post) Reactions() ReactionState {
	return ReactionState{Likes: p.Likes, Dislikes: p.Dislikes, Choice: p.MyReaction}
}

// WithReactions returns a copy of p carrying rs.
func (p Post) WithReactions(rs ReactionState) Post {
	p.Likes, p.Dislikes, p.MyReaction = rs.Likes, rs.Dislikes, rs.Choice
	return p
}

// Comment belongs to a post.
type Comment struct {
	ID         ID          `json:"id"`
	PostID     ID          `json:"postId"`
	Author     UserProfile `json:"author"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"createdAt"`
	Likes      int         `json:"likes"`
	Dislikes   int         `json:"dislikes"`
	MyReaction Choice      `json:"myReaction"`

	// Pending marks a comment that exists only locally while its create
	// request is in flight.
	Pending bool `json:"-"`
}

// Key implements paging.Keyed.
func (c Comment) Key() string { return string(c.ID) }

// Reactions returns the comment's reaction counters.
func (c Comment) Reactions() ReactionState {
	return ReactionState{Likes: c.Likes, Dislikes: c.Dislikes, Choice: c.MyReaction}
}

// WithReactions returns a copy of c carrying rs.
func (c Comment) WithReactions(rs ReactionState) Comment {
	c.Likes, c.Dislikes, c.MyReaction = rs.Likes, rs.Dislikes, rs.Choice
	return c
}

// Notification is an event addressed to the current user.
type Notification struct {
	ID        ID           `json:"id"`
	Type      string       `json:"type"` // like, comment, follow, mention
	Sender    *UserProfile `json:"sender,omitempty"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"createdAt"`
	IsUnRead  bool         `json:"isUnRead"`
}

// Key implements paging.Keyed.
func (n Notification) Key() string { return string(n.ID) }

// Page is one slice of a server-paginated collection.
type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total,omitempty"`
}

// Session is the authentication state held by the session store.
// An empty Token means no authenticated request may be attempted.
type Session struct {
	User        *UserProfile
	Token       string
	Initialized bool
}

// Authenticated reports whether a token is present.
func (s Session) Authenticated() bool { return s.Token != "" }
