package mockapi

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"feedline/internal/types"

	"golang.org/x/crypto/bcrypt"
)

type userRec struct {
	profile types.UserProfile
	hash    []byte
}

type reactionRec struct {
	likes, dislikes int
	by              map[types.ID]types.Choice
}

func newReactions() reactionRec {
	return reactionRec{by: make(map[types.ID]types.Choice)}
}

// set moves userID's reaction to c and returns the previous one.
func (r *reactionRec) set(userID types.ID, c types.Choice) types.Choice {
	prev := r.by[userID]
	if prev == c {
		return prev
	}
	switch prev {
	case types.ChoiceLike:
		r.likes--
	case types.ChoiceDislike:
		r.dislikes--
	}
	switch c {
	case types.ChoiceLike:
		r.likes++
	case types.ChoiceDislike:
		r.dislikes++
	}
	if c == types.ChoiceNone {
		delete(r.by, userID)
	} else {
		r.by[userID] = c
	}
	return prev
}

type postRec struct {
	id        types.ID
	authorID  types.ID
	content   string
	media     []string
	createdAt time.Time
	reactions reactionRec
}

type commentRec struct {
	id        types.ID
	postID    types.ID
	authorID  types.ID
	content   string
	createdAt time.Time
	reactions reactionRec
}

// db is the in-memory backend state. All access holds mu.
type db struct {
	mu sync.Mutex

	nextID        int
	users         map[types.ID]*userRec
	logins        map[string]types.ID
	posts         []*postRec // newest first
	comments      map[types.ID][]*commentRec
	follows       map[types.ID]map[types.ID]bool // follower -> followee
	notifications map[types.ID][]*types.Notification
	now           func() time.Time
}

func newDB(now func() time.Time) *db {
	return &db{
		users:         make(map[types.ID]*userRec),
		logins:        make(map[string]types.ID),
		comments:      make(map[types.ID][]*commentRec),
		follows:       make(map[types.ID]map[types.ID]bool),
		notifications: make(map[types.ID][]*types.Notification),
		now:           now,
	}
}

func (d *db) newID() types.ID {
	d.nextID++
	return types.IDFromInt(int64(d.nextID))
}

func (d *db) addUser(login, password, displayName, role string) (types.ID, error) {
	if _, exists := d.logins[login]; exists {
		return "", fmt.Errorf("login %q taken", login)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	id := d.newID()
	d.users[id] = &userRec{
		profile: types.UserProfile{
			ID:          id,
			Login:       login,
			DisplayName: displayName,
			Role:        role,
			Avatar:      "avatars/" + login + ".png",
		},
		hash: hash,
	}
	d.logins[login] = id
	return id, nil
}

func (d *db) authenticate(login, password string) (types.ID, bool) {
	id, ok := d.logins[login]
	if !ok {
		return "", false
	}
	if bcrypt.CompareHashAndPassword(d.users[id].hash, []byte(password)) != nil {
		return "", false
	}
	return id, true
}

// profile renders a user as seen by viewer.
func (d *db) profile(id, viewer types.ID) (types.UserProfile, bool) {
	u, ok := d.users[id]
	if !ok {
		return types.UserProfile{}, false
	}
	p := u.profile
	for follower, followees := range d.follows {
		if followees[id] {
			p.FollowersCount++
			if follower == viewer {
				p.IsFollowing = true
			}
		}
	}
	p.FollowingCount = len(d.follows[id])
	return p, true
}

func (d *db) post(p *postRec, viewer types.ID) types.Post {
	author, _ := d.profile(p.authorID, viewer)
	return types.Post{
		ID:            p.id,
		Author:        author,
		Content:       p.content,
		Media:         p.media,
		CreatedAt:     p.createdAt,
		Likes:         p.reactions.likes,
		Dislikes:      p.reactions.dislikes,
		MyReaction:    p.reactions.by[viewer],
		CommentsCount: len(d.comments[p.id]),
	}
}

func (d *db) comment(c *commentRec, viewer types.ID) types.Comment {
	author, _ := d.profile(c.authorID, viewer)
	return types.Comment{
		ID:         c.id,
		PostID:     c.postID,
		Author:     author,
		Content:    c.content,
		CreatedAt:  c.createdAt,
		Likes:      c.reactions.likes,
		Dislikes:   c.reactions.dislikes,
		MyReaction: c.reactions.by[viewer],
	}
}

func (d *db) findPost(id types.ID) (*postRec, int) {
	for i, p := range d.posts {
		if p.id == id {
			return p, i
		}
	}
	return nil, -1
}

func (d *db) findComment(id types.ID) (*commentRec, int) {
	for _, list := range d.comments {
		for i, c := range list {
			if c.id == id {
				return c, i
			}
		}
	}
	return nil, -1
}

func (d *db) addPost(authorID types.ID, content string, media []string) *postRec {
	p := &postRec{
		id:        d.newID(),
		authorID:  authorID,
		content:   content,
		media:     media,
		createdAt: d.now().UTC(),
		reactions: newReactions(),
	}
	d.posts = append([]*postRec{p}, d.posts...)
	return p
}

func (d *db) addComment(postID, authorID types.ID, content string) *commentRec {
	c := &commentRec{
		id:        d.newID(),
		postID:    postID,
		authorID:  authorID,
		content:   content,
		createdAt: d.now().UTC(),
		reactions: newReactions(),
	}
	d.comments[postID] = append(d.comments[postID], c)
	return c
}

// notify records a notification for userID and returns it. Actions on
// one's own content produce nothing.
func (d *db) notify(userID, senderID types.ID, kind, message string) *types.Notification {
	if userID == senderID {
		return nil
	}
	var sender *types.UserProfile
	if p, ok := d.profile(senderID, userID); ok {
		sender = &p
	}
	n := &types.Notification{
		ID:        d.newID(),
		Type:      kind,
		Sender:    sender,
		Message:   message,
		CreatedAt: d.now().UTC(),
		IsUnRead:  true,
	}
	d.notifications[userID] = append([]*types.Notification{n}, d.notifications[userID]...)
	return n
}

func (d *db) searchUsers(q string, viewer types.ID) []types.UserProfile {
	q = strings.ToLower(q)
	var out []types.UserProfile
	for id, u := range d.users {
		if strings.Contains(strings.ToLower(u.profile.Login), q) ||
			strings.Contains(strings.ToLower(u.profile.DisplayName), q) {
			p, _ := d.profile(id, viewer)
			out = append(out, p)
		}
	}
	sortProfiles(out)
	return out
}

func (d *db) allUsers(viewer types.ID) []types.UserProfile {
	out := make([]types.UserProfile, 0, len(d.users))
	for id := range d.users {
		p, _ := d.profile(id, viewer)
		out = append(out, p)
	}
	sortProfiles(out)
	return out
}

func sortProfiles(ps []types.UserProfile) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Login < ps[j].Login })
}

// paginate returns the 1-based page of items.
func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
