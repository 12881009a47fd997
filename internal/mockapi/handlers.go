package mockapi

import (
	"net/http"
	"strconv"
	"strings"

	"feedline/internal/types"

	"github.com/labstack/echo/v4"
)

type pageBody[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

func pageParams(c echo.Context) (int, int) {
	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func respondPage[T any](c echo.Context, all []T) error {
	page, limit := pageParams(c)
	return c.JSON(http.StatusOK, pageBody[T]{
		Items: paginate(all, page, limit),
		Page:  page,
		Limit: limit,
		Total: len(all),
	})
}

func notFound(c echo.Context, what string) error {
	return c.JSON(http.StatusNotFound, echo.Map{"message": what + " not found"})
}

func parseReaction(c echo.Context) (types.Choice, bool) {
	ch, err := types.ParseChoice(c.Param("reaction"))
	return ch, err == nil
}

// users

func (s *Server) me(c echo.Context) error {
	return s.respondUser(c, currentUser(c))
}

func (s *Server) getUser(c echo.Context) error {
	return s.respondUser(c, types.ID(c.Param("id")))
}

func (s *Server) respondUser(c echo.Context, id types.ID) error {
	s.db.mu.Lock()
	p, ok := s.db.profile(id, currentUser(c))
	s.db.mu.Unlock()
	if !ok {
		return notFound(c, "user")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) updateMe(c echo.Context) error {
	var in struct {
		DisplayName string `json:"displayName"`
		Bio         string `json:"bio"`
		Avatar      string `json:"avatar"`
	}
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid body"})
	}
	me := currentUser(c)
	s.db.mu.Lock()
	u := s.db.users[me]
	if in.DisplayName != "" {
		u.profile.DisplayName = in.DisplayName
	}
	if in.Bio != "" {
		u.profile.Bio = in.Bio
	}
	if in.Avatar != "" {
		u.profile.Avatar = in.Avatar
	}
	p, _ := s.db.profile(me, me)
	s.db.mu.Unlock()
	return c.JSON(http.StatusOK, p)
}

func (s *Server) listUsers(c echo.Context) error {
	s.db.mu.Lock()
	all := s.db.allUsers(currentUser(c))
	s.db.mu.Unlock()
	return respondPage(c, all)
}

func (s *Server) searchUsers(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return respondPage(c, []types.UserProfile{})
	}
	s.db.mu.Lock()
	found := s.db.searchUsers(q, currentUser(c))
	s.db.mu.Unlock()
	return respondPage(c, found)
}

func (s *Server) followers(c echo.Context) error {
	return s.followList(c, true)
}

func (s *Server) following(c echo.Context) error {
	return s.followList(c, false)
}

func (s *Server) followList(c echo.Context, followers bool) error {
	target := types.ID(c.Param("id"))
	viewer := currentUser(c)
	s.db.mu.Lock()
	if _, ok := s.db.users[target]; !ok {
		s.db.mu.Unlock()
		return notFound(c, "user")
	}
	var out []types.UserProfile
	if followers {
		for follower, followees := range s.db.follows {
			if followees[target] {
				p, _ := s.db.profile(follower, viewer)
				out = append(out, p)
			}
		}
	} else {
		for followee := range s.db.follows[target] {
			p, _ := s.db.profile(followee, viewer)
			out = append(out, p)
		}
	}
	s.db.mu.Unlock()
	sortProfiles(out)
	if out == nil {
		out = []types.UserProfile{}
	}
	return respondPage(c, out)
}

func (s *Server) follow(c echo.Context) error {
	target := types.ID(c.Param("id"))
	me := currentUser(c)
	if target == me {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "cannot follow yourself"})
	}
	s.db.mu.Lock()
	if _, ok := s.db.users[target]; !ok {
		s.db.mu.Unlock()
		return notFound(c, "user")
	}
	if s.db.follows[me] == nil {
		s.db.follows[me] = make(map[types.ID]bool)
	}
	var n *types.Notification
	if !s.db.follows[me][target] {
		s.db.follows[me][target] = true
		n = s.db.notify(target, me, "follow", s.db.users[me].profile.Name()+" started following you")
	}
	s.db.mu.Unlock()
	s.push(target, n)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) unfollow(c echo.Context) error {
	target := types.ID(c.Param("id"))
	me := currentUser(c)
	s.db.mu.Lock()
	delete(s.db.follows[me], target)
	s.db.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

// posts

func (s *Server) feed(c echo.Context) error {
	viewer := currentUser(c)
	s.db.mu.Lock()
	all := make([]types.Post, 0, len(s.db.posts))
	for _, p := range s.db.posts {
		all = append(all, s.db.post(p, viewer))
	}
	s.db.mu.Unlock()
	return respondPage(c, all)
}

func (s *Server) userPosts(c echo.Context) error {
	author := types.ID(c.Param("id"))
	viewer := currentUser(c)
	s.db.mu.Lock()
	if _, ok := s.db.users[author]; !ok {
		s.db.mu.Unlock()
		return notFound(c, "user")
	}
	all := []types.Post{}
	for _, p := range s.db.posts {
		if p.authorID == author {
			all = append(all, s.db.post(p, viewer))
		}
	}
	s.db.mu.Unlock()
	return respondPage(c, all)
}

func (s *Server) getPost(c echo.Context) error {
	viewer := currentUser(c)
	s.db.mu.Lock()
	p, _ := s.db.findPost(types.ID(c.Param("id")))
	if p == nil {
		s.db.mu.Unlock()
		return notFound(c, "post")
	}
	out := s.db.post(p, viewer)
	s.db.mu.Unlock()
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createPost(c echo.Context) error {
	var in struct {
		Content string   `json:"content"`
		Media   []string `json:"media"`
	}
	if err := c.Bind(&in); err != nil || strings.TrimSpace(in.Content) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "content required"})
	}
	me := currentUser(c)
	s.db.mu.Lock()
	p := s.db.addPost(me, in.Content, in.Media)
	out := s.db.post(p, me)
	s.db.mu.Unlock()
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) deletePost(c echo.Context) error {
	me := currentUser(c)
	id := types.ID(c.Param("id"))
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, i := s.db.findPost(id)
	if p == nil {
		return notFound(c, "post")
	}
	if p.authorID != me {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "not your post"})
	}
	s.db.posts = append(s.db.posts[:i], s.db.posts[i+1:]...)
	delete(s.db.comments, id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reactPost(c echo.Context) error   { return s.setPostReaction(c, true) }
func (s *Server) unreactPost(c echo.Context) error { return s.setPostReaction(c, false) }

func (s *Server) setPostReaction(c echo.Context, on bool) error {
	choice, ok := parseReaction(c)
	if !ok {
		return notFound(c, "route")
	}
	me := currentUser(c)
	s.db.mu.Lock()
	p, _ := s.db.findPost(types.ID(c.Param("id")))
	if p == nil {
		s.db.mu.Unlock()
		return notFound(c, "post")
	}
	var n *types.Notification
	if on {
		if prev := p.reactions.set(me, choice); prev != choice && choice == types.ChoiceLike {
			n = s.db.notify(p.authorID, me, "like", s.db.users[me].profile.Name()+" liked your post")
		}
	} else if p.reactions.by[me] == choice {
		p.reactions.set(me, types.ChoiceNone)
	}
	out := s.db.post(p, me)
	author := p.authorID
	s.db.mu.Unlock()
	s.push(author, n)
	return c.JSON(http.StatusOK, out)
}

// comments

func (s *Server) listComments(c echo.Context) error {
	viewer := currentUser(c)
	postID := types.ID(c.Param("id"))
	s.db.mu.Lock()
	if p, _ := s.db.findPost(postID); p == nil {
		s.db.mu.Unlock()
		return notFound(c, "post")
	}
	// Newest first, like the feed.
	list := s.db.comments[postID]
	all := make([]types.Comment, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		all = append(all, s.db.comment(list[i], viewer))
	}
	s.db.mu.Unlock()
	return respondPage(c, all)
}

func (s *Server) addComment(c echo.Context) error {
	var in struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&in); err != nil || strings.TrimSpace(in.Content) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "content required"})
	}
	me := currentUser(c)
	postID := types.ID(c.Param("id"))
	s.db.mu.Lock()
	p, _ := s.db.findPost(postID)
	if p == nil {
		s.db.mu.Unlock()
		return notFound(c, "post")
	}
	cm := s.db.addComment(postID, me, in.Content)
	n := s.db.notify(p.authorID, me, "comment", s.db.users[me].profile.Name()+" commented on your post")
	out := s.db.comment(cm, me)
	author := p.authorID
	s.db.mu.Unlock()
	s.push(author, n)
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) deleteComment(c echo.Context) error {
	me := currentUser(c)
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cm, i := s.db.findComment(types.ID(c.Param("id")))
	if cm == nil {
		return notFound(c, "comment")
	}
	if cm.authorID != me {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "not your comment"})
	}
	list := s.db.comments[cm.postID]
	s.db.comments[cm.postID] = append(list[:i], list[i+1:]...)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reactComment(c echo.Context) error   { return s.setCommentReaction(c, true) }
func (s *Server) unreactComment(c echo.Context) error { return s.setCommentReaction(c, false) }

func (s *Server) setCommentReaction(c echo.Context, on bool) error {
	choice, ok := parseReaction(c)
	if !ok {
		return notFound(c, "route")
	}
	me := currentUser(c)
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cm, _ := s.db.findComment(types.ID(c.Param("id")))
	if cm == nil {
		return notFound(c, "comment")
	}
	if on {
		cm.reactions.set(me, choice)
	} else if cm.reactions.by[me] == choice {
		cm.reactions.set(me, types.ChoiceNone)
	}
	return c.JSON(http.StatusOK, s.db.comment(cm, me))
}

// notifications

func (s *Server) listNotifications(c echo.Context) error {
	me := currentUser(c)
	s.db.mu.Lock()
	list := s.db.notifications[me]
	all := make([]types.Notification, len(list))
	for i, n := range list {
		all[i] = *n
	}
	s.db.mu.Unlock()
	return respondPage(c, all)
}

func (s *Server) readNotification(c echo.Context) error {
	me := currentUser(c)
	id := types.ID(c.Param("id"))
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, n := range s.db.notifications[me] {
		if n.ID == id {
			n.IsUnRead = false
			return c.NoContent(http.StatusNoContent)
		}
	}
	return notFound(c, "notification")
}

func (s *Server) readAllNotifications(c echo.Context) error {
	me := currentUser(c)
	s.db.mu.Lock()
	for _, n := range s.db.notifications[me] {
		n.IsUnRead = false
	}
	s.db.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) push(userID types.ID, n *types.Notification) {
	if n != nil {
		s.hub.publish(userID, *n)
	}
}
