// Package mockapi is an in-memory implementation of the feed backend for
// development and tests. It issues HS256 tokens for seeded users, stores
// bcrypt password hashes and pushes new notifications over a WebSocket.
package mockapi

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"feedline/internal/logging"
	"feedline/internal/types"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Options configure a Server.
type Options struct {
	// Secret signs tokens; random when empty.
	Secret   []byte
	TokenTTL time.Duration
	// Seed adds demo users and posts.
	Seed bool
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// DefaultPassword is the password of every seeded user.
const DefaultPassword = "password"

// Server is an http.Handler serving the API under /api.
type Server struct {
	echo *echo.Echo
	db   *db
	hub  *hub
	ttl  time.Duration
	now  func() time.Time

	secretMu sync.RWMutex
	secret   []byte

	srvMu sync.Mutex
	srv   *http.Server
}

// New builds a server.
func New(opts Options) (*Server, error) {
	secret := opts.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		db:     newDB(now),
		hub:    newHub(),
		ttl:    opts.TokenTTL,
		now:    now,
		secret: secret,
	}
	if opts.Seed {
		if err := s.seed(); err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			logging.APIDebug("mock %s %s [%s]", c.Request().Method, c.Request().URL.Path, id)
		},
	}))
	s.echo = e
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.POST("/auth/token", s.token)

	auth := api.Group("", s.requireAuth)
	auth.GET("/user/me", s.me)
	auth.PUT("/user/me", s.updateMe)

	auth.GET("/users", s.listUsers)
	auth.GET("/users/search", s.searchUsers)
	auth.GET("/users/:id", s.getUser)
	auth.GET("/users/:id/posts", s.userPosts)
	auth.GET("/users/:id/followers", s.followers)
	auth.GET("/users/:id/following", s.following)
	auth.POST("/users/:id/follow", s.follow)
	auth.DELETE("/users/:id/follow", s.unfollow)

	auth.GET("/posts", s.feed)
	auth.POST("/posts", s.createPost)
	auth.GET("/posts/:id", s.getPost)
	auth.DELETE("/posts/:id", s.deletePost)
	auth.POST("/posts/:id/:reaction", s.reactPost)
	auth.DELETE("/posts/:id/:reaction", s.unreactPost)
	auth.GET("/posts/:id/comments", s.listComments)
	auth.POST("/posts/:id/comments", s.addComment)

	auth.DELETE("/comments/:id", s.deleteComment)
	auth.POST("/comments/:id/:reaction", s.reactComment)
	auth.DELETE("/comments/:id/:reaction", s.unreactComment)

	auth.GET("/notifications", s.listNotifications)
	auth.POST("/notifications/read-all", s.readAllNotifications)
	auth.POST("/notifications/:id/read", s.readNotification)

	auth.GET("/ws/notifications", s.notificationsSocket)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves on ln until Shutdown.
func (s *Server) Start(ln net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	s.srvMu.Lock()
	s.srv = srv
	s.srvMu.Unlock()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start and closes push sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	s.srvMu.Lock()
	srv := s.srv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// AddUser registers a user and returns its id.
func (s *Server) AddUser(login, password, displayName string) (types.ID, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.addUser(login, password, displayName, "user")
}

// AddPost publishes a post as authorID.
func (s *Server) AddPost(authorID types.ID, content string) types.ID {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.addPost(authorID, content, nil).id
}

// Notify records a notification for userID and pushes it to connected
// sockets.
func (s *Server) Notify(userID types.ID, kind, message string) types.Notification {
	s.db.mu.Lock()
	n := &types.Notification{
		ID:        s.db.newID(),
		Type:      kind,
		Message:   message,
		CreatedAt: s.now().UTC(),
		IsUnRead:  true,
	}
	s.db.notifications[userID] = append([]*types.Notification{n}, s.db.notifications[userID]...)
	out := *n
	s.db.mu.Unlock()
	s.hub.publish(userID, out)
	return out
}

// UserID returns the id of login.
func (s *Server) UserID(login string) (types.ID, bool) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, ok := s.db.logins[login]
	return id, ok
}

func (s *Server) seed() error {
	d := s.db
	d.mu.Lock()
	defer d.mu.Unlock()

	alice, err := d.addUser("alice", DefaultPassword, "Alice Liddell", "admin")
	if err != nil {
		return err
	}
	bob, err := d.addUser("bob", DefaultPassword, "Bob", "user")
	if err != nil {
		return err
	}
	carol, err := d.addUser("carol", DefaultPassword, "", "user")
	if err != nil {
		return err
	}

	d.follows[bob] = map[types.ID]bool{alice: true}
	posts := []struct {
		author  types.ID
		content string
	}{
		{alice, "<p>Hello <b>feedline</b>!</p>"},
		{bob, "First post from Bob."},
		{carol, "<p>Reading list:</p><ul><li>Go</li><li>Terminals</li></ul>"},
		{alice, `Release notes are up at <a href="https://example.com/notes">the blog</a>.`},
		{bob, "Coffee or tea?"},
	}
	for _, p := range posts {
		d.addPost(p.author, p.content, nil)
	}
	first := d.posts[len(d.posts)-1]
	first.reactions.set(bob, types.ChoiceLike)
	d.addComment(first.id, bob, "Welcome!")
	d.notify(alice, bob, "like", "Bob liked your post")
	d.notify(alice, bob, "follow", "Bob started following you")
	return nil
}
