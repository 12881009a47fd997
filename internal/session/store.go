// Package session holds the authentication state of the running client:
// the current user profile, the bearer token and whether the startup
// restore has settled. A Store is an explicit value wired into whatever
// needs it; there is no package-level instance.
package session

import (
	"context"
	"fmt"
	"sync"

	"feedline/internal/logging"
	"feedline/internal/store"
	"feedline/internal/types"
)

// Store is the session state container. All methods are safe for
// concurrent use. Listeners registered with Subscribe run outside the lock.
type Store struct {
	mu    sync.Mutex
	kv    store.KV
	state types.Session

	// gen changes whenever the token changes; requests remember the
	// generation they were sent under so only one 401 per token expires it.
	gen uint64

	restoreOnce sync.Once

	listeners map[int]func(types.Session)
	nextID    int
}

// New returns an empty, uninitialized store persisting to kv.
func New(kv store.KV) *Store {
	return &Store{kv: kv, listeners: make(map[int]func(types.Session))}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() types.Session {
	out := s.state
	if s.state.User != nil {
		u := *s.state.User
		out.User = &u
	}
	return out
}

// Token returns the current bearer token, empty when logged out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// User returns a copy of the current profile or nil.
func (s *Store) User() *types.UserProfile {
	return s.Snapshot().User
}

// Initialized reports whether the startup restore has settled.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Initialized
}

// TokenAndGeneration returns the token together with the generation it
// belongs to.
func (s *Store) TokenAndGeneration() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token, s.gen
}

// SetUser replaces the profile. The value is not validated.
func (s *Store) SetUser(user *types.UserProfile) {
	s.mu.Lock()
	if user != nil {
		u := *user
		user = &u
	}
	s.state.User = user
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SetToken updates the in-memory token and mirrors it to the session scope
// of the durable store. An empty token removes the persisted key. The
// in-memory state changes even when persistence fails.
func (s *Store) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.state.Token = token
	s.gen++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	var err error
	if token != "" {
		err = s.kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, token)
	} else {
		err = s.kv.Remove(ctx, store.ScopeSession, store.KeyAccessToken)
	}
	if err != nil {
		logging.SessionWarn("Failed to persist token: %v", err)
		err = fmt.Errorf("persist token: %w", err)
	} else {
		logging.SessionDebug("Token updated (present=%t)", token != "")
	}

	s.notify(snap)
	return err
}

// Logout clears every durable scope and resets the state to logged out.
// Calling it again has no further observable effect.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.logoutLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := s.kv.Clear(ctx)
	if err != nil {
		logging.SessionWarn("Failed to clear storage on logout: %v", err)
		err = fmt.Errorf("clear storage: %w", err)
	}
	logging.Session("Logged out")

	s.notify(snap)
	return err
}

func (s *Store) logoutLocked() {
	if s.state.Token != "" {
		s.gen++
	}
	s.state = types.Session{Initialized: true}
}

// ExpireIfCurrent logs out if gen is still the current generation and a
// token is present. It reports whether this call performed the logout, so
// that of several concurrent 401 responses only one triggers a redirect.
// A 401 sent without a token clears durable storage but reports false:
// there is no session to end. The clear runs under the lock so a token
// set concurrently is either written after it or moves gen on first.
func (s *Store) ExpireIfCurrent(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		logging.SessionDebug("Ignoring stale expiry for generation %d", gen)
		return false
	}
	if s.state.Token == "" {
		err := s.kv.Clear(ctx)
		s.mu.Unlock()
		if err != nil {
			logging.SessionWarn("Failed to clear storage after anonymous 401: %v", err)
		}
		logging.SessionDebug("401 without a token, storage cleared")
		return false
	}
	s.logoutLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.kv.Clear(ctx); err != nil {
		logging.SessionWarn("Failed to clear storage on expiry: %v", err)
	}
	logging.Session("Session expired (generation %d)", gen)

	s.notify(snap)
	return true
}

// Subscribe registers fn to receive the state after every change and
// returns a function that removes it.
func (s *Store) Subscribe(fn func(types.Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(snap types.Session) {
	s.mu.Lock()
	fns := make([]func(types.Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
