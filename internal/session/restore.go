package session

import (
	"context"
	"errors"
	"fmt"

	"feedline/internal/logging"
	"feedline/internal/store"
	"feedline/internal/types"
)

// UserFetcher loads the profile of the token's owner (GET /user/me).
type UserFetcher interface {
	Me(ctx context.Context) (*types.UserProfile, error)
}

// TokenExchanger trades credentials for a bearer token.
type TokenExchanger interface {
	Token(ctx context.Context, username, password string) (string, error)
}

// Restore runs the startup sequence once per store. Later calls return
// immediately (after the first has finished). Initialized is true when it
// returns, whatever the outcome:
//   - no persisted token: no network call;
//   - profile fetched: user stored;
//   - fetch failed with a 401: the client's expiry path has already logged out;
//   - any other failure: the token is kept, the user stays unset.
func (s *Store) Restore(ctx context.Context, fetcher UserFetcher) {
	s.restoreOnce.Do(func() {
		timer := logging.StartTimer(logging.CategorySession, "Restore")
		defer timer.Stop()
		s.restore(ctx, fetcher)
		s.markInitialized()
	})
}

func (s *Store) restore(ctx context.Context, fetcher UserFetcher) {
	token, ok, err := s.kv.Get(ctx, store.ScopeSession, store.KeyAccessToken)
	if err != nil {
		logging.SessionWarn("Failed to read persisted token: %v", err)
		return
	}
	if !ok || token == "" {
		logging.Session("No persisted token")
		return
	}

	s.mu.Lock()
	s.state.Token = token
	s.gen++
	gen := s.gen
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	logging.Session("Restored persisted token, fetching profile")

	user, err := fetcher.Me(ctx)
	if err != nil {
		if s.Token() == "" {
			logging.Session("Persisted token rejected")
		} else {
			logging.SessionWarn("Profile fetch failed, keeping token: %v", err)
		}
		return
	}

	// A concurrent logout or token change wins over this result.
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		logging.SessionDebug("Discarding restored profile for stale generation %d", gen)
		return
	}
	if user != nil {
		u := *user
		user = &u
	}
	s.state.User = user
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) markInitialized() {
	s.mu.Lock()
	if s.state.Initialized {
		s.mu.Unlock()
		return
	}
	s.state.Initialized = true
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// ErrNoToken is returned by Login when the exchange yields an empty token.
var ErrNoToken = errors.New("session: server returned no access token")

// Login exchanges credentials for a token, persists it and loads the
// profile. When the profile cannot be loaded the session is logged out
// again and the fetch error returned.
func (s *Store) Login(ctx context.Context, ex TokenExchanger, fetcher UserFetcher, username, password string) (*types.UserProfile, error) {
	token, err := ex.Token(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if token == "" {
		return nil, ErrNoToken
	}
	if err := s.SetToken(ctx, token); err != nil {
		logging.SessionWarn("Token not persisted: %v", err)
	}

	user, err := fetcher.Me(ctx)
	if err != nil {
		_ = s.Logout(ctx)
		return nil, fmt.Errorf("load profile: %w", err)
	}
	s.SetUser(user)
	s.markInitialized()
	logging.Session("Logged in as %s", user.Login)
	return s.User(), nil
}
