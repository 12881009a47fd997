package session

import (
	"context"

	"feedline/internal/logging"
	"feedline/internal/store"
)

// Reload re-reads the persisted token and adopts it when it differs from
// the in-memory one. A token removed elsewhere logs this store out; a new
// token replaces the current one and drops the cached profile.
func (s *Store) Reload(ctx context.Context) error {
	token, ok, err := s.kv.Get(ctx, store.ScopeSession, store.KeyAccessToken)
	if err != nil {
		return err
	}
	if !ok {
		token = ""
	}

	s.mu.Lock()
	if token == s.state.Token {
		s.mu.Unlock()
		return nil
	}
	if token == "" {
		s.logoutLocked()
	} else {
		s.state.Token = token
		s.state.User = nil
		s.gen++
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logging.Session("Token changed externally (present=%t)", token != "")
	s.notify(snap)
	return nil
}

// Follow keeps the store in step with changes other processes make to w
// until ctx is cancelled.
func (s *Store) Follow(ctx context.Context, w store.Watcher) error {
	return w.Watch(ctx, func() {
		if err := s.Reload(ctx); err != nil {
			logging.SessionWarn("Reload after external change failed: %v", err)
		}
	})
}
