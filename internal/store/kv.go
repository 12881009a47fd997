// Package store provides the durable key/value storage behind the session
// store. Values live in one of two scopes: session entries carry a TTL and
// survive a restart of the client but not the end of the login session,
// local entries never expire.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"feedline/internal/logging"
)

// Scope selects the lifetime of a stored entry.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeLocal   Scope = "local"
)

// Scopes lists every scope in clearing order.
var Scopes = []Scope{ScopeSession, ScopeLocal}

// KeyAccessToken is the only session-scoped key the session store writes.
const KeyAccessToken = "accessToken"

// DefaultSessionTTL applies when Options.SessionTTL is zero.
const DefaultSessionTTL = 12 * time.Hour

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("store: closed")

// KV is a scoped durable key/value store.
type KV interface {
	// Get returns the value and whether it was present and unexpired.
	Get(ctx context.Context, scope Scope, key string) (string, bool, error)
	Set(ctx context.Context, scope Scope, key, value string) error
	Remove(ctx context.Context, scope Scope, key string) error
	// Clear removes every entry in every scope.
	Clear(ctx context.Context) error
	Close() error
}

// Watcher is implemented by backends that can report changes made by
// other processes.
type Watcher interface {
	// Watch calls onChange after the underlying storage changes until ctx
	// is cancelled.
	Watch(ctx context.Context, onChange func()) error
}

// Options selects and configures a backend.
type Options struct {
	Backend      string // file, sqlite, redis, memory
	Path         string // file and sqlite backends
	SQLiteDriver string // sqlite3 (mattn) or sqlite (modernc)
	SessionTTL   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
	RedisPrefix   string

	// Now overrides the clock; tests only.
	Now func() time.Time
}

func (o Options) ttl() time.Duration {
	if o.SessionTTL <= 0 {
		return DefaultSessionTTL
	}
	return o.SessionTTL
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (KV, error) {
	logging.Store("Opening %s backend", opts.Backend)
	switch opts.Backend {
	case "", "file":
		if opts.Path == "" {
			return nil, fmt.Errorf("file backend: path required")
		}
		return NewFileStore(opts.Path, opts)
	case "sqlite":
		path := opts.Path
		if filepath.Ext(path) == ".json" {
			path = path[:len(path)-len(".json")] + ".db"
		}
		s, err := NewSQLiteStore(path, opts)
		if err != nil {
			return nil, err
		}
		if n, err := s.PurgeExpired(ctx); err != nil {
			logging.StoreDebug("Failed to purge expired entries: %v", err)
		} else if n > 0 {
			logging.Store("Purged %d expired entries (driver %s)", n, s.Driver())
		}
		return s, nil
	case "redis":
		return NewRedisStore(ctx, opts)
	case "memory":
		return NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func checkScope(scope Scope) error {
	switch scope {
	case ScopeSession, ScopeLocal:
		return nil
	}
	return fmt.Errorf("unknown scope %q", scope)
}

// entry is the shared in-memory representation used by the memory and
// file backends.
type entry struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (e entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

func newEntry(scope Scope, value string, opts Options) entry {
	e := entry{Value: value}
	if scope == ScopeSession {
		exp := opts.now().Add(opts.ttl())
		e.ExpiresAt = &exp
	}
	return e
}
