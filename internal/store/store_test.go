package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func backends(t *testing.T, clock *fakeClock) map[string]KV {
	t.Helper()
	opts := Options{SessionTTL: time.Hour, Now: clock.Now}

	file, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"), opts)
	require.NoError(t, err)

	mattnOpts := opts
	mattnOpts.SQLiteDriver = DriverMattn
	mattn, err := NewSQLiteStore(":memory:", mattnOpts)
	require.NoError(t, err)

	moderncOpts := opts
	moderncOpts.SQLiteDriver = DriverModernc
	modernc, err := NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"), moderncOpts)
	require.NoError(t, err)

	kvs := map[string]KV{
		"memory":         NewMemoryStore(opts),
		"file":           file,
		"sqlite/mattn":   mattn,
		"sqlite/modernc": modernc,
	}
	t.Cleanup(func() {
		for _, kv := range kvs {
			kv.Close()
		}
	})
	return kvs
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}

	for name, kv := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get(ctx, ScopeSession, KeyAccessToken)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set(ctx, ScopeSession, KeyAccessToken, "abc"))
			v, ok, err := kv.Get(ctx, ScopeSession, KeyAccessToken)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "abc", v)

			require.NoError(t, kv.Set(ctx, ScopeSession, KeyAccessToken, "def"))
			v, _, _ = kv.Get(ctx, ScopeSession, KeyAccessToken)
			assert.Equal(t, "def", v)

			// Scopes are independent.
			_, ok, _ = kv.Get(ctx, ScopeLocal, KeyAccessToken)
			assert.False(t, ok)

			require.NoError(t, kv.Remove(ctx, ScopeSession, KeyAccessToken))
			_, ok, _ = kv.Get(ctx, ScopeSession, KeyAccessToken)
			assert.False(t, ok)

			// Removing a missing key is not an error.
			require.NoError(t, kv.Remove(ctx, ScopeSession, "missing"))

			require.NoError(t, kv.Set(ctx, ScopeSession, "a", "1"))
			require.NoError(t, kv.Set(ctx, ScopeLocal, "b", "2"))
			require.NoError(t, kv.Clear(ctx))
			_, ok, _ = kv.Get(ctx, ScopeSession, "a")
			assert.False(t, ok)
			_, ok, _ = kv.Get(ctx, ScopeLocal, "b")
			assert.False(t, ok)

			assert.Error(t, kv.Set(ctx, Scope("bogus"), "k", "v"))
		})
	}
}

func TestSessionScopeExpires(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}

	for name, kv := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Clear(ctx))
			require.NoError(t, kv.Set(ctx, ScopeSession, KeyAccessToken, "abc"))
			require.NoError(t, kv.Set(ctx, ScopeLocal, "theme", "dark"))

			clock.Advance(59 * time.Minute)
			_, ok, _ := kv.Get(ctx, ScopeSession, KeyAccessToken)
			assert.True(t, ok)

			clock.Advance(2 * time.Minute)
			_, ok, _ = kv.Get(ctx, ScopeSession, KeyAccessToken)
			assert.False(t, ok, "session entry should expire after the TTL")

			v, ok, _ := kv.Get(ctx, ScopeLocal, "theme")
			assert.True(t, ok, "local entries never expire")
			assert.Equal(t, "dark", v)
		})
	}
}

func TestFileStorePermissionsAndSharing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	a, err := NewFileStore(path, Options{})
	require.NoError(t, err)
	b, err := NewFileStore(path, Options{})
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, ScopeSession, KeyAccessToken, "abc"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second handle on the same file sees the write.
	v, ok, err := b.Get(ctx, ScopeSession, KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, b.Clear(ctx))
	_, ok, _ = a.Get(ctx, ScopeSession, KeyAccessToken)
	assert.False(t, ok)
}

func TestFileStoreCorruptFileIsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	f, err := NewFileStore(path, Options{})
	require.NoError(t, err)
	_, ok, err := f.Get(ctx, ScopeSession, KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Set(ctx, ScopeSession, KeyAccessToken, "abc"))
	v, _, _ := f.Get(ctx, ScopeSession, KeyAccessToken)
	assert.Equal(t, "abc", v)
}

func TestFileStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	path := filepath.Join(t.TempDir(), "session.json")

	watched, err := NewFileStore(path, Options{})
	require.NoError(t, err)
	other, err := NewFileStore(path, Options{})
	require.NoError(t, err)

	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- watched.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, other.Set(context.Background(), ScopeSession, KeyAccessToken, "abc"))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestSQLitePurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := NewSQLiteStore(":memory:", Options{SessionTTL: time.Minute, Now: clock.Now})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, ScopeSession, "a", "1"))
	require.NoError(t, s.Set(ctx, ScopeLocal, "b", "2"))
	clock.Advance(2 * time.Minute)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, DriverMattn, s.Driver())
}

func TestOpenSQLitePurgesExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	opts := Options{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "s.db"), SessionTTL: time.Minute, Now: clock.Now}

	kv, err := Open(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, ScopeSession, KeyAccessToken, "old"))
	require.NoError(t, kv.Set(ctx, ScopeLocal, "theme", "dark"))
	require.NoError(t, kv.Close())

	clock.Advance(2 * time.Minute)
	kv, err = Open(ctx, opts)
	require.NoError(t, err)
	defer kv.Close()

	var rows int
	require.NoError(t, kv.(*SQLiteStore).db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&rows))
	assert.Equal(t, 1, rows, "the expired session entry is gone, the local one stays")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, kv)

	kv, err = Open(ctx, Options{Backend: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, kv)
	_, isWatcher := kv.(Watcher)
	assert.True(t, isWatcher)

	kv, err = Open(ctx, Options{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	defer kv.Close()
	assert.True(t, filepath.Ext(kv.(*SQLiteStore).path) == ".db")

	_, err = Open(ctx, Options{Backend: "etcd"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "file"})
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("FEEDLINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FEEDLINE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedisStore(ctx, Options{RedisAddr: addr, RedisPrefix: "feedline-test", SessionTTL: time.Minute})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Clear(ctx))
	require.NoError(t, r.Set(ctx, ScopeSession, KeyAccessToken, "abc"))
	v, ok, err := r.Get(ctx, ScopeSession, KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	ttl, err := r.client.TTL(ctx, r.key(ScopeSession, KeyAccessToken)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	require.NoError(t, r.Clear(ctx))
	_, ok, _ = r.Get(ctx, ScopeSession, KeyAccessToken)
	assert.False(t, ok)
}

func TestRedisKeyLayout(t *testing.T) {
	r := newRedisStore(nil, Options{})
	assert.Equal(t, "feedline:session:accessToken", r.key(ScopeSession, KeyAccessToken))
}
