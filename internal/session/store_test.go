package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedline/internal/store"
	"feedline/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFunc func(ctx context.Context) (*types.UserProfile, error)

func (f fetcherFunc) Me(ctx context.Context) (*types.UserProfile, error) { return f(ctx) }

type exchangerFunc func(ctx context.Context, u, p string) (string, error)

func (f exchangerFunc) Token(ctx context.Context, u, p string) (string, error) { return f(ctx, u, p) }

func newTestStore(t *testing.T) (*Store, *store.MemoryStore) {
	t.Helper()
	kv := store.NewMemoryStore(store.Options{})
	return New(kv), kv
}

func persisted(t *testing.T, kv store.KV) (string, bool) {
	t.Helper()
	v, ok, err := kv.Get(context.Background(), store.ScopeSession, store.KeyAccessToken)
	require.NoError(t, err)
	return v, ok
}

func TestSetTokenPersists(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	require.NoError(t, s.SetToken(ctx, "abc"))
	v, ok := persisted(t, kv)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	assert.Equal(t, "abc", s.Token())

	require.NoError(t, s.SetToken(ctx, ""))
	_, ok = persisted(t, kv)
	assert.False(t, ok, "empty token removes the persisted key")
	assert.Empty(t, s.Token())
}

func TestSetUserDoesNotPersist(t *testing.T) {
	s, kv := newTestStore(t)
	s.SetUser(&types.UserProfile{ID: "1", Login: "alice"})
	assert.Equal(t, 0, kv.Len())
	assert.Equal(t, "alice", s.User().Login)
}

func TestLogoutResetsState(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	require.NoError(t, s.SetToken(ctx, "abc"))
	s.SetUser(&types.UserProfile{ID: "1", Login: "alice"})
	require.NoError(t, kv.Set(ctx, store.ScopeLocal, "draft", "hello"))

	require.NoError(t, s.Logout(ctx))
	want := types.Session{Initialized: true}
	assert.Empty(t, cmp.Diff(want, s.Snapshot()))
	assert.Equal(t, 0, kv.Len(), "logout clears every scope")
}

func TestLogoutFromEmptyState(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Logout(context.Background()))
	assert.Empty(t, cmp.Diff(types.Session{Initialized: true}, s.Snapshot()))
}

func TestLogoutIdempotent(t *testing.T) {
	ctx := context.Background()
	once, _ := newTestStore(t)
	twice, kv := newTestStore(t)

	for _, s := range []*Store{once, twice} {
		require.NoError(t, s.SetToken(ctx, "abc"))
		s.SetUser(&types.UserProfile{ID: "1"})
	}
	require.NoError(t, once.Logout(ctx))
	require.NoError(t, twice.Logout(ctx))
	require.NoError(t, twice.Logout(ctx))

	assert.Empty(t, cmp.Diff(once.Snapshot(), twice.Snapshot()))
	assert.Equal(t, 0, kv.Len())
}

func TestRestoreWithoutToken(t *testing.T) {
	s, _ := newTestStore(t)
	var calls int32
	s.Restore(context.Background(), fetcherFunc(func(context.Context) (*types.UserProfile, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}))

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "no network call without a token")
	assert.Empty(t, cmp.Diff(types.Session{Initialized: true}, s.Snapshot()))
}

func TestRestoreWithValidToken(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "stored"))

	profile := &types.UserProfile{ID: "7", Login: "alice", DisplayName: "Alice"}
	s.Restore(ctx, fetcherFunc(func(context.Context) (*types.UserProfile, error) {
		assert.Equal(t, "stored", s.Token(), "token is in memory before the fetch")
		return profile, nil
	}))

	want := types.Session{User: profile, Token: "stored", Initialized: true}
	assert.Empty(t, cmp.Diff(want, s.Snapshot()))
}

func TestRestoreTransientFailureKeepsToken(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "stored"))

	s.Restore(ctx, fetcherFunc(func(context.Context) (*types.UserProfile, error) {
		return nil, errors.New("connection refused")
	}))

	snap := s.Snapshot()
	assert.Equal(t, "stored", snap.Token)
	assert.Nil(t, snap.User)
	assert.True(t, snap.Initialized)
	_, ok := persisted(t, kv)
	assert.True(t, ok)
}

func TestRestoreUnauthorizedLogsOut(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "revoked"))

	s.Restore(ctx, fetcherFunc(func(ctx context.Context) (*types.UserProfile, error) {
		// What the HTTP client's 401 handler does.
		_, gen := s.TokenAndGeneration()
		s.ExpireIfCurrent(ctx, gen)
		return nil, errors.New("unauthorized")
	}))

	assert.Empty(t, cmp.Diff(types.Session{Initialized: true}, s.Snapshot()))
	_, ok := persisted(t, kv)
	assert.False(t, ok)
}

func TestRestoreRunsOnce(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "stored"))

	var calls int32
	f := fetcherFunc(func(context.Context) (*types.UserProfile, error) {
		atomic.AddInt32(&calls, 1)
		return &types.UserProfile{ID: "1"}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Restore(ctx, f)
			assert.True(t, s.Initialized(), "Restore returns only after settling")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRestoreDiscardsProfileAfterLogout(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "stored"))

	s.Restore(ctx, fetcherFunc(func(ctx context.Context) (*types.UserProfile, error) {
		require.NoError(t, s.Logout(ctx))
		return &types.UserProfile{ID: "1"}, nil
	}))
	assert.Nil(t, s.User())
	assert.Empty(t, s.Token())
	assert.True(t, s.Initialized())
}

func TestInitializedNeverReverts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	var seen []bool
	unsubscribe := s.Subscribe(func(st types.Session) { seen = append(seen, st.Initialized) })
	defer unsubscribe()

	s.Restore(ctx, fetcherFunc(func(context.Context) (*types.UserProfile, error) { return nil, nil }))
	require.NoError(t, s.SetToken(ctx, "abc"))
	s.SetUser(&types.UserProfile{ID: "1"})
	require.NoError(t, s.Logout(ctx))

	require.NotEmpty(t, seen)
	for _, v := range seen {
		assert.True(t, v)
	}
}

func TestExpireIfCurrentOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.SetToken(ctx, "abc"))
	_, gen := s.TokenAndGeneration()

	var expired int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ExpireIfCurrent(ctx, gen) {
				atomic.AddInt32(&expired, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), expired)
	assert.Empty(t, s.Token())
}

func TestExpireIgnoresOldGeneration(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.SetToken(ctx, "old"))
	_, oldGen := s.TokenAndGeneration()
	require.NoError(t, s.SetToken(ctx, "new"))

	assert.False(t, s.ExpireIfCurrent(ctx, oldGen), "a 401 for the previous token must not log out the new one")
	assert.Equal(t, "new", s.Token())
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	var got []string
	unsubscribe := s.Subscribe(func(st types.Session) { got = append(got, st.Token) })
	require.NoError(t, s.SetToken(ctx, "a"))
	require.NoError(t, s.SetToken(ctx, "b"))
	unsubscribe()
	require.NoError(t, s.SetToken(ctx, "c"))

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	u := &types.UserProfile{ID: "1", Login: "alice"}
	s.SetUser(u)
	u.Login = "mallory"

	snap := s.Snapshot()
	snap.User.Login = "eve"
	assert.Equal(t, "alice", s.User().Login)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	ex := exchangerFunc(func(_ context.Context, u, p string) (string, error) {
		if u == "alice" && p == "secret" {
			return "tok", nil
		}
		return "", errors.New("bad credentials")
	})
	me := fetcherFunc(func(context.Context) (*types.UserProfile, error) {
		return &types.UserProfile{ID: "1", Login: "alice"}, nil
	})

	_, err := s.Login(ctx, ex, me, "alice", "wrong")
	assert.Error(t, err)
	assert.Empty(t, s.Token())

	user, err := s.Login(ctx, ex, me, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Login)
	v, _ := persisted(t, kv)
	assert.Equal(t, "tok", v)
	assert.True(t, s.Initialized())
}

func TestLoginProfileFailureLogsOut(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	ex := exchangerFunc(func(context.Context, string, string) (string, error) { return "tok", nil })
	me := fetcherFunc(func(context.Context) (*types.UserProfile, error) { return nil, errors.New("boom") })

	_, err := s.Login(ctx, ex, me, "alice", "secret")
	assert.Error(t, err)
	assert.Empty(t, s.Token())
	assert.Equal(t, 0, kv.Len())

	empty := exchangerFunc(func(context.Context, string, string) (string, error) { return "", nil })
	_, err = s.Login(ctx, empty, me, "alice", "secret")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	require.NoError(t, s.SetToken(ctx, "abc"))
	s.SetUser(&types.UserProfile{ID: "1"})

	require.NoError(t, s.Reload(ctx))
	assert.NotNil(t, s.User(), "unchanged token keeps the profile")

	require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "other"))
	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, "other", s.Token())
	assert.Nil(t, s.User())

	require.NoError(t, kv.Clear(ctx))
	require.NoError(t, s.Reload(ctx))
	assert.Empty(t, cmp.Diff(types.Session{Initialized: true}, s.Snapshot()))
}

func TestFollowFileStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "session.json")

	mine, err := store.NewFileStore(path, store.Options{})
	require.NoError(t, err)
	theirs, err := store.NewFileStore(path, store.Options{})
	require.NoError(t, err)

	s := New(mine)
	require.NoError(t, s.SetToken(ctx, "abc"))

	loggedOut := make(chan struct{})
	var once sync.Once
	s.Subscribe(func(st types.Session) {
		if st.Token == "" {
			once.Do(func() { close(loggedOut) })
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Follow(ctx, mine)
	}()
	time.Sleep(100 * time.Millisecond)

	// Another process logs out.
	require.NoError(t, theirs.Clear(context.Background()))

	select {
	case <-loggedOut:
	case <-time.After(3 * time.Second):
		t.Fatal("store did not follow external logout")
	}
	cancel()
	<-done
}

func TestExpireWithoutTokenClearsStorage(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "stale"))
	require.NoError(t, kv.Set(ctx, store.ScopeLocal, "theme", "dark"))
	_, gen := s.TokenAndGeneration()

	assert.False(t, s.ExpireIfCurrent(ctx, gen), "no session to end, so no redirect")
	_, ok := persisted(t, kv)
	assert.False(t, ok)
	_, ok, err := kv.Get(ctx, store.ScopeLocal, "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpireWithoutTokenKeepsNewerLogin(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)
	_, gen := s.TokenAndGeneration()
	require.NoError(t, s.SetToken(ctx, "fresh"))

	assert.False(t, s.ExpireIfCurrent(ctx, gen))
	assert.Equal(t, "fresh", s.Token())
	v, ok := persisted(t, kv)
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestRestoreRacingLogoutNeverLeavesUserWithoutToken(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		s, kv := newTestStore(t)
		require.NoError(t, kv.Set(ctx, store.ScopeSession, store.KeyAccessToken, "stored"))

		fetched := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			<-fetched
			_ = s.Logout(ctx)
		}()
		s.Restore(ctx, fetcherFunc(func(context.Context) (*types.UserProfile, error) {
			close(fetched)
			return &types.UserProfile{ID: "1", Login: "alice"}, nil
		}))
		<-done

		snap := s.Snapshot()
		assert.Empty(t, snap.Token)
		assert.Nil(t, snap.User, "iteration %d", i)
	}
}
