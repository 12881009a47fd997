package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"feedline/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAPI struct {
	mu      sync.Mutex
	history []types.Notification
	failAll bool
	failOne bool
	read    []types.ID
	readAll int
}

func (f *fakeAPI) Notifications(_ context.Context, page, limit int) (types.Page[types.Notification], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := (page - 1) * limit
	if start >= len(f.history) {
		return types.Page[types.Notification]{}, nil
	}
	end := start + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	return types.Page[types.Notification]{Items: f.history[start:end]}, nil
}

func (f *fakeAPI) MarkNotificationRead(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOne {
		return errors.New("boom")
	}
	f.read = append(f.read, id)
	return nil
}

func (f *fakeAPI) MarkAllNotificationsRead(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("boom")
	}
	f.readAll++
	return nil
}

func note(id string, unread bool) types.Notification {
	return types.Notification{ID: types.ID(id), Type: "like", Message: "m" + id, IsUnRead: unread}
}

func ids(ns []types.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n.ID)
	}
	return out
}

func TestPushPrependsInReceiptOrder(t *testing.T) {
	api := &fakeAPI{history: []types.Notification{note("h1", false), note("h2", true)}}
	c := NewCenter(api, 10)
	_, err := c.LoadMore(context.Background())
	require.NoError(t, err)

	c.Push(note("p1", true))
	c.Push(note("p2", true))
	// Same id as history: kept, no dedup between live and history.
	c.Push(note("h1", true))

	assert.Equal(t, []string{"h1", "p2", "p1", "h1", "h2"}, ids(c.Items()))
	assert.Equal(t, 4, c.UnreadCount())
	assert.Equal(t, []string{"h1", "p2", "p1"}, ids(c.Live()))
	assert.False(t, c.HasMore())
}

func TestMarkRead(t *testing.T) {
	api := &fakeAPI{history: []types.Notification{note("h1", true)}}
	c := NewCenter(api, 10)
	_, _ = c.LoadMore(context.Background())
	c.Push(note("p1", true))

	changes := 0
	c.OnChange(func() { changes++ })

	require.NoError(t, c.MarkRead(context.Background(), "p1"))
	assert.Equal(t, 1, c.UnreadCount())
	assert.Equal(t, []types.ID{"p1"}, api.read)
	assert.Equal(t, 1, changes)

	require.NoError(t, c.MarkRead(context.Background(), "h1"))
	assert.Zero(t, c.UnreadCount())
}

func TestMarkReadRollback(t *testing.T) {
	api := &fakeAPI{history: []types.Notification{note("h1", true)}, failOne: true}
	c := NewCenter(api, 10)
	_, _ = c.LoadMore(context.Background())
	before := c.Items()

	err := c.MarkRead(context.Background(), "h1")
	assert.Error(t, err)
	assert.Equal(t, before, c.Items())
	assert.Equal(t, 1, c.UnreadCount())
}

func TestMarkAllRead(t *testing.T) {
	api := &fakeAPI{history: []types.Notification{note("h1", true), note("h2", false)}}
	c := NewCenter(api, 10)
	_, _ = c.LoadMore(context.Background())
	c.Push(note("p1", true))

	require.NoError(t, c.MarkAllRead(context.Background()))
	assert.Zero(t, c.UnreadCount())
	assert.Equal(t, 1, api.readAll)
}

func TestMarkAllReadRollback(t *testing.T) {
	api := &fakeAPI{history: []types.Notification{note("h1", true), note("h2", false)}, failAll: true}
	c := NewCenter(api, 10)
	_, _ = c.LoadMore(context.Background())
	c.Push(note("p1", true))
	c.Push(note("p2", false))
	before := c.Items()

	assert.Error(t, c.MarkAllRead(context.Background()))
	assert.Equal(t, before, c.Items(), "only the flags that were changed are restored")
}

func TestRestoreFollowsShiftedLiveEntries(t *testing.T) {
	api := &fakeAPI{}
	c := NewCenter(api, 10)
	c.Push(note("p1", true))

	flipped := c.setRead(func(n types.Notification) bool { return n.IsUnRead })
	c.Push(note("p2", false))
	c.restore(flipped)

	items := c.Items()
	assert.Equal(t, []string{"p2", "p1"}, ids(items))
	assert.False(t, items[0].IsUnRead)
	assert.True(t, items[1].IsUnRead)
}

func TestRestoreIgnoresDuplicatePushedDuringRequest(t *testing.T) {
	api := &fakeAPI{}
	c := NewCenter(api, 10)
	c.Push(note("p1", true))

	flipped := c.setRead(func(n types.Notification) bool { return n.ID == "p1" && n.IsUnRead })
	c.Push(note("p1", false))
	c.restore(flipped)

	items := c.Items()
	require.Equal(t, []string{"p1", "p1"}, ids(items))
	assert.False(t, items[0].IsUnRead, "the newer copy keeps its own flag")
	assert.True(t, items[1].IsUnRead, "the copy that was flipped gets its flag back")
}
