// Package paging accumulates a server-paginated collection for infinite
// scrolling: each LoadMore fetches the next page and merges it by id.
package paging

import (
	"context"
	"sync"

	"feedline/internal/logging"
	"feedline/internal/types"

	"github.com/google/go-cmp/cmp"
)

// Keyed items expose a unique id.
type Keyed interface {
	Key() string
}

// Fetcher loads one page (1-based) of at most limit items.
type Fetcher[T any] func(ctx context.Context, page, limit int) (types.Page[T], error)

// State is a point-in-time copy of a Loader.
type State[T any] struct {
	Items     []T
	Page      int
	HasMore   bool
	IsLoading bool
}

// DefaultPageSize is used when New is given a non-positive size.
const DefaultPageSize = 10

// Loader is safe for concurrent use.
type Loader[T Keyed] struct {
	mu       sync.Mutex
	fetch    Fetcher[T]
	pageSize int

	items   []T
	index   map[string]int
	page    int
	hasMore bool
	loading bool

	// epoch changes on Reset so that responses for the old list are dropped.
	epoch uint64
}

// New returns an empty loader that has not fetched anything yet.
func New[T Keyed](fetch Fetcher[T], pageSize int) *Loader[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader[T]{
		fetch:    fetch,
		pageSize: pageSize,
		index:    make(map[string]int),
		hasMore:  true,
	}
}

// PageSize returns the requested page size.
func (l *Loader[T]) PageSize() int { return l.pageSize }

// State returns a copy of the current state.
func (l *Loader[T]) State() State[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]T, len(l.items))
	copy(items, l.items)
	return State[T]{Items: items, Page: l.page, HasMore: l.hasMore, IsLoading: l.loading}
}

// Items returns a copy of the loaded items.
func (l *Loader[T]) Items() []T { return l.State().Items }

// Len returns the number of loaded items.
func (l *Loader[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// LoadMore fetches the next page. It does nothing and returns false when a
// fetch is already running or the last page has been seen. A page shorter
// than the page size (or empty) ends the collection. Results arriving after
// ctx is cancelled or after a Reset are discarded.
func (l *Loader[T]) LoadMore(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.loading || !l.hasMore {
		l.mu.Unlock()
		return false, nil
	}
	l.loading = true
	next := l.page + 1
	epoch := l.epoch
	l.mu.Unlock()

	logging.FeedDebug("Fetching page %d (limit %d)", next, l.pageSize)
	page, err := l.fetch(ctx, next, l.pageSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.epoch != epoch {
		logging.FeedDebug("Dropping page %d fetched before reset", next)
		return false, nil
	}
	l.loading = false
	if err != nil {
		logging.FeedWarn("Page %d failed: %v", next, err)
		return false, err
	}
	if ctx.Err() != nil {
		logging.FeedDebug("Dropping page %d, caller gone", next)
		return false, ctx.Err()
	}

	added := 0
	for _, item := range page.Items {
		if _, dup := l.index[item.Key()]; dup {
			continue
		}
		l.index[item.Key()] = len(l.items)
		l.items = append(l.items, item)
		added++
	}
	l.page = next
	if len(page.Items) < l.pageSize {
		l.hasMore = false
	}
	logging.FeedDebug("Page %d: %d items, %d new, hasMore=%t", next, len(page.Items), added, l.hasMore)
	return true, nil
}

// Reset empties the loader so the next LoadMore starts from page 1.
func (l *Loader[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
	l.index = make(map[string]int)
	l.page = 0
	l.hasMore = true
	l.loading = false
	l.epoch++
}

// Refresh resets and loads the first page.
func (l *Loader[T]) Refresh(ctx context.Context) error {
	l.Reset()
	_, err := l.LoadMore(ctx)
	return err
}

// Get returns the loaded item with id.
func (l *Loader[T]) Get(id string) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return l.items[i], true
}

// Update replaces the item with id by fn(item). It reports whether the item
// was loaded.
func (l *Loader[T]) Update(id string, fn func(T) T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.items[i] = fn(l.items[i])
	return true
}

// CompareAndSwap replaces the item with id by new if it still equals old.
func (l *Loader[T]) CompareAndSwap(id string, old, new T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok || !cmp.Equal(l.items[i], old) {
		return false
	}
	l.items[i] = new
	l.reindexLocked()
	return true
}

// Prepend inserts items at the head in the given order. Items whose id is
// already loaded are skipped.
func (l *Loader[T]) Prepend(items ...T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	head := make([]T, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		k := item.Key()
		if _, dup := l.index[k]; dup || seen[k] {
			continue
		}
		seen[k] = true
		head = append(head, item)
	}
	l.items = append(head, l.items...)
	l.reindexLocked()
}

// Replace swaps the item with id for item, which may carry a new id.
func (l *Loader[T]) Replace(id string, item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	if j, dup := l.index[item.Key()]; dup && j != i {
		// Already present under its final id; drop the placeholder.
		l.items = append(l.items[:i], l.items[i+1:]...)
	} else {
		l.items[i] = item
	}
	l.reindexLocked()
	return true
}

// Remove deletes the item with id and returns it with its former position.
func (l *Loader[T]) Remove(id string) (T, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		var zero T
		return zero, -1, false
	}
	item := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.reindexLocked()
	return item, i, true
}

// Insert puts item at index (clamped to the list bounds) unless its id is
// already loaded.
func (l *Loader[T]) Insert(index int, item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.index[item.Key()]; dup {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(l.items) {
		index = len(l.items)
	}
	l.items = append(l.items, item)
	copy(l.items[index+1:], l.items[index:])
	l.items[index] = item
	l.reindexLocked()
}

func (l *Loader[T]) reindexLocked() {
	l.index = make(map[string]int, len(l.items))
	for i, item := range l.items {
		l.index[item.Key()] = i
	}
}
