package optimistic

import (
	"errors"
	"sync"

	"github.com/google/go-cmp/cmp"
)

// ErrNotFound is returned when the entity to mutate is not loaded.
var ErrNotFound = errors.New("optimistic: entity not loaded")

// Cell is a single piece of local state that can be read and conditionally
// replaced.
type Cell[T any] interface {
	Load() (T, bool)
	CompareAndSwap(old, new T) bool
}

// Collection is local state holding many entities by id, such as a loaded
// page list.
type Collection[T any] interface {
	Get(id string) (T, bool)
	CompareAndSwap(id string, old, new T) bool
}

// Item adapts one entry of a collection to a Cell.
func Item[T any](c Collection[T], id string) Cell[T] {
	return itemCell[T]{c: c, id: id}
}

type itemCell[T any] struct {
	c  Collection[T]
	id string
}

func (i itemCell[T]) Load() (T, bool)                { return i.c.Get(i.id) }
func (i itemCell[T]) CompareAndSwap(old, new T) bool { return i.c.CompareAndSwap(i.id, old, new) }

// Value is a standalone Cell guarded by a mutex.
type Value[T any] struct {
	mu  sync.Mutex
	v   T
	set bool
}

// NewValue returns a Value holding v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v, set: true}
}

// Load returns the held value.
func (c *Value[T]) Load() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v, c.set
}

// CompareAndSwap replaces the value with new if it equals old.
func (c *Value[T]) CompareAndSwap(old, new T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set || !cmp.Equal(c.v, old) {
		return false
	}
	c.v = new
	return true
}

// Get is Load without the presence flag.
func (c *Value[T]) Get() T {
	v, _ := c.Load()
	return v
}
