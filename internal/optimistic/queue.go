// Package optimistic applies local state changes before the server
// confirms them and restores the previous state when the request fails.
//
// Mutations on the same entity run one at a time through a Queue, so a
// failing request can never roll back over a later optimistic value. The
// rollback itself is a compare-and-swap against the value the mutation
// installed; if something else has replaced it meanwhile, the newer value
// is kept.
package optimistic

import (
	"context"
	"sync"
)

// Queue serializes work per entity key. The zero value is ready to use.
type Queue struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

// Do runs fn once every earlier call for key has finished. Waiting is
// abandoned if ctx is cancelled.
func (q *Queue) Do(ctx context.Context, key string, fn func() error) error {
	release, err := q.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (q *Queue) acquire(ctx context.Context, key string) (func(), error) {
	q.mu.Lock()
	if q.slots == nil {
		q.slots = make(map[string]*slot)
	}
	s := q.slots[key]
	if s == nil {
		s = &slot{sem: make(chan struct{}, 1)}
		q.slots[key] = s
	}
	s.refs++
	q.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		q.unref(key, s)
		return nil, ctx.Err()
	}
	return func() {
		<-s.sem
		q.unref(key, s)
	}, nil
}

func (q *Queue) unref(key string, s *slot) {
	q.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(q.slots, key)
	}
	q.mu.Unlock()
}

// Pending returns the number of keys with queued or running work.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
