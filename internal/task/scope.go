// Package task ties asynchronous fetches to the lifetime of whatever
// started them. Once a Scope is closed its context is cancelled and
// results still arriving are dropped instead of applied.
package task

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Await when the scope closed before the result
// could be delivered.
var ErrClosed = errors.New("task: scope closed")

// Scope groups goroutines that share a cancellation context. Waiting does
// not end a scope; only Close or a failing task cancels it.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.RWMutex
	closed bool

	errOnce sync.Once
	err     error
}

// NewScope derives a scope from parent.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the scope closes or a task fails.
func (s *Scope) Context() context.Context { return s.ctx }

// Go runs fn in the scope and reports whether it was started; nothing
// starts after Close. A returned error cancels the scope's context.
func (s *Scope) Go(fn func(ctx context.Context) error) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.group.Go(func() error {
		err := fn(s.ctx)
		if err != nil {
			// Record before cancelling so siblings that stop because of
			// the cancellation never win as the first error.
			s.errOnce.Do(func() {
				s.err = err
				s.cancel()
			})
		}
		return err
	})
	return true
}

// Guard runs apply only if the scope is still open. Close waits for a
// running apply to return, so nothing is applied after Close. apply must
// not call Close.
func (s *Scope) Guard(apply func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	apply()
	return true
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Wait blocks until every task started so far has returned and reports
// the first error. The scope stays usable afterwards.
func (s *Scope) Wait() error {
	if s.group.Wait() != nil {
		return s.err
	}
	return nil
}

// Close marks the scope closed, cancels its context and waits for its
// tasks. Errors caused by the cancellation are not reported.
func (s *Scope) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	err := s.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Fetch runs fetch in s and hands its result to apply unless the scope was
// closed in the meantime. Errors are passed to apply rather than failing
// the scope.
func Fetch[T any](s *Scope, fetch func(ctx context.Context) (T, error), apply func(T, error)) {
	s.Go(func(ctx context.Context) error {
		v, err := fetch(ctx)
		s.Guard(func() { apply(v, err) })
		return nil
	})
}

// Await runs fetch as a task of s and blocks for its result. It returns
// ErrClosed when the scope closed first, in which case the result is
// dropped. Callers that already run off the main loop, such as bubbletea
// commands, use it to stay inside the scope.
func Await[T any](s *Scope, fetch func(ctx context.Context) (T, error)) (T, error) {
	var (
		v         T
		err       error
		delivered bool
	)
	done := make(chan struct{})
	started := s.Go(func(ctx context.Context) error {
		defer close(done)
		rv, rerr := fetch(ctx)
		delivered = s.Guard(func() { v, err = rv, rerr })
		return nil
	})
	if !started {
		return v, ErrClosed
	}
	<-done
	if !delivered {
		var zero T
		return zero, ErrClosed
	}
	return v, err
}
