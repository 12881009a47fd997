// Package search runs people search as the user types: queries are
// debounced, a newer query cancels the one in flight, and outgoing
// requests are paced by a token bucket.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"feedline/internal/logging"
	"feedline/internal/types"

	"golang.org/x/time/rate"
)

// Func performs one search request.
type Func func(ctx context.Context, query string) ([]types.UserProfile, error)

// Result is delivered for every query that settles.
type Result struct {
	Query string
	Users []types.UserProfile
	Err   error
}

// Options tune pacing.
type Options struct {
	Debounce      time.Duration
	RatePerSecond float64
	Burst         int
}

// Searcher is safe for concurrent use.
type Searcher struct {
	ctx       context.Context
	search    Func
	onResult  func(Result)
	debouncer *Debouncer
	limiter   *rate.Limiter

	mu       sync.Mutex
	seq      uint64
	inflight context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// New returns a searcher delivering results to onResult. Results for
// superseded queries are never delivered.
func New(ctx context.Context, fn Func, opts Options, onResult func(Result)) *Searcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Searcher{
		ctx:       ctx,
		search:    fn,
		onResult:  onResult,
		debouncer: NewDebouncer(opts.Debounce),
		limiter:   rate.NewLimiter(limit, opts.Burst),
	}
}

// Query schedules a search for q. An empty (or blank) query clears the
// results at once without a request.
func (s *Searcher) Query(q string) {
	q = strings.TrimSpace(q)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	s.cancelInflightLocked()
	s.mu.Unlock()

	if q == "" {
		s.debouncer.Immediate(func() { s.deliver(seq, Result{}) })
		return
	}
	s.debouncer.Debounce(func() { s.run(seq, q) })
}

// Flush runs a pending query now instead of waiting for the quiet period.
func (s *Searcher) Flush(q string) {
	q = strings.TrimSpace(q)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	s.cancelInflightLocked()
	s.mu.Unlock()

	if q == "" {
		s.debouncer.Immediate(func() { s.deliver(seq, Result{}) })
		return
	}
	s.debouncer.Immediate(func() { s.run(seq, q) })
}

func (s *Searcher) run(seq uint64, q string) {
	s.mu.Lock()
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.inflight = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()

		if err := s.limiter.Wait(ctx); err != nil {
			logging.SearchDebug("Query %q dropped while pacing: %v", q, err)
			return
		}
		logging.SearchDebug("Searching %q", q)
		users, err := s.search(ctx, q)
		if ctx.Err() != nil {
			logging.SearchDebug("Query %q superseded", q)
			return
		}
		s.deliver(seq, Result{Query: q, Users: users, Err: err})
	}()
}

func (s *Searcher) deliver(seq uint64, r Result) {
	s.mu.Lock()
	current := !s.closed && seq == s.seq
	s.mu.Unlock()
	if current {
		s.onResult(r)
	}
}

func (s *Searcher) cancelInflightLocked() {
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
}

// Close cancels pending and in-flight searches and waits for them.
func (s *Searcher) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancelInflightLocked()
	s.mu.Unlock()
	s.debouncer.Cancel()
	s.wg.Wait()
}
