package search

import (
	"sync"
	"time"
)

// Debouncer runs the last scheduled function once no new call has arrived
// for the configured duration.
type Debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
}

// NewDebouncer creates a new debouncer with the specified duration
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{duration: duration}
}

// Debounce schedules fn, replacing any pending call.
func (d *Debouncer) Debounce(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// Cancel drops any pending call
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Immediate cancels any pending call and runs fn now
func (d *Debouncer) Immediate(fn func()) {
	d.Cancel()
	fn()
}

// DefaultDebounce is the quiet period before a search is sent.
const DefaultDebounce = 300 * time.Millisecond
