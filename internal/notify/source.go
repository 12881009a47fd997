package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedline/internal/logging"
	"feedline/internal/types"
)

// Source delivers pushed notifications until ctx is cancelled. Delivery is
// best effort: events are handed over at most once, in receipt order.
type Source interface {
	Run(ctx context.Context, deliver func(types.Notification)) error
}

// DefaultMaxBackoff caps the delay between reconnect attempts.
const DefaultMaxBackoff = 30 * time.Second

const initialBackoff = 500 * time.Millisecond

// Backoff doubles from an initial delay up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	next    time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		b.Initial = initialBackoff
	}
	if b.Max <= 0 {
		b.Max = DefaultMaxBackoff
	}
	if b.next == 0 {
		b.next = b.Initial
	}
	d := b.next
	b.next *= 2
	if b.next > b.Max {
		b.next = b.Max
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Reset starts the sequence over after a successful connection.
func (b *Backoff) Reset() { b.next = 0 }

// session is one connected lifetime of a source. It returns when the
// connection drops; connected is called once the connection is up.
type session func(ctx context.Context, connected func()) error

// reconnect runs s until ctx is done, sleeping with backoff between
// attempts.
func reconnect(ctx context.Context, name string, maxBackoff time.Duration, s session) error {
	b := &Backoff{Max: maxBackoff}
	for {
		err := s(ctx, func() {
			b.Reset()
			logging.Notify("%s connected", name)
		})
		if ctx.Err() != nil {
			return nil
		}
		delay := b.Next()
		logging.NotifyWarn("%s disconnected: %v; retrying in %v", name, err, delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// decode parses a pushed payload. Both a bare notification and an
// envelope of the form {"notification": {...}} are accepted.
func decode(data []byte) (types.Notification, error) {
	var env struct {
		Notification *types.Notification `json:"notification"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Notification != nil {
		return *env.Notification, nil
	}
	var n types.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" {
		return n, fmt.Errorf("decode notification: missing id")
	}
	return n, nil
}

func deliverPayload(name string, data []byte, deliver func(types.Notification)) {
	n, err := decode(data)
	if err != nil {
		logging.NotifyWarn("%s: dropping payload: %v", name, err)
		return
	}
	logging.NotifyDebug("%s: notification %s (%s)", name, n.ID, n.Type)
	deliver(n)
}
