package optimistic

import (
	"context"

	"feedline/internal/logging"
)

// Mutation describes one optimistic change to a Cell.
type Mutation[T any] struct {
	// Key identifies the entity; mutations with the same key are serialized.
	Key string
	// Next computes the optimistic value from the current one.
	Next func(cur T) T
	// Commit performs the network call.
	Commit func(ctx context.Context, prev, next T) error
}

// Apply runs m against cell:
//  1. snapshot the current value,
//  2. install the optimistic value,
//  3. call Commit,
//  4. on failure swap the snapshot back if the optimistic value is still
//     in place.
//
// On success nothing is reconciled. Apply returns the value installed by
// this mutation, or the snapshot when it was rolled back.
func Apply[T any](ctx context.Context, q *Queue, cell Cell[T], m Mutation[T]) (T, error) {
	var result T
	err := q.Do(ctx, m.Key, func() error {
		var prev, next T
		for {
			cur, ok := cell.Load()
			if !ok {
				return ErrNotFound
			}
			prev, next = cur, m.Next(cur)
			if cell.CompareAndSwap(prev, next) {
				break
			}
		}
		result = next

		if err := m.Commit(ctx, prev, next); err != nil {
			if cell.CompareAndSwap(next, prev) {
				logging.FeedDebug("Rolled back %s: %v", m.Key, err)
				result = prev
			} else {
				logging.FeedWarn("Rollback of %s skipped, value changed meanwhile: %v", m.Key, err)
				result, _ = cell.Load()
			}
			return err
		}
		return nil
	})
	return result, err
}
