package queue

import (
	"context"

	"github.com/dreamware/carddedupe/internal/dedupe"
)

// Queue is a minimal channel-backed FIFO of card IDs awaiting
// (re)processing. It satisfies graph.Queue for the core and is drained
// by cmd/dedupe-worker's serve loop.
type Queue struct {
	ch chan dedupe.CardID
}

// New returns a Queue buffering up to capacity pending card IDs.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan dedupe.CardID, capacity)}
}

// Enqueue appends id, blocking if the buffer is full until ctx is done
// or room frees up.
func (q *Queue) Enqueue(ctx context.Context, id dedupe.CardID) error {
	select {
	case q.ch <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks for the next card ID, or returns ctx.Err() if ctx ends
// first.
func (q *Queue) Dequeue(ctx context.Context) (dedupe.CardID, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Len reports the number of card IDs currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}
