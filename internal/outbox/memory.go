package outbox

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryQueue is the engine-local queue driver, drained by the in-process
// syncer. Deltas do not survive a restart; the next reconciliation pull
// repairs any counters lost with them.
type MemoryQueue struct {
	mu     sync.Mutex
	nextID int64
	msgs   []Message
	dead   []Message
	logger zerolog.Logger
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(logger zerolog.Logger) *MemoryQueue {
	return &MemoryQueue{
		nextID: 1,
		logger: logger.With().Str("service", "MemoryOutbox").Logger(),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, d Delta) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, Message{ID: q.nextID, Delta: d})
	q.nextID++
	return nil
}

func (q *MemoryQueue) Read(ctx context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.msgs) {
		max = len(q.msgs)
	}
	out := make([]Message, max)
	copy(out, q.msgs[:max])
	return out, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := q.msgs[:0]
	for _, m := range q.msgs {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	q.msgs = kept
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.msgs[:0]
	for _, m := range q.msgs {
		if m.ID != msg.ID {
			kept = append(kept, m)
		}
	}
	q.msgs = kept
	q.dead = append(q.dead, msg)
	q.logger.Warn().Str("delta_id", msg.Delta.ID).Str("account_id", msg.Delta.AccountID).Msg("Usage delta dead-lettered")
	return nil
}

// DeadLetters returns the dead-lettered messages, for inspection in tests.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.dead))
	copy(out, q.dead)
	return out
}
