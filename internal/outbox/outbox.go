package outbox

import (
	"context"
	"time"

	"studybuddy/internal/model"
)

// Delta is one usage increment awaiting push to the account service.
type Delta struct {
	ID        string        `json:"id"`
	AccountID string        `json:"account_id"`
	Type      model.Feature `json:"type"`
	Increment int           `json:"increment"`
	At        time.Time     `json:"at"`
}

// Message is a queued delta with its queue-assigned id.
type Message struct {
	ID    int64
	Delta Delta
}

// Queue is a durable-or-better FIFO of usage deltas. The in-memory driver
// backs single-process deployments; the pgmq driver backs deployments where
// a separate worker drains the queue.
type Queue interface {
	Enqueue(ctx context.Context, d Delta) error
	// Read returns up to max messages without removing them.
	Read(ctx context.Context, max int) ([]Message, error)
	// Delete acknowledges pushed messages.
	Delete(ctx context.Context, ids []int64) error
	// DeadLetter moves a message that exhausted its retries out of the queue.
	DeadLetter(ctx context.Context, msg Message) error
}
