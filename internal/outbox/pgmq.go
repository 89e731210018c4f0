package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"studybuddy/internal/pgmq"

	"github.com/rs/zerolog"
)

// PGMQQueue is the durable queue driver, used when a separate syncworker
// drains deltas instead of the engine process itself.
type PGMQQueue struct {
	client         *pgmq.Client
	queue          string
	deadLetter     string
	pollTimeoutSec int
	logger         zerolog.Logger
}

// NewPGMQQueue wraps the pgmq client for the given queue and its DLQ.
func NewPGMQQueue(client *pgmq.Client, queue, deadLetter string, pollTimeoutSec int, logger zerolog.Logger) *PGMQQueue {
	return &PGMQQueue{
		client:         client,
		queue:          queue,
		deadLetter:     deadLetter,
		pollTimeoutSec: pollTimeoutSec,
		logger:         logger.With().Str("service", "PGMQOutbox").Logger(),
	}
}

func (q *PGMQQueue) Enqueue(ctx context.Context, d Delta) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal usage delta: %w", err)
	}
	return q.client.Send(ctx, q.queue, payload)
}

func (q *PGMQQueue) Read(ctx context.Context, max int) ([]Message, error) {
	raw, err := q.client.ReadWithPoll(ctx, q.queue, q.pollTimeoutSec, max)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	for _, m := range raw {
		var d Delta
		if err := json.Unmarshal(m.Data, &d); err != nil {
			// Undecodable payloads can never be pushed; park them on the DLQ.
			q.logger.Warn().Err(err).Int64("msg_id", m.ID).Msg("Dead-lettering undecodable usage delta")
			if dlErr := q.client.Send(ctx, q.deadLetter, m.Data); dlErr != nil {
				return nil, dlErr
			}
			if delErr := q.client.Delete(ctx, q.queue, []int64{m.ID}); delErr != nil {
				return nil, delErr
			}
			continue
		}
		msgs = append(msgs, Message{ID: m.ID, Delta: d})
	}
	return msgs, nil
}

func (q *PGMQQueue) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return q.client.Delete(ctx, q.queue, ids)
}

func (q *PGMQQueue) DeadLetter(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg.Delta)
	if err != nil {
		return fmt.Errorf("marshal usage delta for dlq: %w", err)
	}
	if err := q.client.Send(ctx, q.deadLetter, payload); err != nil {
		return err
	}
	return q.client.Delete(ctx, q.queue, []int64{msg.ID})
}
