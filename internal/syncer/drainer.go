package syncer

import (
	"context"
	"time"

	"studybuddy/internal/model"
	"studybuddy/internal/outbox"

	"github.com/rs/zerolog"
)

// UsagePusher is the slice of the account service the drainer needs.
type UsagePusher interface {
	PushUsage(ctx context.Context, accountID string, feature model.Feature, increment int) error
}

// DrainConfig tunes the push retry behavior.
type DrainConfig struct {
	BatchSize      int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Drainer pushes queued usage deltas to the account service with exponential
// backoff, dead-lettering deltas that exhaust their retries. It runs either
// inside the engine process or as the standalone syncworker.
type Drainer struct {
	queue  outbox.Queue
	api    UsagePusher
	cfg    DrainConfig
	logger zerolog.Logger
}

// NewDrainer wires the outbox drain loop.
func NewDrainer(queue outbox.Queue, api UsagePusher, cfg DrainConfig, logger zerolog.Logger) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	return &Drainer{
		queue:  queue,
		api:    api,
		cfg:    cfg,
		logger: logger.With().Str("service", "UsageDrainer").Logger(),
	}
}

// Run drains continuously until ctx is done.
func (d *Drainer) Run(ctx context.Context) error {
	d.logger.Info().Msg("Starting usage delta drain loop")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Shutting down usage delta drain loop")
			return nil
		default:
		}
		n, err := d.DrainOnce(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("Drain pass failed")
			time.Sleep(time.Second)
			continue
		}
		if n == 0 {
			time.Sleep(time.Second)
		}
	}
}

// DrainOnce reads one batch and pushes each delta, retrying with exponential
// backoff. A delta that exhausts its retries goes to the dead-letter queue so
// one poisoned message cannot stall the rest. Returns the number of deltas
// handled.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	msgs, err := d.queue.Read(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, msg := range msgs {
		if err := d.pushWithRetry(ctx, msg.Delta); err != nil {
			d.logger.Warn().Err(err).Str("delta_id", msg.Delta.ID).Str("account_id", msg.Delta.AccountID).Msg("Usage delta exhausted retries, dead-lettering")
			if dlErr := d.queue.DeadLetter(ctx, msg); dlErr != nil {
				return handled, dlErr
			}
			handled++
			continue
		}
		if err := d.queue.Delete(ctx, []int64{msg.ID}); err != nil {
			return handled, err
		}
		handled++
	}
	return handled, nil
}

func (d *Drainer) pushWithRetry(ctx context.Context, delta outbox.Delta) error {
	backoff := d.cfg.BackoffInitial
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		lastErr = d.api.PushUsage(ctx, delta.AccountID, delta.Type, delta.Increment)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Debug().Err(lastErr).Str("delta_id", delta.ID).Int("attempt", attempt).Msg("Usage push failed")
		if attempt < d.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > d.cfg.BackoffMax {
				backoff = d.cfg.BackoffMax
			}
		}
	}
	return lastErr
}
