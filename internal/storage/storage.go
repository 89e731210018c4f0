package storage

import (
	"context"
	"errors"
	"time"

	"studybuddy/internal/model"
)

// ErrNotFound is returned when an account has no persisted record of the
// requested kind. Callers fall back to defaults (free plan, zeroed usage).
var ErrNotFound = errors.New("record_not_found")

// ErrMalformedState is returned when a persisted record cannot be decoded.
// The store has already quarantined or discarded the record; callers fall
// back to defaults and must not treat this as fatal.
var ErrMalformedState = errors.New("malformed_persisted_state")

// StateStore persists the two independent per-account records: the
// subscription and the usage counters.
type StateStore interface {
	LoadSubscription(ctx context.Context, accountID string) (*model.Subscription, error)
	SaveSubscription(ctx context.Context, accountID string, sub *model.Subscription) error
	DeleteSubscription(ctx context.Context, accountID string) error

	LoadUsage(ctx context.Context, accountID string) (model.UsageStats, error)
	SaveUsage(ctx context.Context, accountID string, usage model.UsageStats) error

	// AddUsage atomically increments one counter and returns the resulting
	// stats. Multi-worker deployments rely on this being a true atomic
	// increment, not a read-modify-write.
	AddUsage(ctx context.Context, accountID string, feature model.Feature, qty int) (model.UsageStats, error)

	// ApplyReset persists a rollover computed from the stats whose
	// LastResetDate was prevReset. If another worker already rolled the
	// counters over, the stored stats win and are returned unchanged.
	ApplyReset(ctx context.Context, accountID string, rolled model.UsageStats, prevReset time.Time) (model.UsageStats, error)

	// FindAccountByTransaction resolves the account owning a purchase
	// lineage (transaction id, original transaction id or purchase token).
	// Returns ErrNotFound when no account matches.
	FindAccountByTransaction(ctx context.Context, key string) (string, error)

	ListAccounts(ctx context.Context) ([]string, error)
}
