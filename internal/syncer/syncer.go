package syncer

import (
	"context"
	"time"

	"studybuddy/internal/accountapi"
	"studybuddy/internal/entitlement"
	"studybuddy/internal/model"
	"studybuddy/internal/plan"

	"github.com/rs/zerolog"
)

// AccountAPI is the slice of the account service the syncer needs.
type AccountAPI interface {
	Sync(ctx context.Context, accountID string) (*accountapi.SyncState, error)
}

// Syncer periodically pulls remote state for every known account, reconciles
// it against the local cache and commits the canonical record. The usage
// delta outbox is drained in the same loop when an in-process drainer is
// attached.
type Syncer struct {
	mgr      *entitlement.Manager
	api      AccountAPI
	catalog  *plan.Catalog
	drainer  *Drainer
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSyncer wires the reconciliation loop. drainer may be nil when a separate
// syncworker owns the outbox.
func NewSyncer(mgr *entitlement.Manager, api AccountAPI, catalog *plan.Catalog, drainer *Drainer, interval time.Duration, logger zerolog.Logger) *Syncer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Syncer{
		mgr:      mgr,
		api:      api,
		catalog:  catalog,
		drainer:  drainer,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("service", "Syncer").Logger(),
	}
}

// SetClock overrides the syncer's clock, for tests.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

// Run loops until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Starting sync loop")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Shutting down sync loop")
			return nil
		case <-ticker.C:
		}
		if err := s.SyncAll(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Sync pass failed")
		}
		if s.drainer != nil {
			if _, err := s.drainer.DrainOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Outbox drain failed")
			}
		}
	}
}

// SyncAll reconciles every known account. Per-account failures are logged
// and do not stop the pass.
func (s *Syncer) SyncAll(ctx context.Context) error {
	accounts, err := s.mgr.KnownAccounts(ctx)
	if err != nil {
		return err
	}
	for _, id := range accounts {
		if err := s.SyncAccount(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("account_id", id).Msg("Account sync failed")
		}
	}
	return nil
}

// SyncAccount pulls one account's remote state, merges and commits.
func (s *Syncer) SyncAccount(ctx context.Context, accountID string) error {
	store, err := s.mgr.ForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	// Capture the generation before the pull so a sign-out during the round
	// trip invalidates the commit.
	generation := s.mgr.Generation(accountID)

	remote, err := s.api.Sync(ctx, accountID)
	if err != nil {
		return err
	}

	local := store.Subscription()
	canonical, changed, reason := entitlement.Merge(s.catalog, local, remote.Subscription, s.now())
	if changed {
		if err := store.SetSubscription(ctx, canonical, generation); err != nil {
			return err
		}
		planID := model.PlanFree
		if canonical != nil {
			planID = canonical.PlanID
		}
		s.logger.Info().Str("account_id", accountID).Str("plan_id", string(planID)).Str("reason", reason).Msg("Reconciled subscription")
	}

	if remote.Usage != nil {
		if err := store.AdoptRemoteUsage(ctx, *remote.Usage); err != nil {
			return err
		}
	}
	return nil
}
