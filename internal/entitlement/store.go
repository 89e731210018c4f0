package entitlement

import (
	"context"
	"sync"

	"studybuddy/internal/model"
	"studybuddy/internal/outbox"

	"github.com/google/uuid"
)

// Store is the per-account entitlement surface: plan resolution, quota
// checks, usage tracking and the subscription commit points. Rollovers are
// applied lazily before every read, so the first access after a long absence
// still rolls counters over.
type Store struct {
	accountID string
	mgr       *Manager

	mu    sync.Mutex
	sub   *model.Subscription
	usage model.UsageStats
}

// Summary is the single query surface exposed to the API.
type Summary struct {
	Plan         model.Plan
	Subscription *model.Subscription
	Usage        model.UsageStats
	Remaining    map[model.Feature]int
}

// AccountID returns the account this store belongs to.
func (s *Store) AccountID() string {
	return s.accountID
}

// applyResetsLocked rolls counters over if a day or month boundary passed.
// The persisted record is written before the in-memory one is replaced.
func (s *Store) applyResetsLocked(ctx context.Context) error {
	now := s.mgr.now()
	rolled, changed := s.mgr.sched.Apply(now, s.usage)
	if !changed {
		return nil
	}
	persisted, err := s.mgr.state.ApplyReset(ctx, s.accountID, rolled, s.usage.LastResetDate)
	if err != nil {
		return err
	}
	s.usage = persisted
	return nil
}

// currentPlanLocked resolves the effective plan: free when there is no
// subscription or it is past its end date, regardless of status.
func (s *Store) currentPlanLocked() model.Plan {
	if !s.sub.EffectivelyActive(s.mgr.now()) {
		return s.mgr.catalog.PlanForID(model.PlanFree)
	}
	return s.mgr.catalog.PlanForID(s.sub.PlanID)
}

// CurrentPlan returns the effective plan after applying lazy rollovers.
func (s *Store) CurrentPlan(ctx context.Context) (model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyResetsLocked(ctx); err != nil {
		return model.Plan{}, err
	}
	return s.currentPlanLocked(), nil
}

// CanPerform reports whether qty more units of the feature fit the quota.
// A quota of -1 always allows.
func (s *Store) CanPerform(ctx context.Context, feature model.Feature, qty int) (bool, error) {
	if qty <= 0 {
		qty = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyResetsLocked(ctx); err != nil {
		return false, err
	}
	quota := s.currentPlanLocked().Quotas.For(feature)
	if quota == model.Unlimited {
		return true, nil
	}
	return s.usage.Counter(feature)+qty <= quota, nil
}

// Remaining returns the units left for the feature, -1 when unlimited.
func (s *Store) Remaining(ctx context.Context, feature model.Feature) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyResetsLocked(ctx); err != nil {
		return 0, err
	}
	return s.remainingLocked(s.currentPlanLocked(), feature), nil
}

func (s *Store) remainingLocked(p model.Plan, feature model.Feature) int {
	quota := p.Quotas.For(feature)
	if quota == model.Unlimited {
		return model.Unlimited
	}
	left := quota - s.usage.Counter(feature)
	if left < 0 {
		left = 0
	}
	return left
}

// TrackUsage increments the feature counter by qty. The persisted write
// happens before the in-memory state is replaced, so both move together or
// not at all. Quota is deliberately not enforced here; use CanPerform first.
func (s *Store) TrackUsage(ctx context.Context, feature model.Feature, qty int) error {
	if qty <= 0 {
		qty = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyResetsLocked(ctx); err != nil {
		return err
	}
	updated, err := s.mgr.state.AddUsage(ctx, s.accountID, feature, qty)
	if err != nil {
		return err
	}
	s.usage = updated

	delta := outbox.Delta{
		ID:        uuid.NewString(),
		AccountID: s.accountID,
		Type:      feature,
		Increment: qty,
		At:        s.mgr.now(),
	}
	// The increment is already durable; a failed enqueue only delays the
	// remote push until the next reconciliation pull.
	if err := s.mgr.queue.Enqueue(ctx, delta); err != nil {
		s.mgr.logger.Warn().Err(err).Str("account_id", s.accountID).Str("type", string(feature)).Msg("Failed to enqueue usage delta")
	}
	return nil
}

// SetSubscription is the commit point used by the verifier and the
// reconciler. A generation token older than the account's current one means
// the initiating context was torn down; the commit is rejected.
func (s *Store) SetSubscription(ctx context.Context, sub *model.Subscription, generation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Checked under the store lock: SignOut serializes on the same lock, so
	// a rotation cannot slip in between the check and the persisted write.
	if generation != s.mgr.Generation(s.accountID) {
		return ErrStaleGeneration
	}
	if err := s.mgr.state.SaveSubscription(ctx, s.accountID, sub); err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// ClearSubscription removes the subscription record; the account reverts to
// the free plan.
func (s *Store) ClearSubscription(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mgr.state.DeleteSubscription(ctx, s.accountID); err != nil {
		return err
	}
	s.sub = nil
	return nil
}

// Cancel marks the subscription cancelled and turns auto-renew off. Paid
// access continues until the end date.
func (s *Store) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	cancelled := *s.sub
	cancelled.Status = model.StatusCancelled
	cancelled.AutoRenew = false
	if err := s.mgr.state.SaveSubscription(ctx, s.accountID, &cancelled); err != nil {
		return err
	}
	s.sub = &cancelled
	return nil
}

// Subscription returns a copy of the current subscription record, or nil.
func (s *Store) Subscription() *model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	cp := *s.sub
	return &cp
}

// Usage returns a snapshot of the usage counters after lazy rollover.
func (s *Store) Usage(ctx context.Context) (model.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyResetsLocked(ctx); err != nil {
		return model.UsageStats{}, err
	}
	return s.usage, nil
}

// AdoptRemoteUsage merges counters pulled from the account service. A newer
// remote reset date wins outright; otherwise each counter takes the max, so
// spent quota is never granted back.
func (s *Store) AdoptRemoteUsage(ctx context.Context, remote model.UsageStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyResetsLocked(ctx); err != nil {
		return err
	}
	merged := s.usage
	if remote.LastResetDate.After(merged.LastResetDate) {
		merged = remote
	} else {
		for _, f := range model.Features {
			if rc := remote.Counter(f); rc > merged.Counter(f) {
				merged.Add(f, rc-merged.Counter(f))
			}
		}
	}
	if merged == s.usage {
		return nil
	}
	if err := s.mgr.state.SaveUsage(ctx, s.accountID, merged); err != nil {
		return err
	}
	s.usage = merged
	return nil
}

// Summary resolves the full entitlement view in one pass.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyResetsLocked(ctx); err != nil {
		return Summary{}, err
	}
	p := s.currentPlanLocked()
	remaining := make(map[model.Feature]int, len(model.Features))
	for _, f := range model.Features {
		remaining[f] = s.remainingLocked(p, f)
	}
	var sub *model.Subscription
	if s.sub != nil {
		cp := *s.sub
		sub = &cp
	}
	return Summary{Plan: p, Subscription: sub, Usage: s.usage, Remaining: remaining}, nil
}
