package billing

import (
	"context"
	"errors"
	"fmt"

	"studybuddy/internal/accountapi"
	"studybuddy/internal/model"
)

// RestoreResult reports the outcome of a restoration pass. Found=false is a
// valid terminal outcome, not an error.
type RestoreResult struct {
	Found        bool
	Subscription *model.Subscription
}

// Restore verifies every purchase the platform billing store reported as
// owned, keeps the ones that verify to an effectively active subscription and
// commits only the one with the latest end date. Nothing is committed for the
// losers.
func (v *Verifier) Restore(ctx context.Context, accountID string, purchases []model.PurchaseEvent) (RestoreResult, error) {
	if accountID == "" {
		return RestoreResult{}, fmt.Errorf("empty account id")
	}
	store, err := v.mgr.ForAccount(ctx, accountID)
	if err != nil {
		return RestoreResult{}, err
	}
	generation := v.mgr.Generation(accountID)
	log := v.logger.With().Str("account_id", accountID).Logger()

	now := v.now()
	seen := make(map[string]bool, len(purchases))
	var candidates []*model.Subscription
	var unreachable int
	for _, ev := range purchases {
		if ev.Kind != model.EventUpdate || ev.TransactionID == "" || seen[ev.TransactionID] {
			continue
		}
		seen[ev.TransactionID] = true

		if err := v.arch.Archive(ctx, accountID, ev); err != nil {
			log.Warn().Err(err).Str("transaction_id", ev.TransactionID).Msg("Failed to archive restored purchase")
		}

		sub, err := v.api.Verify(ctx, accountID, accountapi.VerifyRequest{
			Platform:              ev.Platform,
			ProductID:             ev.ProductID,
			TransactionID:         ev.TransactionID,
			OriginalTransactionID: ev.OriginalTransactionID,
			PurchaseToken:         ev.PurchaseToken,
			ReceiptData:           ev.ReceiptData,
		})
		if err != nil {
			if errors.Is(err, accountapi.ErrUnavailable) {
				unreachable++
			}
			log.Debug().Err(err).Str("transaction_id", ev.TransactionID).Msg("Restored purchase did not verify")
			continue
		}
		if sub.EffectivelyActive(now) {
			candidates = append(candidates, sub)
		}
	}

	if len(candidates) == 0 {
		// Unreachable service is retryable; an empty verified set is final.
		if unreachable > 0 {
			return RestoreResult{}, fmt.Errorf("%w: account service unreachable during restore", ErrVerificationFailed)
		}
		log.Info().Int("purchases", len(purchases)).Msg("No active subscription found among restored purchases")
		return RestoreResult{Found: false}, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.EndDate.After(best.EndDate) {
			best = c
		}
	}
	committed := *best
	committed.Source = model.SourceBackend
	committed.VerifiedAt = now
	if err := store.SetSubscription(ctx, &committed, generation); err != nil {
		return RestoreResult{}, err
	}
	log.Info().Str("plan_id", string(committed.PlanID)).Time("end_date", committed.EndDate).Msg("Restored subscription committed")
	return RestoreResult{Found: true, Subscription: &committed}, nil
}
