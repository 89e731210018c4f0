package entitlement

import (
	"time"

	"studybuddy/internal/model"
	"studybuddy/internal/plan"
)

// Merge reconciles the locally cached subscription with the one fetched from
// the account service and returns the canonical record. The anti-downgrade
// rule: a locally held, effectively active paid entitlement is never replaced
// by a lesser remote one unless the remote record itself shows the lineage
// ended (cancelled/expired with an end date in the past). The returned reason
// is for logs only.
func Merge(catalog *plan.Catalog, local, remote *model.Subscription, now time.Time) (canonical *model.Subscription, changed bool, reason string) {
	if local == nil && remote == nil {
		return nil, false, "both_absent"
	}
	if remote != nil && local.SameEntitlement(remote) {
		return local, false, "identical"
	}

	// pending_verification is a provisional grant and never protected.
	localProtected := local.Paying() &&
		local.Status != model.StatusPendingVerification &&
		local.EffectivelyActive(now)

	if !localProtected {
		if remote == nil {
			// Nothing remote to adopt; the dead local record stays as is.
			return local, false, "remote_absent"
		}
		return adoptRemote(remote), true, "remote_adopted"
	}

	if remote == nil || !remote.Paying() {
		if selfConsistentEnd(remote, now) {
			return adoptRemote(remote), true, "downgrade_accepted"
		}
		return local, false, "anti_downgrade"
	}

	if remote.EffectivelyActive(now) && catalog.Rank(remote.PlanID) >= catalog.Rank(local.PlanID) {
		return adoptRemote(remote), true, "remote_equal_or_higher"
	}
	if selfConsistentEnd(remote, now) && remote.MatchesTransaction(local.TransactionID) {
		return adoptRemote(remote), true, "lineage_ended"
	}
	return local, false, "anti_downgrade"
}

// selfConsistentEnd reports whether the remote record is explicit evidence of
// an ended subscription: cancelled or expired, with the end date in the past.
// A bare "backend disagrees" free record does not qualify.
func selfConsistentEnd(remote *model.Subscription, now time.Time) bool {
	if remote == nil {
		return false
	}
	if remote.Status != model.StatusCancelled && remote.Status != model.StatusExpired {
		return false
	}
	return !remote.EndDate.IsZero() && !remote.EndDate.After(now)
}

// adoptRemote normalizes a winning remote record: provenance becomes backend.
func adoptRemote(remote *model.Subscription) *model.Subscription {
	cp := *remote
	cp.Source = model.SourceBackend
	return &cp
}
