package model

import "time"

// SubscriptionStatus is advisory; the EndDate comparison in EffectivelyActive
// is authoritative for every consumer.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
	// StatusPendingVerification marks a subscription granted a bounded grace
	// window while the account service is unreachable. It is never protected
	// by the anti-downgrade rule and is replaced wholesale by the next
	// verified or reconciled record.
	StatusPendingVerification SubscriptionStatus = "pending_verification"
)

// Platform identifies the billing store a purchase originated from.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Source records which system produced a subscription record.
type Source string

const (
	SourceBackend  Source = "backend"
	SourceLocal    Source = "local"
	SourcePlatform Source = "platform"
)

// ExpiryMargin biases expiry checks toward "expired" when now is within a
// tight margin of EndDate.
const ExpiryMargin = 30 * time.Second

// Subscription is the canonical subscription record. Invariant:
// EndDate >= StartDate, enforced at the serialization boundary.
type Subscription struct {
	PlanID                PlanID
	Status                SubscriptionStatus
	StartDate             time.Time
	EndDate               time.Time
	AutoRenew             bool
	Platform              Platform
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	IsTrial               bool
	Source                Source
	VerifiedAt            time.Time
}

// EffectivelyActive reports whether the subscription currently grants access.
// Status alone is never enough: an active record past its EndDate is expired,
// and a cancelled one keeps its paid access until the EndDate passes.
func (s *Subscription) EffectivelyActive(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status == StatusExpired {
		return false
	}
	return now.Before(s.EndDate.Add(-ExpiryMargin))
}

// Paying reports whether the record names a paid tier.
func (s *Subscription) Paying() bool {
	return s != nil && s.PlanID != PlanFree && s.PlanID != ""
}

// SameEntitlement reports whether two records grant the same access
// (plan, status and end date all equal). Used to short-circuit reconciliation.
func (s *Subscription) SameEntitlement(o *Subscription) bool {
	if s == nil || o == nil {
		return s == nil && o == nil
	}
	return s.PlanID == o.PlanID && s.Status == o.Status && s.EndDate.Equal(o.EndDate)
}

// MatchesTransaction reports whether key identifies this record's purchase
// lineage (transaction id or original transaction id).
func (s *Subscription) MatchesTransaction(key string) bool {
	if s == nil || key == "" {
		return false
	}
	return s.TransactionID == key || s.OriginalTransactionID == key
}
