package model

// Unlimited is the sentinel quota value meaning "no cap".
const Unlimited = -1

// PlanID identifies a plan tier.
type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanProMonthly PlanID = "pro_monthly"
	PlanProYearly  PlanID = "pro_yearly"
)

// BillingInterval is the renewal cadence of a plan.
type BillingInterval string

const (
	IntervalNone  BillingInterval = "none"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Feature names a metered feature. These keys double as the `type` field of
// usage deltas pushed to the account service.
type Feature string

const (
	FeatureNotes       Feature = "notes"
	FeatureFlashcards  Feature = "flashcards"
	FeatureAIQuestions Feature = "ai_questions"
	FeatureEssays      Feature = "essays"
)

// Features lists every metered feature.
var Features = []Feature{FeatureNotes, FeatureFlashcards, FeatureAIQuestions, FeatureEssays}

// KnownFeature reports whether f names a metered feature.
func KnownFeature(f Feature) bool {
	for _, k := range Features {
		if k == f {
			return true
		}
	}
	return false
}

// Quotas holds the per-feature caps of a plan. Unlimited (-1) disables the cap.
type Quotas struct {
	MaxNotes          int `json:"max_notes"`
	MaxFlashcards     int `json:"max_flashcards"`
	AIQuestionsPerDay int `json:"ai_questions_per_day"`
	MaxEssays         int `json:"max_essays"`
}

// For returns the quota for the given feature. Unknown features are unlimited;
// the handlers reject them before a quota is ever consulted.
func (q Quotas) For(f Feature) int {
	switch f {
	case FeatureNotes:
		return q.MaxNotes
	case FeatureFlashcards:
		return q.MaxFlashcards
	case FeatureAIQuestions:
		return q.AIQuestionsPerDay
	case FeatureEssays:
		return q.MaxEssays
	}
	return Unlimited
}

// Flags holds the boolean capabilities of a plan.
type Flags struct {
	CameraScanning  bool `json:"camera_scanning"`
	AIEnhancedCards bool `json:"ai_enhanced_cards"`
}

// Plan is an immutable plan tier definition.
type Plan struct {
	ID         PlanID          `json:"id"`
	Name       string          `json:"name"`
	PriceCents int64           `json:"price_cents"`
	Currency   string          `json:"currency"`
	Interval   BillingInterval `json:"interval"`
	Quotas     Quotas          `json:"quotas"`
	Flags      Flags           `json:"flags"`
}
