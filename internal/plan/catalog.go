package plan

import "studybuddy/internal/model"

// Product identifiers registered with the billing stores. Stripe price IDs
// are environment-specific and get added through NewCatalog.
const (
	AppStoreProMonthly = "com.studybuddy.pro.monthly"
	AppStoreProYearly  = "com.studybuddy.pro.yearly"
	PlayProMonthly     = "studybuddy_pro_monthly"
	PlayProYearly      = "studybuddy_pro_yearly"
)

var plans = map[model.PlanID]model.Plan{
	model.PlanFree: {
		ID:       model.PlanFree,
		Name:     "Free",
		Currency: "usd",
		Interval: model.IntervalNone,
		Quotas: model.Quotas{
			MaxNotes:          50,
			MaxFlashcards:     100,
			AIQuestionsPerDay: 10,
			MaxEssays:         2,
		},
	},
	model.PlanProMonthly: {
		ID:         model.PlanProMonthly,
		Name:       "Pro Monthly",
		PriceCents: 999,
		Currency:   "usd",
		Interval:   model.IntervalMonth,
		Quotas: model.Quotas{
			MaxNotes:          model.Unlimited,
			MaxFlashcards:     model.Unlimited,
			AIQuestionsPerDay: model.Unlimited,
			MaxEssays:         model.Unlimited,
		},
		Flags: model.Flags{CameraScanning: true, AIEnhancedCards: true},
	},
	model.PlanProYearly: {
		ID:         model.PlanProYearly,
		Name:       "Pro Yearly",
		PriceCents: 7999,
		Currency:   "usd",
		Interval:   model.IntervalYear,
		Quotas: model.Quotas{
			MaxNotes:          model.Unlimited,
			MaxFlashcards:     model.Unlimited,
			AIQuestionsPerDay: model.Unlimited,
			MaxEssays:         model.Unlimited,
		},
		Flags: model.Flags{CameraScanning: true, AIEnhancedCards: true},
	},
}

// Tier ordering used by the reconciler: a lower rank is never silently
// preferred over a higher one.
var ranks = map[model.PlanID]int{
	model.PlanFree:       0,
	model.PlanProMonthly: 1,
	model.PlanProYearly:  2,
}

// Catalog is the static plan table plus the product-id registry. It has no
// mutable state after construction.
type Catalog struct {
	products map[string]model.PlanID
}

// NewCatalog builds the catalog. extraProducts maps environment-specific
// product identifiers (Stripe price IDs) onto plan tiers.
func NewCatalog(extraProducts map[string]model.PlanID) *Catalog {
	products := map[string]model.PlanID{
		AppStoreProMonthly: model.PlanProMonthly,
		AppStoreProYearly:  model.PlanProYearly,
		PlayProMonthly:     model.PlanProMonthly,
		PlayProYearly:      model.PlanProYearly,
	}
	for id, planID := range extraProducts {
		if id == "" {
			continue
		}
		products[id] = planID
	}
	return &Catalog{products: products}
}

// PlanForID returns the plan for the given id, falling back to the free plan
// for any unknown id.
func (c *Catalog) PlanForID(id model.PlanID) model.Plan {
	if p, ok := plans[id]; ok {
		return p
	}
	return plans[model.PlanFree]
}

// PlanIDForProduct resolves a store product identifier through the registry.
// Only exact registry matches resolve; product-id naming is never inferred.
func (c *Catalog) PlanIDForProduct(productID string) (model.PlanID, bool) {
	id, ok := c.products[productID]
	return id, ok
}

// Rank returns the tier rank of a plan; unknown plans rank as free.
func (c *Catalog) Rank(id model.PlanID) int {
	return ranks[id]
}

// Plans returns all plan tiers in ascending tier order.
func (c *Catalog) Plans() []model.Plan {
	return []model.Plan{plans[model.PlanFree], plans[model.PlanProMonthly], plans[model.PlanProYearly]}
}
