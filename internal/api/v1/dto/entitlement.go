package dto

import (
	"time"

	"studybuddy/internal/entitlement"
	"studybuddy/internal/model"
)

// PlanDTO is a plan tier as returned by the API.
type PlanDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency"`
	Interval   string    `json:"interval"`
	Quotas     QuotasDTO `json:"quotas"`
	Flags      FlagsDTO  `json:"flags"`
}

type QuotasDTO struct {
	MaxNotes          int `json:"max_notes"`
	MaxFlashcards     int `json:"max_flashcards"`
	AIQuestionsPerDay int `json:"ai_questions_per_day"`
	MaxEssays         int `json:"max_essays"`
}

type FlagsDTO struct {
	CameraScanning  bool `json:"camera_scanning"`
	AIEnhancedCards bool `json:"ai_enhanced_cards"`
}

// SubscriptionDTO is the wire form of a subscription; dates are ISO-8601.
type SubscriptionDTO struct {
	PlanID    string `json:"plan_id"`
	Status    string `json:"status"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	AutoRenew bool   `json:"auto_renew"`
	Platform  string `json:"platform"`
	ProductID string `json:"product_id"`
	IsTrial   bool   `json:"is_trial"`
	Source    string `json:"source"`
}

type UsageDTO struct {
	NotesCreated        int    `json:"notes_created"`
	FlashcardsGenerated int    `json:"flashcards_generated"`
	AIQuestionsAsked    int    `json:"ai_questions_asked"`
	EssaysGenerated     int    `json:"essays_generated"`
	LastResetDate       string `json:"last_reset_date,omitempty"`
}

// EntitlementSummaryResponse is the single read surface for clients.
type EntitlementSummaryResponse struct {
	Plan         PlanDTO          `json:"plan"`
	Subscription *SubscriptionDTO `json:"subscription,omitempty"`
	Usage        UsageDTO         `json:"usage"`
	Remaining    map[string]int   `json:"remaining"`
}

func FromPlan(p model.Plan) PlanDTO {
	return PlanDTO{
		ID:         string(p.ID),
		Name:       p.Name,
		PriceCents: p.PriceCents,
		Currency:   p.Currency,
		Interval:   string(p.Interval),
		Quotas: QuotasDTO{
			MaxNotes:          p.Quotas.MaxNotes,
			MaxFlashcards:     p.Quotas.MaxFlashcards,
			AIQuestionsPerDay: p.Quotas.AIQuestionsPerDay,
			MaxEssays:         p.Quotas.MaxEssays,
		},
		Flags: FlagsDTO{
			CameraScanning:  p.Flags.CameraScanning,
			AIEnhancedCards: p.Flags.AIEnhancedCards,
		},
	}
}

func FromSubscription(s *model.Subscription) *SubscriptionDTO {
	if s == nil {
		return nil
	}
	return &SubscriptionDTO{
		PlanID:    string(s.PlanID),
		Status:    string(s.Status),
		StartDate: s.StartDate.UTC().Format(time.RFC3339),
		EndDate:   s.EndDate.UTC().Format(time.RFC3339),
		AutoRenew: s.AutoRenew,
		Platform:  string(s.Platform),
		ProductID: s.ProductID,
		IsTrial:   s.IsTrial,
		Source:    string(s.Source),
	}
}

func FromUsage(u model.UsageStats) UsageDTO {
	out := UsageDTO{
		NotesCreated:        u.NotesCreated,
		FlashcardsGenerated: u.FlashcardsGenerated,
		AIQuestionsAsked:    u.AIQuestionsAsked,
		EssaysGenerated:     u.EssaysGenerated,
	}
	if !u.LastResetDate.IsZero() {
		out.LastResetDate = u.LastResetDate.UTC().Format(time.RFC3339)
	}
	return out
}

func FromSummary(s entitlement.Summary) EntitlementSummaryResponse {
	remaining := make(map[string]int, len(s.Remaining))
	for f, n := range s.Remaining {
		remaining[string(f)] = n
	}
	return EntitlementSummaryResponse{
		Plan:         FromPlan(s.Plan),
		Subscription: FromSubscription(s.Subscription),
		Usage:        FromUsage(s.Usage),
		Remaining:    remaining,
	}
}
