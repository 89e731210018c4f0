package model

import "time"

// UsageStats holds per-feature consumption counters for one account.
// Counters are >= 0 and only ever reset by the rollover scheduler;
// LastResetDate anchors both the daily and the monthly rollover.
type UsageStats struct {
	NotesCreated        int
	FlashcardsGenerated int
	AIQuestionsAsked    int
	EssaysGenerated     int
	LastResetDate       time.Time
}

// Counter returns the consumption counter for the given feature.
func (u UsageStats) Counter(f Feature) int {
	switch f {
	case FeatureNotes:
		return u.NotesCreated
	case FeatureFlashcards:
		return u.FlashcardsGenerated
	case FeatureAIQuestions:
		return u.AIQuestionsAsked
	case FeatureEssays:
		return u.EssaysGenerated
	}
	return 0
}

// Add increments the counter for the given feature by qty.
func (u *UsageStats) Add(f Feature, qty int) {
	switch f {
	case FeatureNotes:
		u.NotesCreated += qty
	case FeatureFlashcards:
		u.FlashcardsGenerated += qty
	case FeatureAIQuestions:
		u.AIQuestionsAsked += qty
	case FeatureEssays:
		u.EssaysGenerated += qty
	}
}
