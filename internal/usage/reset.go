package usage

import (
	"time"

	"studybuddy/internal/model"
)

// Scheduler decides counter rollovers from calendar comparison alone, so it
// can be applied arbitrarily often within the same day or month without
// re-zeroing. It holds no state beyond the reference location.
type Scheduler struct {
	loc *time.Location
}

// NewScheduler returns a scheduler evaluating calendar boundaries in loc.
// A nil location means UTC.
func NewScheduler(loc *time.Location) Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return Scheduler{loc: loc}
}

// Apply rolls stats over to now. The daily counter zeroes when the calendar
// day differs from LastResetDate's; the monthly counters additionally zero
// when the (year, month) pair differs, which covers any gap that crossed a
// 1st of month. Returns the rolled stats and whether anything changed.
func (s Scheduler) Apply(now time.Time, stats model.UsageStats) (model.UsageStats, bool) {
	n := now.In(s.loc)
	last := stats.LastResetDate.In(s.loc)

	ny, nm, nd := n.Date()
	ly, lm, ld := last.Date()
	if ny == ly && nm == lm && nd == ld {
		return stats, false
	}

	stats.AIQuestionsAsked = 0
	if ny != ly || nm != lm {
		stats.NotesCreated = 0
		stats.FlashcardsGenerated = 0
		stats.EssaysGenerated = 0
	}
	stats.LastResetDate = now
	return stats, true
}
