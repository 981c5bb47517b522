// Package schedule decides which advertisements may interrupt a display at a given instant.
package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/aura-signage/backend/internal/models"
)

// Eligible reports whether ad's date range, weekday set and time window all admit now.
// It does not consult re-admission state.
func Eligible(ad models.Advertisement, now time.Time) bool {
	s := ad.Schedule

	today := models.DateOf(now)
	if today.Before(s.StartDate) || today.After(s.EndDate) {
		return false
	}

	if !containsDay(s.DaysOfWeek, int(now.Weekday())) {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	return minute >= s.TimeRange.Start.Minutes() && minute <= s.TimeRange.End.Minutes()
}

// SortByPriority orders ads by ascending priority in place. Equal priorities keep input order.
func SortByPriority(ads []models.Advertisement) {
	sort.SliceStable(ads, func(i, j int) bool {
		return ads[i].EffectivePriority() < ads[j].EffectivePriority()
	})
}

// Matching returns the ads Eligible at now, ordered by priority, without touching any
// re-admission state.
func Matching(ads []models.Advertisement, now time.Time) []models.Advertisement {
	var out []models.Advertisement
	for _, ad := range ads {
		if Eligible(ad, now) {
			out = append(out, ad)
		}
	}
	SortByPriority(out)
	return out
}

// Evaluator applies Eligible plus the frequency gate. The gate is keyed to the last
// evaluation pass that admitted anything, not to individual ads: while less than an ad's
// Frequency seconds have passed since that pass, an ad admitted by it stays excluded.
// Once the interval has passed the admitted set is forgotten.
//
// Use one Evaluator per display. It is safe for concurrent use.
type Evaluator struct {
	mu        sync.Mutex
	lastMatch time.Time
	admitted  map[string]struct{}
}

// NewEvaluator returns an Evaluator with no admission history.
func NewEvaluator() *Evaluator {
	return &Evaluator{admitted: make(map[string]struct{})}
}

// Evaluate returns the ads that may play at now, highest priority first, and records them
// as admitted when the result is non-empty. ads is never modified.
func (e *Evaluator) Evaluate(ads []models.Advertisement, now time.Time) []models.Advertisement {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matched []models.Advertisement
	for _, ad := range ads {
		if !Eligible(ad, now) {
			continue
		}
		window := time.Duration(ad.Schedule.Frequency) * time.Second
		elapsed := now.Sub(e.lastMatch)
		if elapsed < window {
			if _, seen := e.admitted[ad.ID]; seen {
				continue
			}
		} else {
			clear(e.admitted)
		}
		matched = append(matched, ad)
	}

	if len(matched) > 0 {
		e.lastMatch = now
		for _, ad := range matched {
			e.admitted[ad.ID] = struct{}{}
		}
	}

	SortByPriority(matched)
	return matched
}

// Reset forgets the last admitting pass and its admitted set.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastMatch = time.Time{}
	clear(e.admitted)
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
