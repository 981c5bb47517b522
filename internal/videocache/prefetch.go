package videocache

import (
	"time"

	"github.com/aura-signage/backend/internal/models"
	"github.com/aura-signage/backend/internal/schedule"
)

// Upcoming returns the video ads that are eligible now or whose daily window opens on an
// eligible day within lookahead of now. Frequency windows are ignored.
func Upcoming(ads []models.Advertisement, now time.Time, lookahead time.Duration) []models.Advertisement {
	var out []models.Advertisement
	for _, ad := range ads {
		if !ad.IsVideo() {
			continue
		}
		if opensWithin(ad, now, lookahead) {
			out = append(out, ad)
		}
	}
	return out
}

func opensWithin(ad models.Advertisement, now time.Time, lookahead time.Duration) bool {
	if schedule.Eligible(ad, now) {
		return true
	}
	if lookahead <= 0 {
		return false
	}
	until := now.Add(lookahead)
	start := ad.Schedule.TimeRange.Start
	days := int(lookahead/(24*time.Hour)) + 1
	for off := 0; off <= days; off++ {
		at := time.Date(now.Year(), now.Month(), now.Day()+off, start.Hour, start.Minute, 0, 0, now.Location())
		if at.Before(now) {
			continue
		}
		if at.After(until) {
			break
		}
		if schedule.Eligible(ad, at) {
			return true
		}
	}
	return false
}
