package videocache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aura-signage/backend/internal/models"
)

func videoAd(id, start, end string, days ...int) models.Advertisement {
	return models.Advertisement{
		ID:        id,
		MediaURL:  "https://cdn.example.com/" + id + ".mp4",
		MediaType: models.MediaTypeVideo,
		PlayCount: 1,
		Schedule: models.Schedule{
			TimeRange:  models.TimeRange{Start: models.MustTimeOfDay(start), End: models.MustTimeOfDay(end)},
			DaysOfWeek: days,
			StartDate:  models.MustDate("2024-01-01"),
			EndDate:    models.MustDate("2024-12-31"),
		},
	}
}

func ids(ads []models.Advertisement) []string {
	out := make([]string, 0, len(ads))
	for _, a := range ads {
		out = append(out, a.ID)
	}
	return out
}

func TestUpcoming(t *testing.T) {
	// Tuesday 09:50 UTC.
	now := time.Date(2024, 3, 5, 9, 50, 0, 0, time.UTC)
	everyDay := []int{0, 1, 2, 3, 4, 5, 6}

	image := videoAd("image", "09:00", "11:00", everyDay...)
	image.MediaType = models.MediaTypeImage

	ads := []models.Advertisement{
		videoAd("open-now", "09:00", "11:00", everyDay...),
		videoAd("opens-soon", "10:00", "11:00", everyDay...),
		videoAd("opens-later", "13:00", "14:00", everyDay...),
		videoAd("wrong-day", "10:00", "11:00", 1),
		videoAd("tomorrow-morning", "00:05", "01:00", 3),
		image,
	}

	assert.Equal(t, []string{"open-now", "opens-soon"}, ids(Upcoming(ads, now, 15*time.Minute)))
	assert.Equal(t, []string{"open-now", "opens-soon", "opens-later", "tomorrow-morning"}, ids(Upcoming(ads, now, 16*time.Hour)))
	assert.Equal(t, []string{"open-now"}, ids(Upcoming(ads, now, 0)))
}

func TestUpcoming_RespectsDateRange(t *testing.T) {
	now := time.Date(2024, 12, 31, 23, 50, 0, 0, time.UTC)
	ad := videoAd("ends-today", "00:00", "00:30", 0, 1, 2, 3, 4, 5, 6)
	assert.Empty(t, Upcoming([]models.Advertisement{ad}, now, time.Hour))
}
