package models

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

// MediaType is the kind of asset an advertisement plays.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Ids name cache entries and URL path segments, so they cannot contain a slash.
var idPattern = regexp.MustCompile(`^[^/]+$`)

// LowestPriority is used for advertisements without an explicit priority.
const LowestPriority = 999

// Advertisement is a scheduled image or video shown on a display in place of its normal loop.
type Advertisement struct {
	ID        string    `json:"id" yaml:"id"`
	DisplayID uuid.UUID `json:"display_id" yaml:"display_id"`
	Title     string    `json:"title" yaml:"title"`
	Caption   string    `json:"caption,omitempty" yaml:"caption"`
	MediaURL  string    `json:"media_url" yaml:"media_url"`
	MediaType MediaType `json:"media_type" yaml:"media_type"`
	Duration  int       `json:"duration,omitempty" yaml:"duration"`     // milliseconds, images only
	PlayCount int       `json:"play_count,omitempty" yaml:"play_count"` // full loops, videos only
	Schedule  Schedule  `json:"schedule" yaml:"schedule"`
	Priority  *int      `json:"priority,omitempty" yaml:"priority"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Schedule decides when an advertisement may interrupt the display.
type Schedule struct {
	TimeRange  TimeRange `json:"time_range" yaml:"time_range"`
	Frequency  int       `json:"frequency" yaml:"frequency"` // seconds
	DaysOfWeek []int     `json:"days_of_week" yaml:"days_of_week"`
	StartDate  Date      `json:"start_date" yaml:"start_date"`
	EndDate    Date      `json:"end_date" yaml:"end_date"`
}

// TimeRange is an inclusive same-day window.
type TimeRange struct {
	Start TimeOfDay `json:"start" yaml:"start"`
	End   TimeOfDay `json:"end" yaml:"end"`
}

// IsVideo reports whether the advertisement plays a video asset.
func (a *Advertisement) IsVideo() bool { return a.MediaType == MediaTypeVideo }

// IsImage reports whether the advertisement shows an image asset.
func (a *Advertisement) IsImage() bool { return a.MediaType == MediaTypeImage }

// EffectivePriority returns Priority, or LowestPriority when unset.
func (a *Advertisement) EffectivePriority() int {
	if a.Priority == nil {
		return LowestPriority
	}
	return *a.Priority
}

// Validate checks an advertisement before it is stored or handed to a playback controller.
func (a Advertisement) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required, validation.Match(idPattern).Error("must not contain '/'")),
		validation.Field(&a.MediaURL, validation.Required, is.URL),
		validation.Field(&a.MediaType, validation.Required, validation.In(MediaTypeImage, MediaTypeVideo)),
		validation.Field(&a.Duration, validation.When(a.MediaType == MediaTypeImage, validation.Required, validation.Min(1))),
		validation.Field(&a.PlayCount, validation.When(a.MediaType == MediaTypeVideo, validation.Required, validation.Min(1))),
		validation.Field(&a.Schedule),
	)
}

// Validate checks a schedule's ranges.
func (s Schedule) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.TimeRange),
		validation.Field(&s.Frequency, validation.Min(0)),
		validation.Field(&s.DaysOfWeek, validation.Required, validation.Each(validation.Min(0), validation.Max(6))),
		validation.Field(&s.StartDate, validation.By(requireDate)),
		validation.Field(&s.EndDate, validation.By(requireDate), validation.By(func(any) error {
			if !s.StartDate.IsZero() && s.EndDate.Before(s.StartDate) {
				return validation.NewError("validation_date_range", "must not be before start date")
			}
			return nil
		})),
	)
}

// Validate checks that the window does not wrap past midnight.
func (r TimeRange) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.End, validation.By(func(any) error {
			if r.End.Minutes() < r.Start.Minutes() {
				return validation.NewError("validation_time_range", "must not be before start (overnight windows are not supported)")
			}
			return nil
		})),
	)
}

func requireDate(value any) error {
	if d, ok := value.(Date); ok && d.IsZero() {
		return validation.ErrRequired
	}
	return nil
}
