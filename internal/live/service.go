// Package live runs the ad controllers of connected displays and relays their events to
// the screens over the realtime hub.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/aura-signage/backend/internal/models"
	"github.com/aura-signage/backend/internal/playback"
	"github.com/aura-signage/backend/internal/videocache"
	"github.com/aura-signage/backend/pkg/queue"
)

// Events exchanged with screens.
const (
	EventAdStart    = "ad_start"
	EventAdBreakEnd = "ad_break_end"
	EventAdComplete = "ad_complete"
)

const resolveTimeout = 2 * time.Second

// AdSource lists the advertisements of a display.
type AdSource interface {
	ListByDisplay(ctx context.Context, displayID uuid.UUID) ([]models.Advertisement, error)
}

// Broadcaster delivers events to a display's screens.
type Broadcaster interface {
	Publish(displayID uuid.UUID, event string, payload interface{})
}

// MediaResolver maps a video id to a local cache handle.
type MediaResolver interface {
	GetBlobURL(ctx context.Context, id string) (string, bool, error)
}

// PrefetchQueue accepts video prefetch jobs.
type PrefetchQueue interface {
	EnqueueVideoPrefetch(ctx context.Context, payload queue.VideoPrefetchPayload) (bool, error)
}

// AdStartEvent is the payload of EventAdStart.
type AdStartEvent struct {
	DisplayID   uuid.UUID        `json:"display_id"`
	AdID        string           `json:"ad_id"`
	Title       string           `json:"title"`
	Caption     string           `json:"caption,omitempty"`
	MediaType   models.MediaType `json:"media_type"`
	MediaURL    string           `json:"media_url"`
	Cached      bool             `json:"cached"`
	Duration    int              `json:"duration,omitempty"`
	PlayCount   int              `json:"play_count,omitempty"`
	Position    int              `json:"position"`
	QueueLength int              `json:"queue_length"`
}

// AdBreakEndEvent is the payload of EventAdBreakEnd.
type AdBreakEndEvent struct {
	DisplayID uuid.UUID `json:"display_id"`
}

// Options configures a Service.
type Options struct {
	// Playback carries timings and the clock for every controller. Callbacks are replaced.
	Playback playback.Options
	// Lookahead is how far ahead PrefetchUpcoming looks for video windows.
	Lookahead time.Duration
	// AutoStart starts a display's controller when its first screen connects and stops it
	// when the last one leaves.
	AutoStart bool
	Logger    *zap.Logger
}

// Service owns the controller registry of this instance.
type Service struct {
	ads       AdSource
	hub       Broadcaster
	cache     MediaResolver
	prefetch  PrefetchQueue
	registry  *playback.Registry
	base      playback.Options
	clock     clockwork.Clock
	lookahead time.Duration
	autoStart bool
	logger    *zap.Logger
}

// NewService creates a Service. cache and prefetch may be nil.
func NewService(ads AdSource, hub Broadcaster, cache MediaResolver, prefetch PrefetchQueue, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Playback.Clock == nil {
		opts.Playback.Clock = clockwork.NewRealClock()
	}
	s := &Service{
		ads:       ads,
		hub:       hub,
		cache:     cache,
		prefetch:  prefetch,
		base:      opts.Playback,
		clock:     opts.Playback.Clock,
		lookahead: opts.Lookahead,
		autoStart: opts.AutoStart,
		logger:    opts.Logger,
	}
	s.registry = playback.NewRegistry(s.optionsFor)
	return s
}

func (s *Service) optionsFor(displayID uuid.UUID) playback.Options {
	o := s.base
	o.Logger = s.logger.With(zap.String("display_id", displayID.String()))
	o.OnAdStart = func(ad models.Advertisement) { s.onAdStart(displayID, ad) }
	o.OnReturnToNormal = func() { s.hub.Publish(displayID, EventAdBreakEnd, AdBreakEndEvent{DisplayID: displayID}) }
	return o
}

func (s *Service) onAdStart(displayID uuid.UUID, ad models.Advertisement) {
	ev := AdStartEvent{
		DisplayID: displayID,
		AdID:      ad.ID,
		Title:     ad.Title,
		Caption:   ad.Caption,
		MediaType: ad.MediaType,
		MediaURL:  ad.MediaURL,
		Duration:  ad.Duration,
		PlayCount: ad.PlayCount,
	}
	if snap, ok := s.registry.State(displayID); ok {
		ev.Position = snap.CurrentPosition
		ev.QueueLength = snap.QueueLength
	}
	if ad.IsVideo() && s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		handle, ok, err := s.cache.GetBlobURL(ctx, ad.ID)
		switch {
		case err != nil:
			s.logger.Warn("resolve cached video failed", zap.String("ad_id", ad.ID), zap.Error(err))
		case ok:
			ev.MediaURL = handle
			ev.Cached = true
		default:
			s.enqueue(ctx, displayID, ad)
		}
		cancel()
	}
	s.hub.Publish(displayID, EventAdStart, ev)
}

// StartDisplay loads the display's ads and starts its controller. It reports whether a
// controller was started; false means one was already running.
func (s *Service) StartDisplay(ctx context.Context, displayID uuid.UUID) (bool, error) {
	list, err := s.ads.ListByDisplay(ctx, displayID)
	if err != nil {
		return false, fmt.Errorf("load ads for display %s: %w", displayID, err)
	}
	return s.registry.Start(displayID, list), nil
}

// StopDisplay stops the display's controller if one is running.
func (s *Service) StopDisplay(displayID uuid.UUID) {
	s.registry.Stop(displayID)
}

// Reload refreshes the ad list of a running controller. Stopped displays are left alone.
func (s *Service) Reload(ctx context.Context, displayID uuid.UUID) error {
	if _, running := s.registry.State(displayID); !running {
		return nil
	}
	list, err := s.ads.ListByDisplay(ctx, displayID)
	if err != nil {
		return fmt.Errorf("load ads for display %s: %w", displayID, err)
	}
	s.registry.Reload(displayID, list)
	return nil
}

// Complete forwards a screen's completion signal. It reports whether a controller was running.
func (s *Service) Complete(displayID uuid.UUID) bool {
	return s.registry.Complete(displayID)
}

// State returns the playback snapshot of a running display.
func (s *Service) State(displayID uuid.UUID) (playback.Snapshot, bool) {
	return s.registry.State(displayID)
}

// HandleInbound is the realtime hub's inbound handler.
func (s *Service) HandleInbound(displayID uuid.UUID, event string, _ json.RawMessage) {
	switch event {
	case EventAdComplete:
		if !s.Complete(displayID) {
			s.logger.Debug("ad_complete for stopped display", zap.String("display_id", displayID.String()))
		}
	default:
		s.logger.Debug("ignoring screen event", zap.String("display_id", displayID.String()), zap.String("event", event))
	}
}

// HandlePresence is the realtime hub's presence handler.
func (s *Service) HandlePresence(displayID uuid.UUID, count int) {
	if !s.autoStart {
		return
	}
	if count == 0 {
		s.StopDisplay(displayID)
		return
	}
	if _, err := s.StartDisplay(context.Background(), displayID); err != nil {
		s.logger.Error("auto start display failed", zap.String("display_id", displayID.String()), zap.Error(err))
	}
}

// PrefetchUpcoming queues every uncached video whose window opens within the lookahead on a
// running display. It returns the number of jobs added.
func (s *Service) PrefetchUpcoming(ctx context.Context) (int, error) {
	if s.prefetch == nil {
		return 0, nil
	}
	now := s.clock.Now()
	added := 0
	for _, displayID := range s.registry.Running() {
		list, err := s.ads.ListByDisplay(ctx, displayID)
		if err != nil {
			return added, fmt.Errorf("load ads for display %s: %w", displayID, err)
		}
		for _, ad := range videocache.Upcoming(list, now, s.lookahead) {
			if s.cache != nil {
				if _, ok, err := s.cache.GetBlobURL(ctx, ad.ID); err == nil && ok {
					continue
				}
			}
			if s.enqueue(ctx, displayID, ad) {
				added++
			}
		}
	}
	return added, nil
}

// RunPrefetch calls PrefetchUpcoming every interval until ctx is done.
func (s *Service) RunPrefetch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PrefetchUpcoming(ctx)
			if err != nil {
				s.logger.Warn("prefetch scan failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("prefetch scan queued videos", zap.Int("jobs", n))
			}
		}
	}
}

// Shutdown stops every controller.
func (s *Service) Shutdown() {
	s.registry.StopAll()
}

func (s *Service) enqueue(ctx context.Context, displayID uuid.UUID, ad models.Advertisement) bool {
	if s.prefetch == nil {
		return false
	}
	added, err := s.prefetch.EnqueueVideoPrefetch(ctx, queue.VideoPrefetchPayload{VideoID: ad.ID, URL: ad.MediaURL, DisplayID: displayID})
	if err != nil {
		s.logger.Warn("enqueue prefetch failed", zap.String("ad_id", ad.ID), zap.Error(err))
		return false
	}
	return added
}
