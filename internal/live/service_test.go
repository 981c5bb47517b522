package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-signage/backend/internal/models"
	"github.com/aura-signage/backend/internal/playback"
	"github.com/aura-signage/backend/internal/playback/playbacktest"
	"github.com/aura-signage/backend/internal/videocache"
	"github.com/aura-signage/backend/pkg/queue"
)

// Tuesday 10:00 UTC.
var t0 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

type fakeAds struct {
	mu   sync.Mutex
	byID map[uuid.UUID][]models.Advertisement
}

func (f *fakeAds) set(displayID uuid.UUID, ads ...models.Advertisement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[displayID] = ads
}

func (f *fakeAds) ListByDisplay(_ context.Context, displayID uuid.UUID) ([]models.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Advertisement(nil), f.byID[displayID]...), nil
}

type event struct {
	displayID uuid.UUID
	name      string
	payload   interface{}
}

type fakeHub struct {
	mu     sync.Mutex
	events []event
}

func (h *fakeHub) Publish(displayID uuid.UUID, name string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event{displayID, name, payload})
}

func (h *fakeHub) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.name)
	}
	return out
}

func (h *fakeHub) last() event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[len(h.events)-1]
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.VideoPrefetchPayload
	seen map[string]bool
}

func (q *fakeQueue) EnqueueVideoPrefetch(_ context.Context, p queue.VideoPrefetchPayload) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen[p.VideoID] {
		return false, nil
	}
	q.seen[p.VideoID] = true
	q.jobs = append(q.jobs, p)
	return true, nil
}

func ad(id string, mediaType models.MediaType, priority int) models.Advertisement {
	p := priority
	a := models.Advertisement{
		ID:        id,
		Title:     "ad " + id,
		MediaURL:  "https://cdn.example.com/" + id,
		MediaType: mediaType,
		Priority:  &p,
		Schedule: models.Schedule{
			TimeRange:  models.TimeRange{Start: models.MustTimeOfDay("09:00"), End: models.MustTimeOfDay("17:00")},
			Frequency:  600,
			DaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6},
			StartDate:  models.MustDate("2024-01-01"),
			EndDate:    models.MustDate("2024-12-31"),
		},
	}
	if mediaType == models.MediaTypeVideo {
		a.PlayCount = 1
	} else {
		a.Duration = 5000
	}
	return a
}

type fixture struct {
	svc   *Service
	fake  *playbacktest.Clock
	ads   *fakeAds
	hub   *fakeHub
	queue *fakeQueue
	cache *videocache.Store
	back  *videocache.MemoryBackend
}

func newFixture(t *testing.T, autoStart bool) *fixture {
	t.Helper()
	f := &fixture{
		fake:  playbacktest.NewClock(t, t0),
		ads:   &fakeAds{byID: make(map[uuid.UUID][]models.Advertisement)},
		hub:   &fakeHub{},
		queue: &fakeQueue{seen: make(map[string]bool)},
		back:  videocache.NewMemoryBackend(),
	}
	var err error
	f.cache, err = videocache.Open(context.Background(), f.back, videocache.WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	f.svc = NewService(f.ads, f.hub, f.cache, f.queue, Options{
		Playback:  playback.Options{Clock: f.fake},
		Lookahead: 30 * time.Minute,
		AutoStart: autoStart,
	})
	t.Cleanup(f.svc.Shutdown)
	return f
}

func TestService_BreakBroadcastsStartAndEnd(t *testing.T) {
	f := newFixture(t, false)
	display := uuid.New()
	f.ads.set(display, ad("img", models.MediaTypeImage, 2), ad("vid", models.MediaTypeVideo, 1))
	require.NoError(t, f.back.Put(context.Background(), &videocache.Record{ID: "vid", Size: 1, CachedAt: t0, Blob: []byte{1}}))

	started, err := f.svc.StartDisplay(context.Background(), display)
	require.NoError(t, err)
	assert.True(t, started)
	started, err = f.svc.StartDisplay(context.Background(), display)
	require.NoError(t, err)
	assert.False(t, started)

	f.fake.Advance(playback.DefaultStartDelay)
	first := f.hub.last()
	require.Equal(t, EventAdStart, first.name)
	ev := first.payload.(AdStartEvent)
	assert.Equal(t, "vid", ev.AdID)
	assert.True(t, ev.Cached)
	assert.Contains(t, ev.MediaURL, "/cache/videos/vid?v=")
	assert.Equal(t, 1, ev.Position)
	assert.Equal(t, 2, ev.QueueLength)

	f.svc.HandleInbound(display, EventAdComplete, json.RawMessage(`{}`))
	f.fake.Advance(playback.DefaultAdvanceDelay)
	ev = f.hub.last().payload.(AdStartEvent)
	assert.Equal(t, "img", ev.AdID)
	assert.False(t, ev.Cached)
	assert.Equal(t, "https://cdn.example.com/img", ev.MediaURL)
	assert.Equal(t, 2, ev.Position)

	assert.True(t, f.svc.Complete(display))
	f.fake.Advance(playback.DefaultAdvanceDelay + playback.DefaultReturnDelay)
	assert.Equal(t, []string{EventAdStart, EventAdStart, EventAdBreakEnd}, f.hub.names())
	assert.Equal(t, AdBreakEndEvent{DisplayID: display}, f.hub.last().payload)
}

func TestService_UncachedVideoPlaysFromNetworkAndQueuesPrefetch(t *testing.T) {
	f := newFixture(t, false)
	display := uuid.New()
	f.ads.set(display, ad("vid", models.MediaTypeVideo, 1))

	_, err := f.svc.StartDisplay(context.Background(), display)
	require.NoError(t, err)
	f.fake.Advance(playback.DefaultStartDelay)

	ev := f.hub.last().payload.(AdStartEvent)
	assert.False(t, ev.Cached)
	assert.Equal(t, "https://cdn.example.com/vid", ev.MediaURL)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, "vid", f.queue.jobs[0].VideoID)
}

func TestService_ReloadAndStop(t *testing.T) {
	f := newFixture(t, false)
	display := uuid.New()
	require.NoError(t, f.svc.Reload(context.Background(), display), "stopped displays are ignored")

	_, err := f.svc.StartDisplay(context.Background(), display)
	require.NoError(t, err)
	f.fake.Advance(time.Minute)
	assert.Empty(t, f.hub.names())

	f.ads.set(display, ad("late", models.MediaTypeImage, 1))
	require.NoError(t, f.svc.Reload(context.Background(), display))
	f.fake.Advance(playback.DefaultCheckInterval + playback.DefaultStartDelay)
	assert.Equal(t, "late", f.hub.last().payload.(AdStartEvent).AdID)

	f.svc.StopDisplay(display)
	_, running := f.svc.State(display)
	assert.False(t, running)
	assert.False(t, f.svc.Complete(display))
}

func TestService_PresenceAutoStart(t *testing.T) {
	f := newFixture(t, true)
	display := uuid.New()
	f.ads.set(display, ad("img", models.MediaTypeImage, 1))

	f.svc.HandlePresence(display, 1)
	_, running := f.svc.State(display)
	assert.True(t, running)

	f.svc.HandlePresence(display, 2)
	f.svc.HandlePresence(display, 0)
	_, running = f.svc.State(display)
	assert.False(t, running)
}

func TestService_PrefetchUpcoming(t *testing.T) {
	f := newFixture(t, false)
	display := uuid.New()
	cached := ad("cached", models.MediaTypeVideo, 1)
	soon := ad("soon", models.MediaTypeVideo, 1)
	soon.Schedule.TimeRange.Start = models.MustTimeOfDay("10:20")
	later := ad("later", models.MediaTypeVideo, 1)
	later.Schedule.TimeRange.Start = models.MustTimeOfDay("15:00")
	image := ad("image", models.MediaTypeImage, 1)
	f.ads.set(display, cached, soon, later, image)
	require.NoError(t, f.back.Put(context.Background(), &videocache.Record{ID: "cached", Size: 1, CachedAt: t0, Blob: []byte{1}}))

	n, err := f.svc.PrefetchUpcoming(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "only running displays are scanned")

	_, err = f.svc.StartDisplay(context.Background(), display)
	require.NoError(t, err)
	n, err = f.svc.PrefetchUpcoming(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, "soon", f.queue.jobs[0].VideoID)
	assert.Equal(t, display, f.queue.jobs[0].DisplayID)
}

func TestHandler_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, false)
	display := uuid.New()
	f.ads.set(display, ad("img", models.MediaTypeImage, 1))
	r := gin.New()
	NewHandler(f.svc, nil).Register(r)

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}
	base := "/displays/" + display.String() + "/playback"

	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, base).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, base+"/complete").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/displays/x/playback/start").Code)

	require.Equal(t, http.StatusOK, do(http.MethodPost, base+"/start").Code)
	f.fake.Advance(playback.DefaultStartDelay)

	w := do(http.MethodGet, base)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data playback.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "playing", body.Data.StateName)
	require.NotNil(t, body.Data.CurrentAd)
	assert.Equal(t, "img", body.Data.CurrentAd.ID)

	assert.Equal(t, http.StatusOK, do(http.MethodPost, base+"/complete").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, base+"/stop").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, base).Code)
}
