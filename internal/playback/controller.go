// Package playback sequences scheduled advertisements on a display: it periodically asks the
// schedule evaluator for eligible ads, plays them one at a time, and hands control back to the
// display's normal loop when the break is over.
package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/aura-signage/backend/internal/models"
	"github.com/aura-signage/backend/internal/schedule"
)

// Default timings.
const (
	DefaultCheckInterval = 10 * time.Second
	DefaultStartDelay    = 100 * time.Millisecond
	DefaultAdvanceDelay  = 300 * time.Millisecond
	DefaultReturnDelay   = 500 * time.Millisecond
)

// State is the controller's position in an ad break.
type State int

const (
	// StateIdle: no ad break; periodic checks may start one.
	StateIdle State = iota
	// StatePlaying: CurrentAd is on screen and the host has not reported completion yet.
	StatePlaying
	// StateAdvancing: between two ads, or before the first ad of a new break.
	StateAdvancing
	// StateReturning: the break is over and the return-to-normal callback is pending.
	StateReturning
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StateAdvancing:
		return "advancing"
	case StateReturning:
		return "returning"
	default:
		return "idle"
	}
}

// Options configures a Controller. Zero durations take the defaults.
type Options struct {
	CheckInterval time.Duration
	StartDelay    time.Duration
	AdvanceDelay  time.Duration
	ReturnDelay   time.Duration

	Clock  clockwork.Clock
	Logger *zap.Logger

	// OnAdStart is called when an ad becomes current. The host must call OnAdComplete
	// once it has finished rendering it.
	OnAdStart func(ad models.Advertisement)
	// OnReturnToNormal is called once per finished ad break.
	OnReturnToNormal func()
}

func (o *Options) setDefaults() {
	if o.CheckInterval <= 0 {
		o.CheckInterval = DefaultCheckInterval
	}
	if o.StartDelay <= 0 {
		o.StartDelay = DefaultStartDelay
	}
	if o.AdvanceDelay <= 0 {
		o.AdvanceDelay = DefaultAdvanceDelay
	}
	if o.ReturnDelay <= 0 {
		o.ReturnDelay = DefaultReturnDelay
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Snapshot is what the host needs to render the current ad break.
type Snapshot struct {
	State           State                 `json:"-"`
	StateName       string                `json:"state"`
	CurrentAd       *models.Advertisement `json:"current_ad,omitempty"`
	IsPlaying       bool                  `json:"is_playing"`
	QueueLength     int                   `json:"queue_length"`
	CurrentPosition int                   `json:"current_position"`
}

// Controller owns one display's ad-break state machine. At most one ad is current at a time,
// and a break always plays in the order fixed when it started.
type Controller struct {
	opts      Options
	evaluator *schedule.Evaluator
	sched     *Scheduler
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	ads     []models.Advertisement
	state   State
	queue   []models.Advertisement
	index   int
	current *models.Advertisement
}

// NewController creates a stopped controller for ads.
func NewController(ads []models.Advertisement, opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		opts:      opts,
		evaluator: schedule.NewEvaluator(),
		sched:     NewScheduler(opts.Clock),
		logger:    opts.Logger,
		ads:       cloneAds(ads),
	}
}

// Start runs a schedule check now and then every CheckInterval. Call Stop to release timers.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.sched.Every(c.opts.CheckInterval, c.check)
	c.check()
	c.logger.Info("ad controller started", zap.Duration("interval", c.opts.CheckInterval))
}

// Stop cancels the periodic check and every pending transition, and drops any break in
// progress without calling OnReturnToNormal.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.sched.Stop()
	c.resetLocked()
	c.mu.Unlock()
	c.logger.Info("ad controller stopped")
}

// SetAdvertisements replaces the ad list used by future checks. A break in progress keeps
// its queue.
func (c *Controller) SetAdvertisements(ads []models.Advertisement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ads = cloneAds(ads)
}

// OnAdComplete tells the controller the host finished rendering the current ad. Calls while
// no ad is playing are ignored.
func (c *Controller) OnAdComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	c.logger.Debug("ad completed", zap.String("ad_id", c.current.ID), zap.Int("position", c.index+1))
	c.current = nil
	c.index++
	c.state = StateAdvancing
	c.sched.After(c.opts.AdvanceDelay, c.advance)
}

// State returns a copy of the controller's externally visible state.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:       c.state,
		StateName:   c.state.String(),
		IsPlaying:   c.state == StatePlaying,
		QueueLength: len(c.queue),
	}
	if len(c.queue) > 0 {
		snap.CurrentPosition = c.index + 1
	}
	if c.current != nil {
		ad := *c.current
		snap.CurrentAd = &ad
	}
	return snap
}

func (c *Controller) check() {
	c.mu.Lock()
	if !c.running || c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	matches := c.evaluator.Evaluate(c.ads, c.opts.Clock.Now())
	if len(matches) == 0 {
		c.mu.Unlock()
		return
	}
	c.queue = matches
	c.index = 0
	c.state = StateAdvancing
	c.sched.After(c.opts.StartDelay, c.advance)
	c.mu.Unlock()

	c.logger.Info("ad break started", zap.Int("queue_length", len(matches)), zap.String("first_ad_id", matches[0].ID))
}

func (c *Controller) advance() {
	c.mu.Lock()
	if c.state != StateAdvancing {
		c.mu.Unlock()
		return
	}
	if c.index >= len(c.queue) {
		played := len(c.queue)
		c.queue = nil
		c.index = 0
		c.state = StateReturning
		c.sched.After(c.opts.ReturnDelay, c.returnToNormal)
		c.mu.Unlock()
		c.logger.Info("ad break finished", zap.Int("played", played))
		return
	}
	ad := c.queue[c.index]
	c.current = &ad
	c.state = StatePlaying
	onStart := c.opts.OnAdStart
	position := c.index + 1
	c.mu.Unlock()

	c.logger.Debug("ad playing", zap.String("ad_id", ad.ID), zap.Int("position", position))
	if onStart != nil {
		onStart(ad)
	}
}

func (c *Controller) returnToNormal() {
	c.mu.Lock()
	if c.state != StateReturning {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	onReturn := c.opts.OnReturnToNormal
	c.mu.Unlock()

	if onReturn != nil {
		onReturn()
	}
}

func (c *Controller) resetLocked() {
	c.queue = nil
	c.index = 0
	c.current = nil
	c.state = StateIdle
}

func cloneAds(ads []models.Advertisement) []models.Advertisement {
	out := make([]models.Advertisement, len(ads))
	copy(out, ads)
	return out
}
