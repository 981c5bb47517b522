package playback

import (
	"sync"

	"github.com/google/uuid"

	"github.com/aura-signage/backend/internal/models"
)

// OptionsFunc builds controller options for a display, typically binding its callbacks to
// that display's screens.
type OptionsFunc func(displayID uuid.UUID) Options

// Registry holds the running controller of each display (thread-safe).
type Registry struct {
	mu          sync.RWMutex
	controllers map[uuid.UUID]*Controller
	options     OptionsFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(options OptionsFunc) *Registry {
	if options == nil {
		options = func(uuid.UUID) Options { return Options{} }
	}
	return &Registry{controllers: make(map[uuid.UUID]*Controller), options: options}
}

// Start starts a controller for displayID if none is running. It reports whether a new
// controller was started.
func (reg *Registry) Start(displayID uuid.UUID, ads []models.Advertisement) bool {
	reg.mu.Lock()
	if reg.controllers[displayID] != nil {
		reg.mu.Unlock()
		return false
	}
	c := NewController(ads, reg.options(displayID))
	reg.controllers[displayID] = c
	reg.mu.Unlock()

	c.Start()
	return true
}

// Stop stops the controller for displayID and removes it from the registry.
func (reg *Registry) Stop(displayID uuid.UUID) {
	reg.mu.Lock()
	c := reg.controllers[displayID]
	delete(reg.controllers, displayID)
	reg.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// StopAll stops every running controller.
func (reg *Registry) StopAll() {
	reg.mu.Lock()
	all := reg.controllers
	reg.controllers = make(map[uuid.UUID]*Controller)
	reg.mu.Unlock()
	for _, c := range all {
		c.Stop()
	}
}

// Reload swaps the ad list of a running controller. It reports whether one was running.
func (reg *Registry) Reload(displayID uuid.UUID, ads []models.Advertisement) bool {
	c := reg.get(displayID)
	if c == nil {
		return false
	}
	c.SetAdvertisements(ads)
	return true
}

// Complete forwards the host's completion signal. It reports whether a controller was running.
func (reg *Registry) Complete(displayID uuid.UUID) bool {
	c := reg.get(displayID)
	if c == nil {
		return false
	}
	c.OnAdComplete()
	return true
}

// State returns the snapshot of a running controller.
func (reg *Registry) State(displayID uuid.UUID) (Snapshot, bool) {
	c := reg.get(displayID)
	if c == nil {
		return Snapshot{}, false
	}
	return c.State(), true
}

// Running returns the ids of displays with a running controller.
func (reg *Registry) Running() []uuid.UUID {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(reg.controllers))
	for id := range reg.controllers {
		ids = append(ids, id)
	}
	return ids
}

func (reg *Registry) get(displayID uuid.UUID) *Controller {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.controllers[displayID]
}
