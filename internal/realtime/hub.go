package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// PresenceHandler is called when the number of screens connected for a display changes.
type PresenceHandler func(displayID uuid.UUID, count int)

// InboundHandler is called for every event a screen sends.
type InboundHandler func(displayID uuid.UUID, event string, data json.RawMessage)

// Hub maintains display_id -> set of screen connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// displayID -> map[clientID]*Client
	displays   map[uuid.UUID]map[string]*Client
	subs       map[uuid.UUID]func() // cancel Redis subscription per display
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	onPresence PresenceHandler
	onInbound  InboundHandler
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishDisplayEvent(displayID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to display channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeDisplay(displayID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		displays: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetPresenceHandler sets the callback for connection count changes.
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// SetInboundHandler sets the callback for events sent by screens.
func (h *Hub) SetInboundHandler(fn InboundHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInbound = fn
}

// Register adds a client to a display room. Starts Redis subscription for this display if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.displays[c.DisplayID] == nil {
		h.displays[c.DisplayID] = make(map[string]*Client)
		if h.redisSub != nil {
			displayID := c.DisplayID
			cancel, err := h.redisSub.SubscribeDisplay(displayID, func(event string, payload []byte) {
				h.BroadcastToDisplay(displayID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[displayID] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("display_id", displayID.String()), zap.Error(err))
			}
		}
	}
	h.displays[c.DisplayID][c.ID] = c
	count := len(h.displays[c.DisplayID])
	onPresence := h.onPresence
	h.mu.Unlock()
	if onPresence != nil {
		onPresence(c.DisplayID, count)
	}
	h.logger.Debug("screen connected", zap.String("client_id", c.ID), zap.String("display_id", c.DisplayID.String()))
}

// Unregister removes a client from a display room. Cancels Redis subscription when last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	if m, ok := h.displays[c.DisplayID]; ok {
		if _, ok := m[c.ID]; !ok {
			h.mu.Unlock()
			return
		}
		delete(m, c.ID)
		count = len(m)
		if count == 0 {
			delete(h.displays, c.DisplayID)
			if cancel, ok := h.subs[c.DisplayID]; ok {
				cancel()
				delete(h.subs, c.DisplayID)
			}
		}
	}
	onPresence := h.onPresence
	h.mu.Unlock()
	if onPresence != nil {
		onPresence(c.DisplayID, count)
	}
	h.logger.Debug("screen disconnected", zap.String("client_id", c.ID), zap.String("display_id", c.DisplayID.String()))
}

// BroadcastToDisplay sends a message to all screens of a display (local only).
func (h *Hub) BroadcastToDisplay(displayID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.displays[displayID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("screen send buffer full, dropping event", zap.String("client_id", c.ID), zap.String("event", event))
		}
	}
}

// Publish delivers an event to every screen of a display on every instance. With Redis
// configured the local copy arrives through this instance's own subscription; without it,
// or when publishing fails, screens connected here get it directly.
func (h *Hub) Publish(displayID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	if h.redis != nil {
		err := h.redis.PublishDisplayEvent(displayID, event, data)
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally", zap.String("display_id", displayID.String()), zap.Error(err))
	}
	h.BroadcastToDisplay(displayID, event, json.RawMessage(data))
}

// ConnectedCount returns the number of screens connected for a display.
func (h *Hub) ConnectedCount(displayID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.displays[displayID])
}

func (h *Hub) dispatch(c *Client, msg WSMessage) {
	h.mu.RLock()
	onInbound := h.onInbound
	h.mu.RUnlock()
	if onInbound != nil {
		onInbound(c.DisplayID, msg.Event, msg.Data)
	}
}
