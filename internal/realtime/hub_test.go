package realtime

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbound struct {
	displayID uuid.UUID
	event     string
	data      string
}

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, hub.logger))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, displayID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?display_id="+displayID.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastReachesOnlyThatDisplay(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	url := newTestServer(t, hub)
	lobby, other := uuid.New(), uuid.New()

	a := dial(t, url, lobby)
	b := dial(t, url, lobby)
	c := dial(t, url, other)
	require.Eventually(t, func() bool {
		return hub.ConnectedCount(lobby) == 2 && hub.ConnectedCount(other) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish(lobby, "ad_start", map[string]string{"ad_id": "a1"})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, "ad_start", msg.Event)
		assert.JSONEq(t, `{"ad_id":"a1"}`, string(msg.Data))
	}

	require.NoError(t, c.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var msg WSMessage
	assert.Error(t, c.ReadJSON(&msg))
}

func TestHub_InboundAndPresence(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	var mu sync.Mutex
	var got []inbound
	var counts []int
	hub.SetInboundHandler(func(displayID uuid.UUID, event string, data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, inbound{displayID, event, string(data)})
	})
	hub.SetPresenceHandler(func(_ uuid.UUID, count int) {
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, count)
	})
	url := newTestServer(t, hub)
	display := uuid.New()

	conn := dial(t, url, display)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: "ad_complete", Data: json.RawMessage(`{"ad_id":"a1"}`)}))
	require.NoError(t, conn.WriteJSON(WSMessage{Data: json.RawMessage(`{}`)}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, inbound{display, "ad_complete", `{"ad_id":"a1"}`}, got[0])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ConnectedCount(display) == 0 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0}, counts)
}

func TestServeWs_RequiresDisplayID(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	url := newTestServer(t, hub)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?display_id=lobby", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

type loopbackRedis struct {
	mu       sync.Mutex
	handlers map[uuid.UUID]func(string, []byte)
	fail     bool
}

func (l *loopbackRedis) PublishDisplayEvent(displayID uuid.UUID, event string, payload []byte) error {
	l.mu.Lock()
	h := l.handlers[displayID]
	fail := l.fail
	l.mu.Unlock()
	if fail {
		return errors.New("redis down")
	}
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (l *loopbackRedis) SubscribeDisplay(displayID uuid.UUID, handler func(string, []byte)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[displayID] = handler
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, displayID)
	}, nil
}

func TestHub_PublishThroughRedisDeliversOnce(t *testing.T) {
	bus := &loopbackRedis{handlers: make(map[uuid.UUID]func(string, []byte))}
	hub := NewHub(nil, bus, bus)
	url := newTestServer(t, hub)
	display := uuid.New()
	conn := dial(t, url, display)
	require.Eventually(t, func() bool { return hub.ConnectedCount(display) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(display, "ad_break_end", map[string]int{"played": 2})
	msg := readMessage(t, conn)
	assert.Equal(t, "ad_break_end", msg.Event)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	assert.Error(t, conn.ReadJSON(&msg), "no duplicate delivery")
}

func TestHub_PublishFallsBackToLocal(t *testing.T) {
	bus := &loopbackRedis{handlers: make(map[uuid.UUID]func(string, []byte)), fail: true}
	hub := NewHub(nil, bus, bus)
	url := newTestServer(t, hub)
	display := uuid.New()
	conn := dial(t, url, display)
	require.Eventually(t, func() bool { return hub.ConnectedCount(display) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(display, "ad_start", map[string]string{"ad_id": "x"})
	assert.Equal(t, "ad_start", readMessage(t, conn).Event)
}
