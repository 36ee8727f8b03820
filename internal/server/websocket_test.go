package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slimmon-go/internal/events"
)

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocket_ForwardsPlayerUpdates(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	manager := NewWebSocketManager(bus, zap.NewNop())
	defer manager.Stop()

	srv := httptest.NewServer(http.HandlerFunc(manager.HandleWebSocket))
	defer srv.Close()

	conn := dialTestServer(t, srv)

	// Wait for registration before publishing.
	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)

	bus.Publish(events.Event{
		Type:     events.PlayerUpdated,
		PlayerID: "00:04:20:aa:bb:cc",
		Status:   map[string]interface{}{"mode": "play"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, events.PlayerUpdated, got.Type)
	assert.Equal(t, "00:04:20:aa:bb:cc", got.PlayerID)
}

func TestWebSocket_ClientDisconnectUnregisters(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	manager := NewWebSocketManager(bus, zap.NewNop())
	defer manager.Stop()

	srv := httptest.NewServer(http.HandlerFunc(manager.HandleWebSocket))
	defer srv.Close()

	conn := dialTestServer(t, srv)
	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocket_StopWhileEventsFlowing(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	manager := NewWebSocketManager(bus, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(manager.HandleWebSocket))
	defer srv.Close()

	dialTestServer(t, srv)
	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)

	// Keep the bus hot across the teardown window.
	publishing := make(chan struct{})
	go func() {
		defer close(publishing)
		for i := 0; i < 500; i++ {
			bus.Publish(events.Event{
				Type:     events.PlayerUpdated,
				PlayerID: "00:04:20:aa:bb:cc",
				Status:   map[string]interface{}{"mode": "play"},
			})
		}
	}()

	manager.Stop()
	<-publishing

	// Events arriving after the stop must be dropped, not panic the pumps.
	bus.Publish(events.Event{Type: events.PlayerUpdated, PlayerID: "00:04:20:aa:bb:cc"})
	assert.Equal(t, 0, manager.ActiveConnections())
}

func TestWebSocket_StopClosesClients(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	manager := NewWebSocketManager(bus, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(manager.HandleWebSocket))
	defer srv.Close()

	conn := dialTestServer(t, srv)
	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)

	manager.Stop()
	manager.Stop() // idempotent

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server stop should terminate the connection")
}
