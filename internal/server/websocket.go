// Package server exposes monitor events to observing clients over WebSocket,
// so a UI can render player status without polling the monitor itself.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"slimmon-go/internal/config"
	"slimmon-go/internal/events"
)

const maxMessageSize = 4 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The bridge is meant for same-host UIs; restrict at the
		// reverse proxy when exposed further.
		return true
	},
}

// WebSocketManager manages WebSocket connections and event broadcasting
type WebSocketManager struct {
	eventBus    *events.Bus
	logger      *zap.Logger
	connections map[*websocket.Conn]*wsClient
	mu          sync.RWMutex
	register    chan *wsClient
	unregister  chan *wsClient
	stopOnce    sync.Once
	stopChan    chan struct{}
}

// wsClient represents a WebSocket client connection. The send channel is
// never closed; teardown is signalled through stopChan so a concurrent
// eventPump can never hit a closed channel.
type wsClient struct {
	conn        *websocket.Conn
	send        chan []byte
	manager     *WebSocketManager
	updates     <-chan events.Event
	disconnects <-chan events.Event
	stopOnce    sync.Once
	stopChan    chan struct{}
}

// shutdown signals the client's pumps to exit. Safe to call more than once.
func (c *wsClient) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(eventBus *events.Bus, logger *zap.Logger) *WebSocketManager {
	manager := &WebSocketManager{
		eventBus:    eventBus,
		logger:      logger.Named("websocket"),
		connections: make(map[*websocket.Conn]*wsClient),
		register:    make(chan *wsClient),
		unregister:  make(chan *wsClient),
		stopChan:    make(chan struct{}),
	}

	go manager.run()

	return manager
}

// run manages client registration and teardown
func (m *WebSocketManager) run() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.connections[client.conn] = client
			total := len(m.connections)
			m.mu.Unlock()
			m.logger.Info("WebSocket client registered",
				zap.Int("total_clients", total))

		case client := <-m.unregister:
			m.mu.Lock()
			delete(m.connections, client.conn)
			total := len(m.connections)
			m.mu.Unlock()
			m.logger.Info("WebSocket client unregistered",
				zap.Int("total_clients", total))

		case <-m.stopChan:
			m.mu.Lock()
			for conn, client := range m.connections {
				client.shutdown()
				conn.Close()
			}
			m.connections = make(map[*websocket.Conn]*wsClient)
			m.mu.Unlock()
			return
		}
	}
}

// Stop stops the WebSocket manager and closes all connections. Idempotent.
func (m *WebSocketManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// ActiveConnections returns the number of active WebSocket connections
func (m *WebSocketManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleWebSocket handles WebSocket connection upgrades
func (m *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:        conn,
		send:        make(chan []byte, 64),
		manager:     m,
		updates:     m.eventBus.Subscribe(events.PlayerUpdated),
		disconnects: m.eventBus.Subscribe(events.PlayerDisconnected),
		stopChan:    make(chan struct{}),
	}

	m.register <- client

	go client.writePump()
	go client.readPump()
	go client.eventPump()
}

// readPump pumps messages from the WebSocket connection to handle pongs
func (c *wsClient) readPump() {
	defer func() {
		c.shutdown()
		select {
		case c.manager.unregister <- c:
		case <-c.manager.stopChan:
			// Manager's run loop is gone; it already cleared the map.
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.manager.logger.Error("WebSocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.stopChan:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// eventPump forwards bus events to the client as JSON frames
func (c *wsClient) eventPump() {
	defer func() {
		c.manager.eventBus.Unsubscribe(events.PlayerUpdated, c.updates)
		c.manager.eventBus.Unsubscribe(events.PlayerDisconnected, c.disconnects)
	}()

	for {
		var event events.Event
		var ok bool
		select {
		case event, ok = <-c.updates:
		case event, ok = <-c.disconnects:
		case <-c.stopChan:
			return
		}
		if !ok {
			// Bus closed.
			return
		}

		data, err := json.Marshal(event)
		if err != nil {
			c.manager.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}

		select {
		case c.send <- data:
		case <-c.stopChan:
			return
		default:
			// Client too slow, drop the frame rather than block.
		}
	}
}
