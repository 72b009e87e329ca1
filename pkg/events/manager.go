package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnectionManager manages WebSocket connections and their channel
// subscriptions, bridging bus events to connected clients.
type ConnectionManager struct {
	bus *Bus

	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads
// and writes (subscribe, unsubscribe, unregisterConnection) happen on the
// single goroutine that owns this connection (HandleConnection's read loop
// and its deferred cleanup). If a Connection is ever mutated from a
// different goroutine, subscriptions must be protected by a mutex.
type Connection struct {
	ID            string
	conn          *websocket.Conn
	send          chan []byte       // outbound queue drained by writeLoop
	subscriptions map[string]string // channel → bus subscriber id
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager on top of a bus.
func NewConnectionManager(bus *Bus, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		conn:          conn,
		send:          make(chan []byte, subscriberBuffer),
		subscriptions: make(map[string]string),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	// All writes go through writeLoop: gorilla allows one writer at a time.
	go m.writeLoop(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	// Read loop: process client messages until connection closes
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Connection closed or error; exit read loop
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll tears down every connection. Called on server shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.cancel()
		// Unblocks the read loop; unregister runs in HandleConnection's defer.
		_ = c.conn.Close()
	}
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe registers the connection on a bus channel and starts a
// forwarder moving bus events into the connection's outbound queue.
// Subscribing twice to the same channel is a no-op.
func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	if _, exists := c.subscriptions[channel]; exists {
		return
	}

	subID, events := m.bus.Subscribe(channel)
	c.subscriptions[channel] = subID

	// Ends when Unsubscribe closes the bus queue.
	go func() {
		for evt := range events {
			m.enqueue(c, evt.Payload)
		}
	}()
}

// unsubscribe removes the connection from a bus channel.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	subID, exists := c.subscriptions[channel]
	if !exists {
		return
	}
	delete(c.subscriptions, channel)
	m.bus.Unsubscribe(channel, subID)
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close()
}

// writeLoop drains the outbound queue onto the socket. Write errors tear
// the connection down.
func (m *ConnectionManager) writeLoop(c *Connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("Failed to send to WebSocket client",
					"connection_id", c.ID, "error", err)
				c.cancel()
				_ = c.conn.Close()
				return
			}
		}
	}
}

// sendJSON marshals and enqueues a JSON message for a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	m.enqueue(c, data)
}

// enqueue hands data to the write loop without blocking the caller. A full
// queue drops the message, mirroring the bus's slow-subscriber policy.
func (m *ConnectionManager) enqueue(c *Connection, data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("WebSocket send queue full, dropping message",
			"connection_id", c.ID)
	}
}
