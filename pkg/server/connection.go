package server

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/ban-chess-server/pkg/messages"
)

// Connection wraps one client websocket. A connection is anonymous until a
// JOIN_SESSION binds it to a player and a session.
type Connection struct {
	ID      uuid.UUID
	ws      *websocket.Conn // The underlying Websocket connection
	hub     *Hub
	send    chan []byte // Buffered channel of outbound messages.
	writeMu sync.Mutex  // Mutex to protect concurrent writes to ws.

	mu        sync.Mutex
	playerID  string
	sessionID uuid.UUID
	unsub     func() // tears down the session broadcast subscription
	closed    bool   // send channel closed; no further deliveries

	logger *zap.Logger
}

// NewConnection wraps an upgraded websocket.
func NewConnection(ws *websocket.Conn, hub *Hub, logger *zap.Logger) *Connection {
	return &Connection{
		ID:     uuid.New(),
		ws:     ws,
		hub:    hub,
		send:   make(chan []byte, 256), // buffered for outgoing messages
		logger: logger,
	}
}

// bind attaches the connection to a player in a session. Any previous
// subscription is torn down first.
func (c *Connection) bind(playerID string, sessionID uuid.UUID, unsub func()) {
	c.mu.Lock()
	prev := c.unsub
	c.playerID = playerID
	c.sessionID = sessionID
	c.unsub = unsub
	c.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// binding returns the player/session this connection is attached to.
func (c *Connection) binding() (string, uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID, c.sessionID, c.playerID != ""
}

// detach clears the binding and returns the subscription teardown, if any.
func (c *Connection) detach() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	unsub := c.unsub
	c.unsub = nil
	return unsub
}

// closeSend shuts the outbound channel exactly once. Publisher handlers run on
// their own goroutines and may deliver after teardown started, so closing and
// sending share the connection mutex.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump handles inbound messages from the client
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("read error", zap.Error(err),
				zap.String("connection_id", c.ID.String()))
			break
		}

		// We only handle text
		if msgType == websocket.TextMessage {
			var inbound messages.InboundMessage
			if err := json.Unmarshal(msg, &inbound); err == nil {
				c.hub.inbound <- InboundHubMessage{
					Conn:    c,
					Message: inbound,
				}
			} else {
				c.logger.Error("failed to parse inbound JSON", zap.Error(err))
			}
		}
	}
}

// WritePump handles outbound messages to the client
func (c *Connection) WritePump() {
	defer func() {
		c.ws.Close()
	}()

	for {
		message, ok := <-c.send
		if !ok {
			// Channel closed
			c.logger.Info("send channel closed for connection",
				zap.String("connection_id", c.ID.String()))
			return
		}
		c.writeMu.Lock()
		err := c.ws.WriteMessage(websocket.TextMessage, message)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Error("write error", zap.Error(err))
			return
		}
	}
}

// SendJSON is a helper for sending JSON to this connection. A message racing
// the connection's teardown is dropped instead of hitting a closed channel.
func (c *Connection) SendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("dropping message, send buffer full",
			zap.String("connection_id", c.ID.String()))
	}
}

// SendEvent wraps payload in the outbound envelope and sends it.
func (c *Connection) SendEvent(event string, payload interface{}) {
	c.SendJSON(messages.OutboundMessage{Event: event, Payload: payload})
}
