package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"laundry-sync-backend/internal/identity"
)

// conn is one handshaken observer. The hub goroutine owns send and closes it
// when the connection is dropped.
type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	id   identity.Identity
	send chan Message
}

func (c *conn) pongWait() time.Duration {
	return c.hub.pingInterval * 2
}

// readPump consumes inbound frames until the peer goes away.
func (c *conn) readPump() {
	defer func() {
		c.hub.leave(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if c.hub.pingInterval > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("observer read failed", zap.String("user", c.id.UserID), zap.Error(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Debug("ignoring malformed frame", zap.String("user", c.id.UserID), zap.Error(err))
			continue
		}
		if c.hub.OnInbound != nil {
			c.hub.OnInbound(c.id, msg)
		}
	}
}

// writePump is the only writer on the socket.
func (c *conn) writePump() {
	var tick <-chan time.Time
	if c.hub.pingInterval > 0 {
		ticker := time.NewTicker(c.hub.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				c.hub.log.Debug("observer write failed", zap.String("user", c.id.UserID), zap.Error(err))
				return
			}

		case <-tick:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
