package signal

import (
	"time"

	"github.com/gorilla/websocket"
)

// readPump reads frames from the websocket and dispatches them
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	pongWait := c.server.opts.PongTimeout
	c.conn.SetReadLimit(c.server.opts.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("websocket read error", "peer", c.id, "error", err)
			}
			return
		}
		// Any traffic counts as a sign of life.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.server.logger.Debug("dropping malformed frame", "peer", c.id, "error", err)
			continue
		}
		c.server.handler.Dispatch(c.id, msg)
	}
}

// writePump drains the send queue onto the websocket and keeps it alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.opts.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.server.logger.Warn("websocket write error", "peer", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
