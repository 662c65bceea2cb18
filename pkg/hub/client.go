package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4 * 1024            // clients only send control frames
)

// Client is one websocket connection attached to a hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers conn with h. initial messages are queued before any
// broadcast, so a new client starts from a snapshot.
func NewClient(h *Hub, conn *websocket.Conn, initial ...Message) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan Message, clientBuffer+len(initial)),
	}
	for _, m := range initial {
		c.send <- m
	}
	h.register <- c
	return c
}

// Run pumps messages until the connection closes. It blocks, which keeps
// the fiber websocket handler alive.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump drains control frames to detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			wsType := websocket.TextMessage
			if msg.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
