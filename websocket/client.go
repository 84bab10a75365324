package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"downpour/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GetUpgrader returns the websocket upgrader.
func GetUpgrader() *websocket.Upgrader {
	return &upgrader
}

// Client is one websocket connection watching a job or batch id. The id
// "all" subscribes to every update.
type Client struct {
	hub  *hub
	conn *websocket.Conn
	send chan types.ProgressMessage
	id   string
}

// NewClient wraps an upgraded connection.
func NewClient(h Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:  h.(*hub),
		conn: conn,
		send: make(chan types.ProgressMessage, 256),
		id:   id,
	}
}

// StartPumps starts the read and write goroutines.
func (c *Client) StartPumps() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

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
			if err := c.conn.WriteJSON(msg); err != nil {
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
