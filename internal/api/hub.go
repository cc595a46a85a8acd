package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Client is one live websocket connection for one authenticated player.
type Client struct {
	ID       string
	PlayerID string

	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newClient(playerID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}
}

// enqueue hands a frame to the write pump without blocking. A full buffer
// means the client is not draining; the frame is dropped and the connection
// is left to the ping/pong deadlines.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() {
		close(c.send)
	})
}

// readPump reads inbound frames and dispatches them until the connection
// dies; it owns connection teardown.
func (c *Client) readPump(a *API) {
	defer func() {
		a.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Info("ws: read failed", "player", c.PlayerID, "error", err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		a.dispatch(ctx, c, msg)
		cancel()
	}
}

// writePump serializes outbound frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// hub tracks live clients by connection id.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func newHub() *hub {
	return &hub{
		clients: make(map[string]*Client),
	}
}

func (h *hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, id)
}

func (h *hub) get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	return c, ok
}
