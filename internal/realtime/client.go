package realtime

import (
	"log/slog"
	"sync"
	"time"

	"trade_desk/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	maxFrameSize = 64 * 1024
)

// Client is a websocket Peer. All writes go through one pump goroutine, so
// events reach the socket in the order Send accepted them.
type Client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan domain.Envelope
	closed bool

	done chan struct{}
}

// NewClient wraps conn. One slot of the buffer is reserved for a terminal event.
func NewClient(conn *websocket.Conn, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan domain.Envelope, buffer+1),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Send(ev domain.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.send) >= cap(c.send)-1 {
		return false
	}
	c.send <- ev
	return true
}

func (c *Client) CloseWith(final domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.send <- final
	close(c.send)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Done is closed once the write pump has closed the socket.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the send queue to the socket and pings on interval.
func (c *Client) WritePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Debug("Write failed", slog.String("conn", c.id), slog.Any("error", err))
				c.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				c.drain()
				return
			}
		}
	}
}

func (c *Client) drain() {
	for range c.send {
	}
}
