package hub

import (
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Keepalive timing. Listeners never talk, so reads exist only to see pongs
// and notice a dead peer.
const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingEvery    = idleTimeout * 9 / 10
	readLimit    = 4 << 10
)

// Conn is the part of *websocket.Conn a Client uses.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Client is one websocket listener.
type Client struct {
	hub  *Hub
	conn Conn
	out  chan Message
}

// NewClient joins conn to h. Call Run to start serving it. A client created
// after the hub has stopped starts out closed, so Run returns at once.
func NewClient(h *Hub, conn Conn) *Client {
	c := &Client{hub: h, conn: conn, out: make(chan Message, queueSize)}
	select {
	case h.join <- c:
	case <-h.done:
		close(c.out)
	}
	return c
}

// Send queues msg for this listener alone, reporting false when its queue
// is full.
func (c *Client) Send(msg Message) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// Run serves the connection until it drops or the hub evicts it.
func (c *Client) Run() {
	go c.write()
	c.read()
}

func (c *Client) read() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	c.conn.SetReadLimit(readLimit)
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// write is the only goroutine writing to conn.
func (c *Client) write() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		kind, data := websocket.PingMessage, []byte(nil)
		select {
		case msg, ok := <-c.out:
			if !ok {
				kind = websocket.CloseMessage
				break
			}
			kind, data = websocket.TextMessage, msg.Data
			if msg.Type == BinaryMessage {
				kind = websocket.BinaryMessage
			}
		case <-ping.C:
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(kind, data); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}
