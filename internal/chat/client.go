package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client adapts a websocket connection to Conn. Outbound payloads go through
// a buffered queue drained by WritePump; inbound frames are read by ReadPump.
type Client struct {
	conn  *websocket.Conn
	relay *Relay
	addr  string
	log   zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(conn *websocket.Conn, relay *Relay, addr string, buffer int, log zerolog.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		conn:  conn,
		relay: relay,
		addr:  addr,
		send:  make(chan []byte, buffer),
		log:   log.With().Str("component", "client").Str("addr", addr).Logger(),
	}
}

func (c *Client) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: %s: connection closed", ErrDelivery, c.addr)
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("%w: %s: send queue full", ErrDelivery, c.addr)
	}
}

// Close stops accepting payloads. WritePump flushes what is queued, sends a
// close frame and shuts the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Serve runs the connection until it ends. It blocks, so callers run it on
// the goroutine that owns the connection.
func (c *Client) Serve(ctx context.Context) {
	go c.WritePump()

	if err := c.relay.Join(ctx, c); err != nil {
		c.log.Warn().Err(err).Msg("join failed, closing connection")
		c.Close()
		return
	}
	c.log.Info().Msg("client connected")

	c.ReadPump(ctx)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// ReadPump hands every inbound frame to the relay in the order it arrives and
// leaves the relay when the connection ends.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.relay.Leave(c)
		c.Close()
		c.conn.Close()
		c.log.Info().Msg("client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		// Failures are logged by the relay and never end the connection.
		_ = c.relay.Receive(ctx, c, message)
	}
}
