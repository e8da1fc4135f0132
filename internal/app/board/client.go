package board

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/logx"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendQueueSize is the number of outbound frames buffered per client.
	sendQueueSize = 256
)

var errSendQueueFull = errors.New("client send queue full")

type outbound struct {
	msgType int
	data    []byte
}

// Client adapts a gorilla websocket connection to Conn. Reads are forwarded to the
// Controller; writes are queued and drained by WritePump.
type Client struct {
	conn       *websocket.Conn
	controller *Controller
	remoteAddr string
	readLimit  int64

	mu     sync.Mutex
	closed bool
	send   chan outbound

	logger zerolog.Logger
}

// NewClient wraps conn. remoteAddr is the client address as seen by the HTTP layer.
func NewClient(controller *Controller, conn *websocket.Conn, remoteAddr string, readLimit int64) *Client {
	return &Client{
		conn:       conn,
		controller: controller,
		remoteAddr: remoteAddr,
		readLimit:  readLimit,
		send:       make(chan outbound, sendQueueSize),
		logger: logx.Component("client").With().
			Str("remote_ip", logx.AnonymizeIP(remoteAddr)).
			Logger(),
	}
}

// Send queues one frame without blocking. A full queue drops the frame.
func (c *Client) Send(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errs.ErrSocketClosed
	}

	select {
	case c.send <- outbound{msgType: msgType, data: data}:
		return nil
	default:
		return errSendQueueFull
	}
}

// IsOpen reports whether frames can still be queued.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// RemoteAddr returns the client address.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Close stops accepting frames. WritePump flushes what is queued, sends a close frame
// and closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump registers the client and forwards frames until the socket fails. It blocks
// for the life of the connection.
func (c *Client) ReadPump() {
	c.controller.Open(c)

	defer func() {
		c.Close()
		c.controller.Close(c)
		c.logger.Debug().Msg("Read pump finished.")
	}()

	c.conn.SetReadLimit(c.readLimit)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		c.controller.Receive(c, msgType, data)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in write pump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.write(frame, ok) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}

// write sends one queued frame, or a close frame once the queue is closed. It reports
// whether the pump should continue.
func (c *Client) write(frame outbound, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return false
	}

	if err := c.conn.WriteMessage(frame.msgType, frame.data); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing message")
		return false
	}
	return true
}
