package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the maximum time allowed to write a frame to the peer.
	// If the write does not complete within this window the connection is
	// closed so a stalled client cannot block the writePump.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong reply after sending
	// a ping. The connection is closed if no pong arrives in time.
	pongWait = 60 * time.Second

	// pingPeriod is how often the server pings the client. Must be less
	// than pongWait so the client has time to reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the largest inbound frame accepted from a client.
	// Client events carry JSON payloads (filter objects, message bodies),
	// so the limit is well above what the protocol needs.
	maxMessageSize = 64 << 10

	// sendBufferSize is the capacity of the per-client outbound queue. A
	// client that lets it fill is disconnected by the hub's delivery path.
	sendBufferSize = 32
)

// Client is one upgraded WebSocket connection. It satisfies the hub's
// transport seam: the hub enqueues marshalled frames via Send and tears the
// socket down via Close. Each client runs two goroutines, readPump and
// writePump; writePump is the only one that writes to conn because
// gorilla/websocket connections are not safe for concurrent writes.
type Client struct {
	id   string
	conn *websocket.Conn

	// send hands frames from the hub's delivery paths to writePump.
	send chan []byte

	// done is closed exactly once, by Close. writePump reacts by emitting
	// the close frame (with the recorded reason) and dropping the socket.
	closeOnce   sync.Once
	done        chan struct{}
	closeReason string

	logger *zap.Logger
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send enqueues one marshalled frame for the peer. It never blocks: a full
// buffer or a closed client reports false so the hub can apply its
// slow-client policy.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close signals writePump to send a close frame carrying reason and drop
// the connection. Safe to call any number of times; the first reason wins.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.done)
	})
}

// readPump consumes frames from the peer: protocol events go to the
// handler, pongs refresh the read deadline. When the loop exits for any
// reason the connection is removed from the registry, which runs the full
// departure cascade.
func (c *Client) readPump(h *Handler) {
	defer func() {
		h.hub.Remove(c.id)
		c.Close("")
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("ws: failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("ws: unexpected close", zap.Error(err))
			}
			return
		}
		h.handleEvent(c, raw)
	}
}

// writePump forwards frames from send to the wire and pings on a timer so
// readPump can detect stale peers. A done signal emits the close frame with
// the recorded reason, which unblocks the peer's read loop cleanly.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("ws: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Close-frame payloads are capped at 125 bytes; keep the
			// status code's share and truncate the text to fit.
			reason := c.closeReason
			if len(reason) > 120 {
				reason = reason[:120]
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			return
		}
	}
}
