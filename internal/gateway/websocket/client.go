package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/common/logger"
	"github.com/jwtor7/agenthud/internal/event"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum inbound frame size; gorilla closes with 1009 on breach.
	maxFrameBytes = 100 * 1024

	// Inbound message budget per rolling window.
	maxInboundPerWindow = 100
	inboundWindow       = time.Second

	// Invalid (unparseable) messages tolerated before closing.
	maxInvalidMessages = 5

	// Outbound queue depth per client.
	sendBufferSize = 256
)

// Close codes used by the hub.
const (
	closeNormal          = websocket.CloseNormalClosure     // 1000
	closeInvalidData     = websocket.CloseUnsupportedData   // 1003
	closePolicyViolation = websocket.ClosePolicyViolation   // 1008
	closeMessageTooBig   = websocket.CloseMessageTooBig     // 1009
	closeTryAgainLater   = websocket.CloseTryAgainLater     // 1013
)

// Client represents a single dashboard connection.
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	connectedAt   time.Time
	serverVersion string
	logger        *logger.Logger

	mu          sync.Mutex
	sendClosed  bool
	isAlive     bool
	invalidMsgs int
	windowStart time.Time
	windowCount int
}

// NewClient wraps an accepted connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, serverVersion string, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBufferSize),
		connectedAt:   time.Now(),
		serverVersion: serverVersion,
		isAlive:       true,
		windowStart:   time.Now(),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// enqueue queues an outbound frame. A full queue drops the frame; clients
// detect the gap via seq. Safe against a concurrently closed channel.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full, dropping message")
	}
}

// closeSend closes the outbound queue exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// aliveAndReset reports liveness and clears the flag for the next round.
func (c *Client) aliveAndReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	alive := c.isAlive
	c.isAlive = false
	return alive
}

func (c *Client) markAlive() {
	c.mu.Lock()
	c.isAlive = true
	c.mu.Unlock()
}

// overInboundBudget counts an inbound message against the rolling window.
func (c *Client) overInboundBudget(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.windowStart) >= inboundWindow {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount > maxInboundPerWindow
}

// countInvalid increments the invalid-message counter and reports whether
// the tolerance is exhausted.
func (c *Client) countInvalid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidMsgs++
	return c.invalidMsgs > maxInvalidMessages
}

// ping sends a ping control frame.
func (c *Client) ping() {
	_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// closeWith sends a close frame with the given code and reason, then tears
// the connection down.
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// terminate drops the connection without a close handshake.
func (c *Client) terminate() {
	_ = c.conn.Close()
}

// ReadPump consumes inbound messages until the connection dies or a cap is
// breached. Runs on the connection's handler goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.remove(c)
		c.closeSend()
		_ = c.conn.Close()
		c.logger.Debug("Client disconnected",
			zap.Duration("connected_for", time.Since(c.connectedAt)))
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		if c.overInboundBudget(time.Now()) {
			c.closeWith(closePolicyViolation, "Rate limit exceeded")
			return
		}

		req, recognized, err := event.ParseClientRequest(message)
		if err != nil {
			if c.countInvalid() {
				c.closeWith(closeInvalidData, "Too many invalid messages")
				return
			}
			c.logger.Debug("Unparseable client message")
			continue
		}
		if !recognized {
			c.logger.Debug("Ignoring unrecognized client message")
			continue
		}

		c.hub.dispatchRequest(c, req)
	}
}

// WritePump flushes the outbound queue to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
