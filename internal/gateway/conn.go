package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024
)

// Conn represents a single websocket connection.
type Conn struct {
	ID      string
	sock    *websocket.Conn
	gateway *Gateway
	send    chan []byte
	cancel  context.CancelFunc
	logger  *logger.Logger
}

func newConn(id string, sock *websocket.Conn, g *Gateway, log *logger.Logger) *Conn {
	return &Conn{
		ID:      id,
		sock:    sock,
		gateway: g,
		send:    make(chan []byte, 256),
		logger:  log.WithConnectionID(id),
	}
}

// enqueue hands a frame to the write pump without blocking; a full buffer
// drops the frame.
func (c *Conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("Connection send buffer full, dropping frame")
	}
}

func (c *Conn) sendEvent(event string, payload any) {
	c.enqueue(newEnvelope(event, payload))
}

func (c *Conn) sendError(message, code string) {
	c.sendEvent(EventError, ErrorPayload{
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Conn) close() {
	c.sock.Close()
}

// readPump pumps inbound frames through the gateway's handlers
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.gateway.disconnect(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			c.logger.Warn("Malformed frame", zap.Error(err))
			c.sendError("invalid message format", "BAD_REQUEST")
			continue
		}

		c.gateway.handleEvent(ctx, c, &envelope)
	}
}

// writePump pumps queued frames out and keeps the connection alive
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
