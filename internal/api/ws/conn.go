package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentchat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentchat/internal/protocol"
	"github.com/GriffinCanCode/agentchat/internal/shared/id"
)

// Conn is one registered client socket. Writes are serialised; gorilla
// allows one concurrent writer only.
type Conn struct {
	id           id.ConnectionID
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       *zap.Logger
	metrics      *monitoring.Metrics

	mu     sync.Mutex
	closed bool
}

func newConn(connID id.ConnectionID, ws *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger, metrics *monitoring.Metrics) *Conn {
	return &Conn{
		id:           connID,
		ws:           ws,
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// ID returns the connection id
func (c *Conn) ID() id.ConnectionID {
	return c.id
}

// Send writes ev as one text frame. It returns false without error when the
// socket is closed or the write fails.
func (c *Conn) Send(ev protocol.Event) bool {
	data, err := protocol.Encode(ev)
	if err != nil {
		c.logger.Error("failed to encode event", zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("failed to send WebSocket message", zap.Error(err))
		c.closed = true
		return false
	}
	c.metrics.RecordWSMessage("out", string(ev.Type))
	return true
}

// Closed reports whether sends are no-ops
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeoutOr(time.Second)))
}

// shutdown sends a close frame with code and closes the socket
func (c *Conn) shutdown(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeoutOr(time.Second)))
		c.closed = true
	}
	_ = c.ws.Close()
}

// markClosed stops further sends once the read loop has ended
func (c *Conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) writeTimeoutOr(d time.Duration) time.Duration {
	if c.writeTimeout > 0 {
		return c.writeTimeout
	}
	return d
}
