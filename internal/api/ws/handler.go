package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentchat/internal/chat"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentchat/internal/protocol"
	"github.com/GriffinCanCode/agentchat/internal/shared/id"
)

// Reply texts sent by the handler itself
const (
	ConnectedText = "Connected to chat server"
	DecodeFailure = "Failed to process message"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // no auth; any origin may connect
	},
}

// Dispatcher runs one chat request against a sink
type Dispatcher interface {
	Handle(ctx context.Context, sink chat.Sink, requestID, content string)
}

// Config holds socket settings
type Config struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// DefaultConfig returns production socket settings
func DefaultConfig() Config {
	return Config{
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

// Handler accepts WebSocket connections and dispatches chat requests
type Handler struct {
	cfg        Config
	registry   *Registry
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	// requests run on baseCtx so they outlive their connection but not the server
	baseCtx  context.Context
	inflight sync.WaitGroup

	mu       sync.Mutex
	draining bool
}

// NewHandler creates a new WebSocket handler
func NewHandler(baseCtx context.Context, cfg Config, registry *Registry, dispatcher Dispatcher, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		baseCtx:    baseCtx,
	}
}

// Registry returns the connection registry
func (h *Handler) Registry() *Registry {
	return h.registry
}

// Wait stops accepting chat requests and blocks until the in-flight ones
// have returned.
func (h *Handler) Wait() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.inflight.Wait()
}

// begin registers an in-flight request; false once Wait has been called
func (h *Handler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining || h.baseCtx.Err() != nil {
		return false
	}
	h.inflight.Add(1)
	return true
}

// HandleConnection upgrades the request and serves the socket until it closes
func (h *Handler) HandleConnection(c *gin.Context) {
	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	connID := id.NewConnectionID()
	logger := h.logger.With(zap.String("conn_id", connID.String()))
	conn := newConn(connID, wsConn, h.cfg.WriteTimeout, logger, h.metrics)

	h.registry.add(conn)
	logger.Info("client connected", zap.String("remote", c.ClientIP()))

	defer func() {
		conn.markClosed()
		h.registry.remove(conn)
		_ = wsConn.Close()
		logger.Info("client disconnected")
	}()

	stopPing := h.keepAlive(conn, wsConn)
	defer stopPing()

	conn.Send(protocol.Connected(ConnectedText))

	h.readLoop(conn, wsConn, logger)
}

func (h *Handler) keepAlive(conn *Conn, wsConn *websocket.Conn) func() {
	if h.cfg.MaxMessageBytes > 0 {
		wsConn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	if h.cfg.PingInterval <= 0 {
		return func() {}
	}

	wait := 2 * h.cfg.PingInterval
	_ = wsConn.SetReadDeadline(time.Now().Add(wait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(wait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (h *Handler) readLoop(conn *Conn, wsConn *websocket.Conn, logger *zap.Logger) {
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			logger.Error("error processing message", zap.Error(err))
			h.metrics.RecordWSMessage("in", "malformed")
			conn.Send(protocol.Error(DecodeFailure))
			continue
		}
		switch req.Type {
		case protocol.RequestChat:
			h.metrics.RecordWSMessage("in", protocol.RequestChat)
			requestID := req.RequestID
			if requestID == "" {
				requestID = id.NewRequestID().String()
			}
			logger.Debug("chat request", zap.String("request_id", requestID), zap.Int("length", len(req.Content)))

			if !h.begin() {
				logger.Debug("dropping chat request during shutdown", zap.String("request_id", requestID))
				continue
			}
			go func() {
				defer h.inflight.Done()
				h.dispatcher.Handle(h.baseCtx, conn, requestID, req.Content)
			}()
		default:
			h.metrics.RecordWSMessage("in", "other")
			logger.Debug("ignoring message", zap.String("type", req.Type))
		}
	}
}
