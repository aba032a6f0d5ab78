package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentchat/internal/protocol"
)

// State is the connection state of a Manager
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
)

// Options configures a Manager
type Options struct {
	URL                  string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration

	OnEvent      func(protocol.Event)
	OnError      func(error)
	OnConnect    func()
	OnDisconnect func()

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// DefaultOptions returns options for url with the standard reconnect budget
func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		WriteTimeout:         DefaultWriteTimeout,
	}
}

// Manager owns at most one socket to the chat server and reconnects a
// bounded number of times at a constant interval after unexpected closes.
//
// Callbacks run one at a time. Once Disconnect or Stop returns no callback
// from the closed socket runs, so callbacks must not call either of them
// synchronously.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	live atomic.Bool

	// cbMu is held while a callback runs; teardown acquires it as a barrier
	cbMu sync.Mutex

	mu       sync.Mutex
	state    State
	attempts int
	conn     *websocket.Conn
	gen      uint64
	timer    *time.Timer
	cancel   context.CancelFunc
}

// NewManager creates a stopped Manager. Call Start to connect.
func NewManager(opts Options) *Manager {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opts:   opts,
		dialer: dialer,
		logger: logger.With(zap.String("url", opts.URL)),
	}
}

// Start marks the manager live and opens the first connection
func (m *Manager) Start() {
	m.live.Store(true)
	m.Connect()
}

// Stop tears the manager down: no callback fires afterwards
func (m *Manager) Stop() {
	if !m.live.Swap(false) {
		return
	}
	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()

	m.cbMu.Lock()
	m.cbMu.Unlock()
	m.logger.Debug("connection manager stopped")
}

// Connect opens a socket unless one is already open or connecting.
// It does nothing on a stopped manager.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

// Disconnect closes the socket and halts automatic reconnection until the
// next explicit Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasActive := m.state != StateDisconnected
	m.attempts = m.opts.MaxReconnectAttempts
	m.teardownLocked()
	m.mu.Unlock()

	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	if wasActive {
		m.notify(m.opts.OnDisconnect)
	}
}

// Send writes a chat request. It reports false when the socket is not open
// or the write failed; true does not imply delivery.
func (m *Manager) Send(content string) bool {
	data, err := protocol.Encode(protocol.Chat(content))
	if err != nil {
		m.logger.Error("failed to encode request", zap.Error(err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return false
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Warn("send failed", zap.Error(err))
		return false
	}
	return true
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the number of automatic attempts made since the
// last successful connection.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) connectLocked() {
	if !m.live.Load() || m.state != StateDisconnected {
		return
	}
	m.stopTimerLocked()
	m.state = StateConnecting
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.dial(ctx, m.gen)
}

// teardownLocked invalidates the current socket generation so late
// callbacks from it are dropped.
func (m *Manager) teardownLocked() {
	m.gen++
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) current(gen uint64) bool {
	return m.live.Load() && gen == m.gen
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	conn, _, err := m.dialer.DialContext(ctx, m.opts.URL, nil)

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("dial failed", zap.Error(err))
		m.dropped(gen, fmt.Errorf("dial %s: %w", m.opts.URL, err))
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.mu.Unlock()

	m.logger.Info("connected")
	if !m.dispatch(gen, m.opts.OnConnect) {
		return
	}
	m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			m.dropped(gen, err)
			return
		}

		var deliver func()
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			m.logger.Warn("failed to parse message", zap.Error(err))
			deliver = func() { m.report(err) }
		} else if m.opts.OnEvent != nil {
			deliver = func() { m.opts.OnEvent(ev) }
		}
		if !m.dispatch(gen, deliver) {
			return
		}
	}
}

// dispatch runs fn while gen is still the current socket and reports
// whether it is. fn may be nil.
func (m *Manager) dispatch(gen uint64, fn func()) bool {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	m.mu.Lock()
	ok := m.current(gen)
	m.mu.Unlock()
	if ok && fn != nil {
		fn()
	}
	return ok
}

// dropped handles a failed dial or an unexpected close. err is nil for a
// clean close by the server.
func (m *Manager) dropped(gen uint64, err error) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state = StateDisconnected
	retry := m.attempts < m.opts.MaxReconnectAttempts
	if retry {
		m.attempts++
		m.scheduleLocked()
	}
	attempts := m.attempts
	m.mu.Unlock()

	if err != nil {
		m.report(err)
	}
	m.notify(m.opts.OnDisconnect)

	if retry {
		m.logger.Info("reconnect scheduled",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", m.opts.MaxReconnectAttempts),
			zap.Duration("interval", m.opts.ReconnectInterval))
	} else {
		m.logger.Warn("reconnect budget exhausted", zap.Int("attempts", attempts))
	}
}

func (m *Manager) scheduleLocked() {
	gen := m.gen
	m.timer = time.AfterFunc(m.opts.ReconnectInterval, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.current(gen) {
			return
		}
		m.timer = nil
		m.connectLocked()
	})
}

func (m *Manager) notify(fn func()) {
	if fn != nil && m.live.Load() {
		fn()
	}
}

func (m *Manager) report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if m.opts.OnError != nil && m.live.Load() {
		m.opts.OnError(err)
	}
}
