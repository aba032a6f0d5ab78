package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/agentchat/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// chatServer accepts sockets and hands each one to serve
type chatServer struct {
	*httptest.Server
	upgrades atomic.Int32
	hits     atomic.Int32
}

func newChatServer(t *testing.T, serve func(n int32, conn *websocket.Conn)) *chatServer {
	t.Helper()
	s := &chatServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := s.upgrades.Add(1)
		defer conn.Close()
		serve(n, conn)
	}))
	t.Cleanup(s.Close)
	return s
}

// refusingServer answers every handshake with 503
func refusingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// holdOpen keeps the socket open until the peer goes away
func holdOpen(_ int32, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type counters struct {
	connects    atomic.Int32
	disconnects atomic.Int32
	errors      atomic.Int32

	mu     sync.Mutex
	events []protocol.Event
}

func (c *counters) options(url string) Options {
	opts := DefaultOptions(url)
	opts.ReconnectInterval = 10 * time.Millisecond
	opts.OnConnect = func() { c.connects.Add(1) }
	opts.OnDisconnect = func() { c.disconnects.Add(1) }
	opts.OnError = func(error) { c.errors.Add(1) }
	opts.OnEvent = func(ev protocol.Event) {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
	return opts
}

func (c *counters) received() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.events...)
}

func TestSendWhenNotConnected(t *testing.T) {
	m := NewManager(DefaultOptions("ws://127.0.0.1:1"))

	assert.False(t, m.Send("hello"))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectRequiresStart(t *testing.T) {
	srv := newChatServer(t, holdOpen)
	m := NewManager(DefaultOptions(wsURL(srv.Server)))

	m.Connect()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, srv.hits.Load())
}

func TestStartConnectsAndSends(t *testing.T) {
	got := make(chan protocol.Request, 1)
	srv := newChatServer(t, func(_ int32, conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := protocol.DecodeRequest(data)
		if err == nil {
			got <- req
		}
		holdOpen(0, conn)
	})

	var c counters
	m := NewManager(c.options(wsURL(srv.Server)))
	m.Start()
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, tick)
	assert.Equal(t, int32(1), c.connects.Load())
	assert.Zero(t, m.ReconnectAttempts())

	require.True(t, m.Send("hello"))
	select {
	case req := <-got:
		assert.Equal(t, protocol.Chat("hello"), req)
	case <-time.After(waitFor):
		t.Fatal("server never received the request")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newChatServer(t, holdOpen)

	var c counters
	m := NewManager(c.options(wsURL(srv.Server)))
	m.Start()
	m.Connect()
	m.Connect()
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, tick)
	m.Connect()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), srv.hits.Load())
	assert.Equal(t, int32(1), c.connects.Load())
}

func TestReconnectBudgetIsBounded(t *testing.T) {
	tests := []struct {
		name string
		max  int
	}{
		{"no retries", 0},
		{"three retries", 3},
		{"default budget", DefaultMaxReconnectAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := refusingServer(t)

			var c counters
			opts := c.options(wsURL(srv))
			opts.MaxReconnectAttempts = tt.max
			m := NewManager(opts)
			m.Start()
			t.Cleanup(m.Stop)

			want := int32(tt.max + 1)
			require.Eventually(t, func() bool { return c.disconnects.Load() == want }, waitFor, tick)
			time.Sleep(100 * time.Millisecond)

			assert.Equal(t, want, hits.Load(), "one initial dial plus one per attempt")
			assert.Equal(t, want, c.disconnects.Load())
			assert.Equal(t, want, c.errors.Load())
			assert.Equal(t, tt.max, m.ReconnectAttempts())
			assert.Equal(t, StateDisconnected, m.State())
			assert.Zero(t, c.connects.Load())
		})
	}
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			return
		}
		holdOpen(n, conn)
	})

	var c counters
	m := NewManager(c.options(wsURL(srv.Server)))
	m.Start()
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return c.connects.Load() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, tick)
	assert.Equal(t, int32(1), c.disconnects.Load())
	assert.Zero(t, m.ReconnectAttempts(), "a successful connection resets the budget")
}

func TestDisconnectHaltsReconnect(t *testing.T) {
	srv := newChatServer(t, holdOpen)

	var c counters
	opts := c.options(wsURL(srv.Server))
	m := NewManager(opts)
	m.Start()
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, tick)

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, opts.MaxReconnectAttempts, m.ReconnectAttempts())
	assert.False(t, m.Send("late"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), srv.upgrades.Load())
	assert.Equal(t, int32(1), c.disconnects.Load())

	m.Connect()
	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, tick)
	assert.Equal(t, int32(2), srv.upgrades.Load())
	assert.Zero(t, m.ReconnectAttempts())
}

// floodStream writes stream frames until the peer goes away
func floodStream(_ int32, conn *websocket.Conn) {
	data, _ := protocol.Encode(protocol.Stream("x "))
	for {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func TestNoEventsAfterDisconnectReturns(t *testing.T) {
	srv := newChatServer(t, floodStream)

	for i := 0; i < 20; i++ {
		var (
			events       atomic.Int32
			late         atomic.Int32
			disconnected atomic.Bool
		)
		opts := DefaultOptions(wsURL(srv.Server))
		opts.OnEvent = func(protocol.Event) {
			if disconnected.Load() {
				late.Add(1)
			}
			events.Add(1)
		}
		m := NewManager(opts)
		m.Start()

		require.Eventually(t, func() bool { return events.Load() >= 50 }, waitFor, time.Millisecond)
		m.Disconnect()
		disconnected.Store(true)
		time.Sleep(10 * time.Millisecond)
		m.Stop()

		require.Zero(t, late.Load(), "run %d delivered events after Disconnect returned", i)
	}
}

func TestNoEventsAfterStopReturns(t *testing.T) {
	srv := newChatServer(t, floodStream)

	var (
		events  atomic.Int32
		late    atomic.Int32
		stopped atomic.Bool
	)
	opts := DefaultOptions(wsURL(srv.Server))
	opts.OnEvent = func(protocol.Event) {
		if stopped.Load() {
			late.Add(1)
		}
		events.Add(1)
	}
	m := NewManager(opts)
	m.Start()

	require.Eventually(t, func() bool { return events.Load() >= 50 }, waitFor, time.Millisecond)
	m.Stop()
	stopped.Store(true)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, late.Load())
}

func TestStopSuppressesPendingReconnect(t *testing.T) {
	srv, hits := refusingServer(t)

	var c counters
	opts := c.options(wsURL(srv))
	opts.ReconnectInterval = 50 * time.Millisecond
	m := NewManager(opts)
	m.Start()

	require.Eventually(t, func() bool { return c.disconnects.Load() == 1 }, waitFor, tick)
	m.Stop()
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), c.disconnects.Load())
	assert.Equal(t, StateDisconnected, m.State())

	m.Connect()
	assert.Equal(t, StateDisconnected, m.State(), "a stopped manager ignores Connect")
}

func TestStopSuppressesCallbacks(t *testing.T) {
	release := make(chan struct{})
	srv := newChatServer(t, func(_ int32, conn *websocket.Conn) {
		<-release
		data, _ := protocol.Encode(protocol.Stream("late"))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	})

	var c counters
	m := NewManager(c.options(wsURL(srv.Server)))
	m.Start()
	require.Eventually(t, func() bool { return m.State() == StateConnected }, waitFor, tick)

	m.Stop()
	close(release)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, c.received())
	assert.Zero(t, c.disconnects.Load())
	assert.Zero(t, c.errors.Load())
}

func TestInboundFramesAreDecoded(t *testing.T) {
	srv := newChatServer(t, func(n int32, conn *websocket.Conn) {
		for _, frame := range []string{
			`{"type":"connected","content":"Connected to chat server"}`,
			`not json`,
			`{"type":"stream","content":"Hi ","request_id":"req_1"}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		holdOpen(n, conn)
	})

	var c counters
	m := NewManager(c.options(wsURL(srv.Server)))
	m.Start()
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return len(c.received()) == 2 }, waitFor, tick)
	events := c.received()
	assert.Equal(t, protocol.EventConnected, events[0].Type)
	assert.Equal(t, protocol.Stream("Hi ").WithRequest("req_1"), events[1])
	assert.Equal(t, int32(1), c.errors.Load(), "malformed frame is reported, not fatal")
	assert.Equal(t, StateConnected, m.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
