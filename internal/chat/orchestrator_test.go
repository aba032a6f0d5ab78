package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/agentchat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/agentchat/internal/protocol"
)

// MockGenerator is a testify mock of Generator. Fragments configured with
// WithFragments are emitted before the mocked error is returned.
type MockGenerator struct {
	mock.Mock
	fragments []string
}

func (m *MockGenerator) Name() string { return "mock" }

func (m *MockGenerator) Generate(ctx context.Context, prompt string, emit func(string) error) error {
	args := m.Called(ctx, prompt)
	for _, f := range m.fragments {
		if err := emit(f); err != nil {
			return err
		}
	}
	return args.Error(0)
}

func (m *MockGenerator) WithFragments(fragments ...string) *MockGenerator {
	m.fragments = fragments
	return m
}

// recorder is an in-memory Sink
type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
	open   bool
}

func newRecorder() *recorder { return &recorder{open: true} }

func (r *recorder) Send(ev protocol.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) close() {
	r.mu.Lock()
	r.open = false
	r.mu.Unlock()
}

func (r *recorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

func types(events []protocol.Event) []protocol.EventType {
	out := make([]protocol.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// streamedSinceReset concatenates stream contents after the last reset
func streamedSinceReset(events []protocol.Event) string {
	var sb strings.Builder
	for _, ev := range events {
		switch ev.Type {
		case protocol.EventReset:
			sb.Reset()
		case protocol.EventStream:
			sb.WriteString(ev.Content)
		}
	}
	return sb.String()
}

func count(events []protocol.Event, t protocol.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func zeroDelay() Config {
	cfg := DefaultConfig()
	cfg.ThinkingDelay = 0
	cfg.WordDelayMin = 0
	cfg.WordDelayMax = 0
	return cfg
}

func TestHandleGeneratorSuccess(t *testing.T) {
	gen := (&MockGenerator{}).WithFragments("Hel", "", "lo", " there")
	gen.On("Generate", mock.Anything, "hello").Return(nil)

	metrics := monitoring.NewMetrics()
	orch := NewOrchestrator(zeroDelay(), Options{Generator: gen, Metrics: metrics})
	sink := newRecorder()

	orch.Handle(context.Background(), sink, "req_1", "hello")

	events := sink.Events()
	assert.Equal(t, []protocol.EventType{
		protocol.EventThinking,
		protocol.EventThinkingDone,
		protocol.EventStream,
		protocol.EventStream,
		protocol.EventStream,
		protocol.EventDone,
	}, types(events))

	assert.Equal(t, "Analyzing your question...", events[0].Content)
	assert.Equal(t, "Hello there", events[len(events)-1].Content)
	assert.Equal(t, streamedSinceReset(events), events[len(events)-1].Content)
	for _, ev := range events {
		assert.Equal(t, "req_1", ev.RequestID)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChatRequests.WithLabelValues(monitoring.PathGenerator)))
	gen.AssertExpectations(t)
}

func TestHandleFallbackWithoutGenerator(t *testing.T) {
	tests := []struct {
		name  string
		input string
		reply string
	}{
		{"greeting", "Hello", DefaultTable().Rules[0].Reply},
		{"weather", "What's the WEATHER like?", DefaultTable().Rules[2].Reply},
		{"echo", "zzz", DefaultTable().Match("zzz")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := NewOrchestrator(zeroDelay(), Options{})
			sink := newRecorder()

			orch.Handle(context.Background(), sink, "req_2", tt.input)

			events := sink.Events()
			require.GreaterOrEqual(t, len(events), 4)
			assert.Equal(t, protocol.EventThinking, events[0].Type)
			assert.Equal(t, protocol.EventThinkingDone, events[1].Type)
			assert.Equal(t, protocol.EventDone, events[len(events)-1].Type)
			assert.Equal(t, tt.reply, events[len(events)-1].Content)

			words := SplitWords(tt.reply)
			assert.Equal(t, len(words), count(events, protocol.EventStream))
			for _, ev := range events[2 : len(events)-1] {
				assert.True(t, strings.HasSuffix(ev.Content, " "), "fragment %q", ev.Content)
			}
			assert.Equal(t, tt.reply, strings.TrimSpace(streamedSinceReset(events)))
			assert.Equal(t, tt.reply+" ", streamedSinceReset(events))
		})
	}
}

func TestHandleFallbackOnFailureBeforeStream(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, "help me").Return(errors.New("quota exceeded"))

	metrics := monitoring.NewMetrics()
	orch := NewOrchestrator(zeroDelay(), Options{Generator: gen, Metrics: metrics})
	sink := newRecorder()

	orch.Handle(context.Background(), sink, "req_3", "help me")

	events := sink.Events()
	assert.Equal(t, 1, count(events, protocol.EventThinkingDone))
	assert.Zero(t, count(events, protocol.EventReset))
	assert.Zero(t, count(events, protocol.EventError))

	last := events[len(events)-1]
	assert.Equal(t, protocol.EventDone, last.Type)
	assert.Equal(t, DefaultTable().Rules[3].Reply, last.Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeneratorFailures.WithLabelValues("mock", monitoring.StageBeforeStream)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChatRequests.WithLabelValues(monitoring.PathFallback)))
}

func TestHandleResetOnMidStreamFailure(t *testing.T) {
	gen := (&MockGenerator{}).WithFragments("Partial ", "answer")
	gen.On("Generate", mock.Anything, "thanks").Return(errors.New("stream broken"))

	metrics := monitoring.NewMetrics()
	orch := NewOrchestrator(zeroDelay(), Options{Generator: gen, Metrics: metrics})
	sink := newRecorder()

	orch.Handle(context.Background(), sink, "req_4", "thanks")

	events := sink.Events()
	got := types(events)
	require.GreaterOrEqual(t, len(got), 6)
	assert.Equal(t, []protocol.EventType{
		protocol.EventThinking,
		protocol.EventThinkingDone,
		protocol.EventStream,
		protocol.EventStream,
		protocol.EventReset,
	}, got[:5])
	assert.Equal(t, 1, count(events, protocol.EventThinkingDone))
	assert.Equal(t, 1, count(events, protocol.EventDone))

	reply := DefaultTable().Rules[4].Reply
	assert.Equal(t, reply, events[len(events)-1].Content)
	assert.Equal(t, reply, strings.TrimSpace(streamedSinceReset(events)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeneratorFailures.WithLabelValues("mock", monitoring.StageMidStream)))
}

func TestHandleClosedSinkDoesNotAbort(t *testing.T) {
	gen := (&MockGenerator{}).WithFragments("a", "b")
	gen.On("Generate", mock.Anything, "x").Return(nil)

	orch := NewOrchestrator(zeroDelay(), Options{Generator: gen})
	sink := newRecorder()
	sink.close()

	assert.NotPanics(t, func() {
		orch.Handle(context.Background(), sink, "req_5", "x")
	})
	assert.Empty(t, sink.Events())
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestHandleCancelledDuringFallback(t *testing.T) {
	cfg := zeroDelay()
	cfg.ThinkingDelay = time.Hour
	orch := NewOrchestrator(cfg, Options{})
	sink := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Handle(ctx, sink, "req_6", "hi")
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sink.Events()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after cancellation")
	}
	assert.Equal(t, []protocol.EventType{protocol.EventThinking}, types(sink.Events()))
}

func TestHandleGenerateTimeoutFallsBack(t *testing.T) {
	cfg := zeroDelay()
	cfg.GenerateTimeout = 20 * time.Millisecond

	hang := &blockingGenerator{}
	orch := NewOrchestrator(cfg, Options{Generator: hang})
	sink := newRecorder()

	orch.Handle(context.Background(), sink, "req_7", "name?")

	events := sink.Events()
	assert.Equal(t, protocol.EventDone, events[len(events)-1].Type)
	assert.Equal(t, DefaultTable().Rules[5].Reply, events[len(events)-1].Content)
}

func TestHandleSkipsOpenBreaker(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(errors.New("down"))

	guarded := Guard(gen, resilience.Settings{Timeout: time.Minute, ReadyToTrip: resilience.TripAfter(1)}, nil, nil)
	orch := NewOrchestrator(zeroDelay(), Options{Generator: guarded})
	assert.True(t, orch.AIEnabled())

	orch.Handle(context.Background(), newRecorder(), "req_8", "one")
	require.False(t, guarded.Available())
	assert.False(t, orch.AIEnabled(), "health must not report AI while the breaker is open")
	assert.Equal(t, "mock", orch.Provider())

	sink := newRecorder()
	orch.Handle(context.Background(), sink, "req_9", "two")

	gen.AssertNumberOfCalls(t, "Generate", 1)
	events := sink.Events()
	assert.Equal(t, 1, count(events, protocol.EventThinkingDone))
	assert.Equal(t, protocol.EventDone, events[len(events)-1].Type)
}

func TestWordDelayWithinRange(t *testing.T) {
	orch := NewOrchestrator(Config{WordDelayMin: 40 * time.Millisecond, WordDelayMax: 80 * time.Millisecond}, Options{})
	for i := 0; i < 200; i++ {
		d := orch.wordDelay()
		assert.GreaterOrEqual(t, d, 40*time.Millisecond)
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}

func TestProvider(t *testing.T) {
	assert.Equal(t, "fallback", NewOrchestrator(zeroDelay(), Options{}).Provider())
	assert.False(t, NewOrchestrator(zeroDelay(), Options{}).AIEnabled())
	assert.Equal(t, "mock", NewOrchestrator(zeroDelay(), Options{Generator: &MockGenerator{}}).Provider())
}

func TestHandleCompletesWhenSinkRejects(t *testing.T) {
	var got []protocol.Event
	sink := SinkFunc(func(ev protocol.Event) bool {
		got = append(got, ev)
		return false
	})

	orch := NewOrchestrator(zeroDelay(), Options{})
	orch.Handle(context.Background(), sink, "req_10", "hello")

	require.NotEmpty(t, got)
	assert.Equal(t, protocol.EventThinking, got[0].Type)
	last := got[len(got)-1]
	assert.Equal(t, protocol.EventDone, last.Type)
	assert.Equal(t, DefaultTable().Rules[0].Reply, last.Content)
	for _, ev := range got {
		assert.Equal(t, "req_10", ev.RequestID)
	}
}

type blockingGenerator struct{}

func (blockingGenerator) Name() string { return "blocking" }

func (blockingGenerator) Generate(ctx context.Context, _ string, _ func(string) error) error {
	<-ctx.Done()
	return ctx.Err()
}
