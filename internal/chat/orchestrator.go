package chat

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentchat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/agentchat/internal/protocol"
)

// Sink delivers events to one client. Send is best effort and reports
// false when the socket is closed or the write failed.
type Sink interface {
	Send(ev protocol.Event) bool
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ev protocol.Event) bool

// Send calls f(ev)
func (f SinkFunc) Send(ev protocol.Event) bool { return f(ev) }

// Config holds the thinking text and the simulated streaming timings.
// Zero delays disable waiting.
type Config struct {
	ThinkingText    string
	ThinkingDelay   time.Duration
	WordDelayMin    time.Duration
	WordDelayMax    time.Duration
	GenerateTimeout time.Duration
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		ThinkingText:  "Analyzing your question...",
		ThinkingDelay: 800 * time.Millisecond,
		WordDelayMin:  40 * time.Millisecond,
		WordDelayMax:  80 * time.Millisecond,
	}
}

// Options carries the orchestrator's collaborators
type Options struct {
	// Generator is the AI backend; nil means fallback only
	Generator Generator
	// Responder produces fallback replies; defaults to the built-in table
	Responder Responder
	Logger    *zap.Logger
	Metrics   *monitoring.Metrics
	Tracer    *tracing.Tracer
}

// Orchestrator produces the event sequence for chat requests
type Orchestrator struct {
	cfg       Config
	generator Generator
	responder Responder
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
}

// NewOrchestrator creates an orchestrator. The generator is fixed for its lifetime.
func NewOrchestrator(cfg Config, opts Options) *Orchestrator {
	if cfg.WordDelayMax < cfg.WordDelayMin {
		cfg.WordDelayMax = cfg.WordDelayMin
	}
	if opts.Responder == nil {
		opts.Responder = DefaultTable().Match
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		generator: opts.Generator,
		responder: opts.Responder,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
}

// AIEnabled reports whether a generator is configured and currently
// accepting requests.
func (o *Orchestrator) AIEnabled() bool {
	return Available(o.generator)
}

// Provider names the configured generator, or "fallback"
func (o *Orchestrator) Provider() string {
	if o.generator == nil {
		return monitoring.PathFallback
	}
	return o.generator.Name()
}

// request is the per-request state threaded through one Handle call
type request struct {
	id           string
	content      string
	sink         Sink
	logger       *zap.Logger
	thinkingDone bool
	streamed     bool
}

func (r *request) send(ev protocol.Event) {
	ev = ev.WithRequest(r.id)
	if !r.sink.Send(ev) {
		r.logger.Debug("event not delivered", zap.String("type", string(ev.Type)))
	}
}

// Handle runs one chat request to completion, emitting every event to sink.
// It returns when done has been sent or ctx is cancelled; after cancellation
// no further events are emitted.
func (o *Orchestrator) Handle(ctx context.Context, sink Sink, requestID, content string) {
	req := &request{
		id:      requestID,
		content: content,
		sink:    sink,
		logger:  o.logger.With(zap.String("request_id", requestID)),
	}
	timer := monitoring.NewTimer(o.metrics)

	var span *tracing.Span
	if o.tracer != nil {
		span, ctx = o.tracer.StartSpan(ctx, "chat.request")
		span.SetTag("request_id", requestID)
		defer func() {
			span.Finish()
			o.tracer.Submit(span)
		}()
	}

	req.send(protocol.Thinking(o.cfg.ThinkingText))

	if Available(o.generator) {
		provider := o.generator.Name()
		if span != nil {
			span.SetTag("provider", provider)
		}

		req.send(protocol.ThinkingDone())
		req.thinkingDone = true

		full, err := o.relay(ctx, req)
		if err == nil {
			req.send(protocol.Done(full))
			timer.Stop(monitoring.PathGenerator)
			if span != nil {
				span.SetTag("path", monitoring.PathGenerator)
			}
			return
		}
		if ctx.Err() != nil {
			req.logger.Debug("request cancelled during generation")
			return
		}

		stage := monitoring.StageBeforeStream
		if req.streamed {
			stage = monitoring.StageMidStream
		}
		req.logger.Error("generator failed, using fallback",
			zap.String("provider", provider),
			zap.String("stage", stage),
			zap.Error(err),
		)
		o.metrics.RecordGeneratorFailure(provider, stage)
		if span != nil {
			span.SetError(err)
			span.AddEvent("generator_failed")
		}

		if req.streamed {
			req.send(protocol.Reset())
		}
	}

	if span != nil {
		span.SetTag("path", monitoring.PathFallback)
	}
	if o.fallback(ctx, req) {
		timer.Stop(monitoring.PathFallback)
	}
}

// relay forwards generator fragments as stream events and returns their concatenation
func (o *Orchestrator) relay(ctx context.Context, req *request) (string, error) {
	genCtx := ctx
	if o.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, o.cfg.GenerateTimeout)
		defer cancel()
	}

	var full strings.Builder
	err := o.generator.Generate(genCtx, req.content, func(fragment string) error {
		if err := genCtx.Err(); err != nil {
			return err
		}
		if fragment == "" {
			return nil
		}
		full.WriteString(fragment)
		req.streamed = true
		req.send(protocol.Stream(fragment))
		return nil
	})
	return full.String(), err
}

// fallback streams the canned reply; it reports false when ctx ended it early
func (o *Orchestrator) fallback(ctx context.Context, req *request) bool {
	if !sleep(ctx, o.cfg.ThinkingDelay) {
		return false
	}
	if !req.thinkingDone {
		req.send(protocol.ThinkingDone())
		req.thinkingDone = true
	}

	reply := o.responder(req.content)
	for _, word := range SplitWords(reply) {
		if !sleep(ctx, o.wordDelay()) {
			return false
		}
		req.send(protocol.Stream(word + " "))
	}
	req.send(protocol.Done(reply))
	return true
}

func (o *Orchestrator) wordDelay() time.Duration {
	span := o.cfg.WordDelayMax - o.cfg.WordDelayMin
	if span <= 0 {
		return o.cfg.WordDelayMin
	}
	return o.cfg.WordDelayMin + time.Duration(rand.Int64N(int64(span)+1))
}

// sleep waits for d or until ctx is done, reporting whether ctx is still live
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
