package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentchat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/resilience"
)

// ErrNoGenerator is returned when no candidate backend produced text
var ErrNoGenerator = errors.New("no generator available")

// Generator streams a reply for a prompt.
// emit is called once per fragment in production order; a non-nil return from
// emit aborts generation and is returned unchanged.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, emit func(fragment string) error) error
}

// availability is implemented by generators that can be temporarily disabled
type availability interface {
	Available() bool
}

// Available reports whether g should be tried for the next request
func Available(g Generator) bool {
	if g == nil {
		return false
	}
	if a, ok := g.(availability); ok {
		return a.Available()
	}
	return true
}

// Guarded wraps a Generator with a circuit breaker
type Guarded struct {
	Generator
	breaker *resilience.Breaker
}

// Guard returns g protected by a breaker built from settings
func Guard(g Generator, settings resilience.Settings, metrics *monitoring.Metrics, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	userHook := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("generator breaker state changed",
			zap.String("provider", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		metrics.SetBreakerState(name, int(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	return &Guarded{
		Generator: g,
		breaker:   resilience.New(g.Name(), settings),
	}
}

// Available is false while the breaker is open
func (g *Guarded) Available() bool {
	return g.breaker.Allow()
}

// Generate runs the wrapped generator through the breaker
func (g *Guarded) Generate(ctx context.Context, prompt string, emit func(string) error) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.Generator.Generate(ctx, prompt, emit)
	})
}

// Breaker exposes the underlying breaker
func (g *Guarded) Breaker() *resilience.Breaker {
	return g.breaker
}

// ProbePrompt is the tiny request used to check a candidate at startup
const ProbePrompt = "Hi"

// Probe returns the first candidate that answers ProbePrompt with non-empty text.
// Candidates are tried in order; ErrNoGenerator is returned when none works.
func Probe(ctx context.Context, candidates []Generator, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, g := range candidates {
		logger.Info("trying model", zap.String("provider", g.Name()))

		var text strings.Builder
		err := g.Generate(ctx, ProbePrompt, func(fragment string) error {
			text.WriteString(fragment)
			return nil
		})
		if err == nil && strings.TrimSpace(text.String()) != "" {
			logger.Info("connected to model", zap.String("provider", g.Name()))
			return g, nil
		}
		if err == nil {
			err = errors.New("empty response")
		}
		logger.Warn("model failed", zap.String("provider", g.Name()), zap.String("error", truncate(err.Error(), 50)))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("probe aborted: %w", ctxErr)
		}
	}
	return nil, ErrNoGenerator
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
