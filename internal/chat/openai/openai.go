// Package openai adapts any OpenAI-compatible backend (OpenAI, Azure OpenAI,
// Ollama, vLLM, Docker Model Runner) to chat.Generator through langchaingo.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/GriffinCanCode/agentchat/internal/chat"
)

// Config configures an OpenAI-compatible generator
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Azure switches langchaingo to the Azure deployment API
	Azure bool
}

// Enabled reports whether enough is configured to try the backend.
// Local servers usually need only a base URL.
func (c Config) Enabled() bool {
	return c.APIKey != "" || c.BaseURL != ""
}

// Generator streams completions from an llms.Model
type Generator struct {
	name string
	llm  llms.Model
}

var _ chat.Generator = (*Generator)(nil)

// New builds a generator backed by langchaingo's OpenAI client
func New(cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	token := cfg.APIKey
	if token == "" {
		// langchaingo refuses an empty token even for servers that ignore it
		token = "unused"
	}

	opts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Azure {
		opts = append(opts,
			lcopenai.WithAPIType(lcopenai.APITypeAzure),
			lcopenai.WithEmbeddingModel(cfg.Model),
		)
	}

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return NewWithModel(cfg.Model, llm), nil
}

// NewWithModel wraps an existing llms.Model
func NewWithModel(name string, llm llms.Model) *Generator {
	return &Generator{name: name, llm: llm}
}

// Models builds one generator per model name for chat.Probe
func Models(base Config, models []string) ([]chat.Generator, error) {
	out := make([]chat.Generator, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		cfg := base
		cfg.Model = m
		g, err := New(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Name returns the model name
func (g *Generator) Name() string {
	return g.name
}

// Generate streams the completion for prompt. Backends that ignore the
// streaming callback still produce their full reply as a single fragment.
func (g *Generator) Generate(ctx context.Context, prompt string, emit func(string) error) error {
	streamed := false
	reply, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			return emit(string(chunk))
		}),
	)
	if err != nil {
		return fmt.Errorf("openai %s: %w", g.name, err)
	}
	if !streamed && reply != "" {
		return emit(reply)
	}
	return nil
}
