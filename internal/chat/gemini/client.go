// Package gemini streams replies from the Gemini REST API over server-sent events.
package gemini

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/agentchat/internal/chat"
)

// DefaultBaseURL is the public Generative Language endpoint
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrBlocked is returned when the prompt was rejected by safety filters
var ErrBlocked = errors.New("gemini: prompt blocked")

// maxLine bounds a single SSE line
const maxLine = 1 << 20

// Config configures a Gemini client
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a whole request including the streamed body; zero relies on ctx
	Timeout           time.Duration
	MaxRetries        int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	RequestsPerSecond float64
	UserAgent         string
	Logger            *zap.Logger
}

// DefaultConfig returns production defaults for model
func DefaultConfig(apiKey, model string) Config {
	return Config{
		APIKey:       apiKey,
		BaseURL:      DefaultBaseURL,
		Model:        model,
		MaxRetries:   2,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		UserAgent:    "agentchat/1.0",
	}
}

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini: http %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Client is one Gemini model exposed as a chat.Generator
type Client struct {
	cfg     Config
	resty   *resty.Client
	limiter *rate.Limiter
}

var _ chat.Generator = (*Client)(nil)

// New creates a client for cfg.Model
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	// Pooled transport from the retryable client; retry decisions use its policy
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTransport(retryClient.HTTPClient.Transport).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWaitMin).
		SetRetryMaxWaitTime(cfg.RetryWaitMax).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", cfg.APIKey).
		SetLogger(cfg.Logger.Sugar()).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			var raw *http.Response
			ctx := context.Background()
			if resp != nil {
				raw = resp.RawResponse
				if resp.Request != nil {
					ctx = resp.Request.Context()
				}
			}
			retry, _ := retryablehttp.DefaultRetryPolicy(ctx, raw, err)
			return retry
		})
	if cfg.UserAgent != "" {
		r.SetHeader("User-Agent", cfg.UserAgent)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{cfg: cfg, resty: r, limiter: limiter}, nil
}

// Models builds one generator per model name, in order, for chat.Probe
func Models(base Config, models []string) ([]chat.Generator, error) {
	out := make([]chat.Generator, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		cfg := base
		cfg.Model = m
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Name returns the model name
func (c *Client) Name() string {
	return c.cfg.Model
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate streams the model's reply to prompt
func (c *Client) Generate(ctx context.Context, prompt string, emit func(string) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	body, err := sonic.ConfigStd.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetQueryParam("alt", "sse").
		SetPathParam("model", c.cfg.Model).
		SetBody(body).
		Post("/models/{model}:streamGenerateContent")
	if err != nil {
		return fmt.Errorf("gemini request: %w", err)
	}
	raw := resp.RawBody()
	if raw == nil {
		return fmt.Errorf("gemini: empty response body")
	}
	defer raw.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return decodeAPIError(resp.StatusCode(), raw)
	}

	return readStream(raw, emit)
}

// readStream decodes SSE data lines and emits their text parts in order
func readStream(r io.Reader, emit func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	produced := false
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk generateResponse
		if err := sonic.ConfigStd.UnmarshalFromString(data, &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return &APIError{StatusCode: chunk.Error.Code, Status: chunk.Error.Status, Message: chunk.Error.Message}
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" && !produced {
			return fmt.Errorf("%w: %s", ErrBlocked, chunk.PromptFeedback.BlockReason)
		}
		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text == "" {
					continue
				}
				produced = true
				if err := emit(p.Text); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body io.Reader) error {
	apiErr := &APIError{StatusCode: status, Status: http.StatusText(status)}
	data, _ := io.ReadAll(io.LimitReader(body, 64*1024))
	var envelope generateResponse
	if err := sonic.ConfigStd.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		apiErr.Message = envelope.Error.Message
		if envelope.Error.Status != "" {
			apiErr.Status = envelope.Error.Status
		}
	}
	return apiErr
}
