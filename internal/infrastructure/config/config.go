package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all server configuration.
type Config struct {
	Server     ServerConfig
	WebSocket  WebSocketConfig
	AI         AIConfig
	Chat       ChatConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	GRPCHealth GRPCHealthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// WebSocketConfig holds socket keep-alive and write settings.
type WebSocketConfig struct {
	PingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	MaxMessageKB int64         `envconfig:"WS_MAX_MESSAGE_KB" default:"64"`
}

// AIConfig selects and configures the generation backend.
type AIConfig struct {
	Provider        string        `envconfig:"AI_PROVIDER" default:"gemini"`
	GenerateTimeout time.Duration `envconfig:"CHAT_GENERATE_TIMEOUT" default:"0s"`
	ProbeTimeout    time.Duration `envconfig:"AI_PROBE_TIMEOUT" default:"15s"`

	GeminiAPIKey  string   `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string   `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiModels  []string `envconfig:"GEMINI_MODELS" default:"gemini-2.5-flash,gemini-2.5-pro-preview-03-25"`

	OpenAIAPIKey  string   `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string   `envconfig:"OPENAI_BASE_URL"`
	OpenAIModels  []string `envconfig:"OPENAI_MODELS" default:"gpt-4o-mini"`
}

// ChatConfig holds the streaming timings for the fallback path.
type ChatConfig struct {
	ThinkingText    string        `envconfig:"CHAT_THINKING_TEXT" default:"Analyzing your question..."`
	ThinkingDelay   time.Duration `envconfig:"CHAT_THINKING_DELAY" default:"800ms"`
	WordDelayMin    time.Duration `envconfig:"CHAT_WORD_DELAY_MIN" default:"40ms"`
	WordDelayMax    time.Duration `envconfig:"CHAT_WORD_DELAY_MAX" default:"80ms"`
	ResponsesPath   string        `envconfig:"FALLBACK_RESPONSES_PATH"`
	WatchResponses  bool          `envconfig:"FALLBACK_RESPONSES_WATCH" default:"true"`
	BreakerFailures uint32        `envconfig:"AI_BREAKER_FAILURES" default:"3"`
	BreakerCooldown time.Duration `envconfig:"AI_BREAKER_COOLDOWN" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	File        string `envconfig:"LOG_FILE"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// GRPCHealthConfig holds the gRPC health endpoint configuration.
type GRPCHealthConfig struct {
	Address string `envconfig:"GRPC_HEALTH_ADDR" default:"0.0.0.0:50051"`
	Enabled bool   `envconfig:"GRPC_HEALTH_ENABLED" default:"false"`
}

// ClientConfig holds the terminal client configuration.
type ClientConfig struct {
	URL                  string        `envconfig:"CHAT_WS_URL" default:"ws://localhost:8080/ws"`
	ReconnectInterval    time.Duration `envconfig:"CHAT_RECONNECT_INTERVAL" default:"3s"`
	MaxReconnectAttempts int           `envconfig:"CHAT_MAX_RECONNECT_ATTEMPTS" default:"5"`
	LogFile              string        `envconfig:"CHAT_LOG_FILE" default:"chat-client.log"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadClient loads the client configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	if cfg.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("CHAT_MAX_RECONNECT_ATTEMPTS must be >= 0, got %d", cfg.MaxReconnectAttempts)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.Chat.WordDelayMin < 0 || c.Chat.WordDelayMax < c.Chat.WordDelayMin {
		return fmt.Errorf("invalid word delay range [%s, %s]", c.Chat.WordDelayMin, c.Chat.WordDelayMax)
	}
	switch strings.ToLower(c.AI.Provider) {
	case "gemini", "openai", "none":
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AI.Provider)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
			MaxMessageKB: 64,
		},
		AI: AIConfig{
			Provider:      "gemini",
			ProbeTimeout:  15 * time.Second,
			GeminiBaseURL: "https://generativelanguage.googleapis.com/v1beta",
			GeminiModels:  []string{"gemini-2.5-flash", "gemini-2.5-pro-preview-03-25"},
			OpenAIModels:  []string{"gpt-4o-mini"},
		},
		Chat: ChatConfig{
			ThinkingText:    "Analyzing your question...",
			ThinkingDelay:   800 * time.Millisecond,
			WordDelayMin:    40 * time.Millisecond,
			WordDelayMax:    80 * time.Millisecond,
			WatchResponses:  true,
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		GRPCHealth: GRPCHealthConfig{
			Address: "0.0.0.0:50051",
			Enabled: false,
		},
	}
}
