package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/agentchat/internal/api/http"
	"github.com/GriffinCanCode/agentchat/internal/api/middleware"
	"github.com/GriffinCanCode/agentchat/internal/api/ws"
	"github.com/GriffinCanCode/agentchat/internal/chat"
	"github.com/GriffinCanCode/agentchat/internal/chat/gemini"
	"github.com/GriffinCanCode/agentchat/internal/chat/openai"
	"github.com/GriffinCanCode/agentchat/internal/grpc"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/config"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/logging"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/tracing"
)

// ServiceName identifies the server in banners, traces and health checks
const ServiceName = "agentchat"

// Server wraps the HTTP server and dependencies
type Server struct {
	config       *config.Config
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	tracer       *tracing.Tracer
	router       *gin.Engine
	httpServer   *http.Server
	wsHandler    *ws.Handler
	orchestrator *chat.Orchestrator
	fallback     *chat.FallbackResponder
	health       *grpc.HealthServer

	baseCtx context.Context
	cancel  context.CancelFunc

	shutdownOnce sync.Once
}

// Option customizes server construction
type Option func(*options)

type options struct {
	generator    chat.Generator
	hasGenerator bool
	metrics      *monitoring.Metrics
}

// WithGenerator skips provider selection and uses g; nil forces fallback mode
func WithGenerator(g chat.Generator) Option {
	return func(o *options) {
		o.generator = g
		o.hasGenerator = true
	}
}

// WithMetrics uses an existing metrics set instead of a fresh registry
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewServer creates a new server instance. Provider selection probes the
// configured models within ctx and falls back to canned replies when none answer.
func NewServer(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("Initializing chat server",
		zap.String("addr", cfg.Addr()),
		zap.String("provider", cfg.AI.Provider),
	)

	metrics := o.metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	tracer := tracing.New(ServiceName, logger.Logger)

	var health *grpc.HealthServer
	if cfg.GRPCHealth.Enabled {
		health = grpc.NewHealthServer(tracer, logger.Named("grpc").Logger)
	}

	generator := o.generator
	if !o.hasGenerator {
		var err error
		generator, err = selectGenerator(ctx, cfg, logger.Logger)
		if err != nil {
			return nil, err
		}
	}
	if generator != nil {
		settings := resilience.Settings{
			ReadyToTrip: resilience.TripAfter(cfg.Chat.BreakerFailures),
			Timeout:     cfg.Chat.BreakerCooldown,
		}
		if health != nil {
			settings.OnStateChange = func(_ string, _, to resilience.State) {
				health.SetGenerator(to != resilience.StateOpen)
			}
		}
		generator = chat.Guard(generator, settings, metrics, logger.Logger)
	}

	table := chat.DefaultTable()
	if path := cfg.Chat.ResponsesPath; path != "" {
		loaded, err := chat.LoadTable(path)
		if err != nil {
			return nil, fmt.Errorf("load fallback responses: %w", err)
		}
		table = loaded
	}
	fallback := chat.NewFallbackResponder(table, logger.Named("fallback").Logger)

	orchestrator := chat.NewOrchestrator(chat.Config{
		ThinkingText:    cfg.Chat.ThinkingText,
		ThinkingDelay:   cfg.Chat.ThinkingDelay,
		WordDelayMin:    cfg.Chat.WordDelayMin,
		WordDelayMax:    cfg.Chat.WordDelayMax,
		GenerateTimeout: cfg.AI.GenerateTimeout,
	}, chat.Options{
		Generator: generator,
		Responder: fallback.Respond,
		Logger:    logger.Named("chat").Logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if health != nil {
		health.SetGenerator(orchestrator.AIEnabled())
	}
	if orchestrator.AIEnabled() {
		logger.Info("AI backend enabled", zap.String("provider", orchestrator.Provider()))
	} else {
		logger.Warn("No AI backend available, replying with fallback responses")
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	registry := ws.NewRegistry(metrics)
	wsHandler := ws.NewHandler(baseCtx, ws.Config{
		PingInterval:    cfg.WebSocket.PingInterval,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		MaxMessageBytes: cfg.WebSocket.MaxMessageKB * 1024,
	}, registry, orchestrator, logger.Named("ws").Logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := httpapi.NewHandlers(ServiceName, orchestrator, registry)

	// The original clients connect to the bare host, so / upgrades too
	router.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			wsHandler.HandleConnection(c)
			return
		}
		handlers.Root(c)
	})
	router.GET("/ws", wsHandler.HandleConnection)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", monitoring.Handler(metrics))

	s := &Server{
		config:       cfg,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		router:       router,
		wsHandler:    wsHandler,
		orchestrator: orchestrator,
		fallback:     fallback,
		health:       health,
		baseCtx:      baseCtx,
		cancel:       cancel,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	if path := cfg.Chat.ResponsesPath; path != "" && cfg.Chat.WatchResponses {
		if err := fallback.Watch(baseCtx, path); err != nil {
			logger.Warn("Fallback responses will not be reloaded", zap.Error(err))
		}
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// selectGenerator builds the configured provider's models and returns the
// first that answers a probe, or nil for fallback mode.
func selectGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (chat.Generator, error) {
	var (
		candidates []chat.Generator
		err        error
	)

	switch strings.ToLower(cfg.AI.Provider) {
	case "none":
		return nil, nil
	case "gemini":
		if cfg.AI.GeminiAPIKey == "" {
			logger.Warn("GEMINI_API_KEY not set")
			return nil, nil
		}
		base := gemini.DefaultConfig(cfg.AI.GeminiAPIKey, "")
		base.BaseURL = cfg.AI.GeminiBaseURL
		base.Logger = logger.Named("gemini")
		candidates, err = gemini.Models(base, cfg.AI.GeminiModels)
	case "openai":
		base := openai.Config{APIKey: cfg.AI.OpenAIAPIKey, BaseURL: cfg.AI.OpenAIBaseURL}
		if !base.Enabled() {
			logger.Warn("OPENAI_API_KEY and OPENAI_BASE_URL not set")
			return nil, nil
		}
		candidates, err = openai.Models(base, cfg.AI.OpenAIModels)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AI.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", cfg.AI.Provider, err)
	}

	probeCtx := ctx
	if cfg.AI.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, cfg.AI.ProbeTimeout)
		defer cancel()
	}
	g, err := chat.Probe(probeCtx, candidates, logger)
	if err != nil {
		logger.Warn("No model answered the probe", zap.Error(err))
		return nil, nil
	}
	return g, nil
}

// Handler returns the HTTP handler for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Orchestrator returns the chat orchestrator
func (s *Server) Orchestrator() *chat.Orchestrator {
	return s.orchestrator
}

// Registry returns the live connection registry
func (s *Server) Registry() *ws.Registry {
	return s.wsHandler.Registry()
}

// Run serves HTTP, and gRPC health when enabled, until Shutdown
func (s *Server) Run() error {
	if s.health != nil {
		lis, err := net.Listen("tcp", s.config.GRPCHealth.Address)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		s.logger.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
		go func() {
			if err := s.health.Serve(lis); err != nil {
				s.logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. Open sockets are closed with
// going-away, then in-flight requests are cancelled and awaited.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down server...")

		s.wsHandler.Registry().CloseAll()
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down http server: %w", shutdownErr)
		}
		s.cancel()
		s.wsHandler.Wait()

		if s.health != nil {
			s.health.Stop()
		}
		s.tracer.Close()
		_ = s.logger.Sync()
	})
	return err
}
