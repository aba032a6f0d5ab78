// Command chat is a terminal client for the streaming chat server.
//
//	CHAT_WS_URL=ws://localhost:8080/ws ./chat
//
// Enter sends a message, Ctrl+R reconnects, /quit or Ctrl+C exits.
// Logs go to CHAT_LOG_FILE so they do not disturb the screen.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentchat/internal/client"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/config"
	"github.com/GriffinCanCode/agentchat/internal/infrastructure/logging"
)

const welcomeText = "👋 Hi! How can we help?"

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the environment is read")
	url := flag.String("url", "", "WebSocket URL (overrides CHAT_WS_URL)")
	debug := flag.Bool("debug", false, "Log at debug level")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Ignoring %s: %v", *envFile, err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *url != "" {
		cfg.URL = *url
	}

	logCfg := logging.DefaultConfig()
	logCfg.OutputPaths = []string{cfg.LogFile}
	if *debug {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	conv := client.NewAssembler()
	conv.AddAssistant(welcomeText)

	ui := newUI(conv, logger.Named("ui").Logger)

	opts := client.DefaultOptions(cfg.URL)
	opts.ReconnectInterval = cfg.ReconnectInterval
	opts.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	opts.Logger = logger.Named("client").Logger
	opts.OnEvent = conv.Apply
	opts.OnConnect = ui.refresh
	opts.OnDisconnect = func() {
		conv.OnDisconnect()
		ui.refresh()
	}
	opts.OnError = func(err error) {
		logger.Warn("connection error", zap.Error(err))
	}

	mgr := client.NewManager(opts)
	ui.attach(mgr)

	mgr.Start()
	defer mgr.Stop()

	if err := ui.run(); err != nil {
		logger.Error("ui stopped", zap.Error(err))
		mgr.Stop()
		os.Exit(1)
	}
}
