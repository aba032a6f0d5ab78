// Package config provides 12-factor configuration for the chat server and client.
//
// Configuration is loaded from environment variables with sensible defaults.
// A .env file in the working directory is honoured by the binaries before Load runs.
//
// Configuration Sections:
//   - Server: HTTP listen address
//   - WebSocket: ping interval, write timeout, frame size limit
//   - AI: provider selection and credentials for Gemini or an OpenAI-compatible backend
//   - Chat: thinking text, simulated streaming delays, fallback table, breaker
//   - Logging: level, format and optional rotated file
//   - RateLimit: per-IP rate limiting
//   - GRPCHealth: optional gRPC health endpoint
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("listening on %s\n", cfg.Addr())
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV, LOG_FILE
//   - AI_PROVIDER, GEMINI_API_KEY, GEMINI_MODELS, OPENAI_API_KEY, OPENAI_BASE_URL
//   - CHAT_THINKING_DELAY, CHAT_WORD_DELAY_MIN, CHAT_WORD_DELAY_MAX, FALLBACK_RESPONSES_PATH
//   - CHAT_WS_URL, CHAT_RECONNECT_INTERVAL, CHAT_MAX_RECONNECT_ATTEMPTS (client)
package config
