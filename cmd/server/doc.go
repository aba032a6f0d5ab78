// Package main is the entry point for the streaming chat server.
//
// Clients open a WebSocket on / or /ws and send chat requests; replies are
// streamed back fragment by fragment, either from an AI backend (Gemini or an
// OpenAI-compatible endpoint) or from the built-in canned responses when no
// backend answers.
//
// The server provides:
//   - WebSocket chat streaming
//   - GET /health and GET /metrics
//   - Optional gRPC health service
//   - Per-IP rate limiting
//
// Configuration:
//   - Environment variables, optionally read from a .env file
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	GEMINI_API_KEY=... ./server -port 8080
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
//	# Probe a running server's gRPC health endpoint
//	./server -healthcheck localhost:50051
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
