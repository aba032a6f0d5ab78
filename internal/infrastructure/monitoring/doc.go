/*
Package monitoring provides Prometheus metrics for the chat server.

# Overview

Collectors are registered on an injectable registry rather than the global
default, so tests and multiple servers in one process never collide.

# Metrics

- HTTP request count and latency by route template
- Active WebSocket connections and messages by direction and type
- Chat requests and duration by reply path (generator or fallback)
- Generator failures by provider and stage
- Circuit breaker state
- Uptime

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

	timer := monitoring.NewTimer(metrics)
	// ... stream the reply ...
	timer.Stop(monitoring.PathFallback)
*/
package monitoring
