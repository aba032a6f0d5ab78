// Package http serves the plain HTTP surface next to the WebSocket endpoint.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Status describes the generation backend and open connections
type Status interface {
	AIEnabled() bool
	Provider() string
}

// Counter reports live WebSocket connections
type Counter interface {
	Count() int
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	AIEnabled   bool   `json:"ai_enabled"`
	Provider    string `json:"provider"`
	Connections int    `json:"connections"`
}

// Handlers serves health and banner routes
type Handlers struct {
	status      Status
	connections Counter
	service     string
}

// NewHandlers creates HTTP handlers
func NewHandlers(service string, status Status, connections Counter) *Handlers {
	return &Handlers{status: status, connections: connections, service: service}
}

// Health reports liveness and whether replies come from an AI backend
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		AIEnabled:   h.status.AIEnabled(),
		Provider:    h.status.Provider(),
		Connections: h.connections.Count(),
	})
}

// Root returns a short service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   h.service,
		"websocket": "/ws",
		"health":    "/health",
	})
}
