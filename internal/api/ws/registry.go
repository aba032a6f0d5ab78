package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/agentchat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentchat/internal/shared/id"
)

// Registry tracks live connections
type Registry struct {
	mu      sync.RWMutex
	conns   map[id.ConnectionID]*Conn
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(metrics *monitoring.Metrics) *Registry {
	return &Registry{
		conns:   make(map[id.ConnectionID]*Conn),
		metrics: metrics,
	}
}

func (r *Registry) add(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()
	r.metrics.IncWSConnections()
}

func (r *Registry) remove(c *Conn) {
	r.mu.Lock()
	_, ok := r.conns[c.ID()]
	delete(r.conns, c.ID())
	r.mu.Unlock()
	if ok {
		r.metrics.DecWSConnections()
	}
}

// Get returns a live connection by id
func (r *Registry) Get(connID id.ConnectionID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll sends a going-away close frame to every connection and closes it.
// Read loops then exit and deregister their connections.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}
