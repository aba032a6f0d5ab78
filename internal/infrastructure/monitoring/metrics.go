package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat request outcomes
const (
	PathGenerator = "generator"
	PathFallback  = "fallback"
)

// Generator failure stages
const (
	StageBeforeStream = "before_stream"
	StageMidStream    = "mid_stream"
)

// Metrics holds all Prometheus metrics.
// All record methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Chat metrics
	ChatRequests      *prometheus.CounterVec
	ChatDuration      *prometheus.HistogramVec
	GeneratorFailures *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec

	startTime time.Time
	registry  prometheus.Gatherer
}

// NewMetrics creates a collector registered on a fresh registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith registers all collectors on reg.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		ChatRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_requests_total",
				Help: "Chat requests by the path that produced the reply",
			},
			[]string{"path"},
		),
		ChatDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_request_duration_seconds",
				Help:    "Time from thinking to the terminal event",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"path"},
		),
		GeneratorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_generator_failures_total",
				Help: "Generator failures that triggered the fallback responder",
			},
			[]string{"provider", "stage"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chat_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chat_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Gatherer returns the registry backing these metrics
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordChat records a finished chat request
func (m *Metrics) RecordChat(path string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(path).Inc()
	m.ChatDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordGeneratorFailure records a generator failure
func (m *Metrics) RecordGeneratorFailure(provider, stage string) {
	if m == nil {
		return
	}
	m.GeneratorFailures.WithLabelValues(provider, stage).Inc()
}

// SetBreakerState records the numeric state of a named breaker
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
