package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Handler serves the metrics registry in Prometheus exposition format
func Handler(metrics *Metrics) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))
}

// Timer measures a chat request from first event to terminal event
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
	}
}

// Stop stops the timer and records the duration under the given path
func (t *Timer) Stop(path string) {
	t.metrics.RecordChat(path, time.Since(t.start))
}
