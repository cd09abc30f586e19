// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jigged",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jigged",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jigged",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Imported rows by module and outcome (imported, skipped).",
	}, []string{"module", "outcome"})

	analyzeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jigged",
		Subsystem: "import",
		Name:      "analyze_total",
		Help:      "Column analysis requests by module and source (cache, provider, limited).",
	}, []string{"module", "source"})

	reconcileOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jigged",
		Subsystem: "routing",
		Name:      "reconcile_ops_total",
		Help:      "Graph writes applied by deferred saves, by operation.",
	}, []string{"op"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ImportRows counts rows of an import by outcome.
func ImportRows(module, outcome string, n int) {
	if n <= 0 {
		return
	}
	importRows.WithLabelValues(module, outcome).Add(float64(n))
}

// AnalyzeRequest counts one analyze call by where its answer came from.
func AnalyzeRequest(module, source string) {
	analyzeRequests.WithLabelValues(module, source).Inc()
}

// ReconcileOps counts graph writes of a deferred save.
func ReconcileOps(op string, n int) {
	if n <= 0 {
		return
	}
	reconcileOps.WithLabelValues(op).Add(float64(n))
}
