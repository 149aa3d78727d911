package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns the request-level Prometheus metrics for a service.
// Domain metrics (pass outcomes, channel fatigue and the like) are registered
// by the packages that produce them; this collector only covers the HTTP
// surface and build info.
type MetricsCollector struct {
	serviceName string

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	inFlightRequests    prometheus.Gauge
	buildInfo           *prometheus.GaugeVec
}

// NewMetricsCollector registers the standard HTTP metrics under the service
// name prefix. Hyphens are not valid in metric names, so they become
// underscores.
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	name := strings.ReplaceAll(serviceName, "-", "_")

	mc := &MetricsCollector{
		serviceName: name,
		httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_http_requests_total",
			Help: "HTTP requests served, by route and status",
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name + "_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		inFlightRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Name: name + "_http_in_flight_requests",
			Help: "Requests currently being served",
		}),
		buildInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: name + "_build_info",
			Help: "Build version and commit, value is always 1",
		}, []string{"version", "commit"}),
	}

	mc.buildInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// MetricsMiddleware records request counts and latency per route. Unmatched
// paths are collapsed into a single "unknown" endpoint so random probes
// cannot blow up the label cardinality.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		mc.inFlightRequests.Inc()
		defer mc.inFlightRequests.Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		mc.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		mc.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	}
}

// Handler exposes the default Prometheus registry for scraping.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
