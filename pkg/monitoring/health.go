package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// checkTimeout bounds every individual dependency probe.
const checkTimeout = 5 * time.Second

// HealthStatus is the aggregate health report served on /health.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck probes one dependency.
type HealthCheck func() CheckResult

// probeResult stamps the elapsed probe time onto a result.
func probeResult(status, message string, start time.Time) CheckResult {
	return CheckResult{
		Status:  status,
		Message: message,
		Latency: time.Since(start).String(),
	}
}

// HealthChecker runs the registered probes and rolls their results up into
// one status. Any unhealthy check makes the whole service unhealthy, any
// degraded check makes it degraded, otherwise it is healthy.
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  map[string]HealthCheck{},
	}
}

// AddCheck registers a named probe. Not safe to call once the handler is
// serving; register everything during startup.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// CheckHealth runs all probes and aggregates the worst result.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Status:    StatusHealthy,
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(hc.checks)),
	}

	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result

		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		default:
			status.Status = StatusUnhealthy
		}
	}

	return status
}

// Handler serves the health report. Unhealthy returns 503 so load balancers
// and container orchestrators take the instance out of rotation; degraded
// still returns 200.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := hc.CheckHealth()
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}

// DatabaseHealthCheck pings the Postgres pool.
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return probeResult(StatusUnhealthy, fmt.Sprintf("database ping failed: %v", err), start)
		}

		return probeResult(StatusHealthy, "", start)
	}
}

// KafkaProducerHealthCheck pings the brokers through the producer client.
func KafkaProducerHealthCheck(client *kgo.Client) HealthCheck {
	return func() CheckResult {
		start := time.Now()

		if client == nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "kafka client not initialized",
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := client.Ping(ctx); err != nil {
			return probeResult(StatusUnhealthy, fmt.Sprintf("kafka ping failed: %v", err), start)
		}

		return probeResult(StatusHealthy, "", start)
	}
}

// HTTPServiceHealthCheck probes a sibling service's health endpoint. An
// unreachable or erroring dependency is reported as degraded rather than
// unhealthy: bosun can still serve reads and apply review decisions while
// chandler or lookout are down.
func HTTPServiceHealthCheck(serviceName, url string) HealthCheck {
	client := &http.Client{Timeout: checkTimeout}
	return func() CheckResult {
		start := time.Now()

		resp, err := client.Get(url)
		if err != nil {
			return probeResult(StatusDegraded, fmt.Sprintf("%s unreachable: %v", serviceName, err), start)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return probeResult(StatusDegraded, fmt.Sprintf("%s returned %d", serviceName, resp.StatusCode), start)
		}

		return probeResult(StatusHealthy, "", start)
	}
}

// ConfigurationHealthCheck reports which required settings are empty.
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func() CheckResult {
		var missing []string
		for key, value := range configs {
			if strings.TrimSpace(value) == "" {
				missing = append(missing, key)
			}
		}

		if len(missing) > 0 {
			sort.Strings(missing)
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("missing configuration: %v", missing),
			}
		}

		return CheckResult{Status: StatusHealthy}
	}
}
