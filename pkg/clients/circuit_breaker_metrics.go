package clients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauge values follow CircuitBreakerState: 0=closed, 1=half-open, 2=open.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Current circuit state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_state_transitions_total",
		Help: "Circuit state transitions by breaker name",
	}, []string{"name", "from", "to"})
)

// CircuitBreakerMetricsCallback builds an OnStateChange hook that mirrors
// breaker transitions into Prometheus, one series per collaborator name.
func CircuitBreakerMetricsCallback(name string) func(string, CircuitBreakerState, CircuitBreakerState) {
	return func(_ string, from, to CircuitBreakerState) {
		breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name).Set(float64(to))
	}
}
