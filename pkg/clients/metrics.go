package clients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var collaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bosun",
	Name:      "collaborator_errors_total",
	Help:      "Collaborator calls that failed after retry and breaker handling",
}, []string{"service"})

// RecordCollaboratorError counts one failed call to the named collaborator.
// Called once per failed operation, not per retry attempt.
func RecordCollaboratorError(service string) {
	collaboratorErrors.WithLabelValues(service).Inc()
}
