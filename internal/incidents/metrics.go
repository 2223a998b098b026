package incidents

import (
	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	incidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "incidents",
			Name:      "created_total",
			Help:      "Incidents created by type and priority",
		},
		[]string{"type", "priority"},
	)

	triagePaths = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "triage",
			Name:      "path_total",
			Help:      "Triage classification path taken (image, text, image_failed)",
		},
		[]string{"path"},
	)

	escalationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "triage",
			Name:      "escalation_failures_total",
			Help:      "Escalations that could not be handed to the alert queue",
		},
	)
)

func recordCreated(inc *domain.Incident) {
	incidentsCreated.WithLabelValues(string(inc.Type), string(inc.Priority)).Inc()
}
