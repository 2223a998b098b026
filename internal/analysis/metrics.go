package analysis

import (
	"time"

	"github.com/anac-tg/incident-desk/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysisCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "analysis",
			Name:      "calls_total",
			Help:      "Image analysis calls by outcome",
		},
		[]string{"outcome"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Image analysis round-trip time",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
	)
)

func recordAnalysis(outcome string, d time.Duration) {
	analysisCalls.WithLabelValues(outcome).Inc()
	analysisDuration.Observe(d.Seconds())
}
