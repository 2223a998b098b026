package alerts

import (
	"time"

	"github.com/anac-tg/incident-desk/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "alerts",
			Name:      "processed_total",
			Help:      "Alert delivery outcomes (sent, retry, failed, abandoned)",
		},
		[]string{"status"},
	)

	alertSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "alerts",
			Name:      "send_duration_seconds",
			Help:      "Time to send one alert",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	alertQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "alerts",
			Name:      "queue_depth",
			Help:      "Alerts queued in process and not yet picked up",
		},
	)
)

func recordAlert(status string) {
	alertsProcessed.WithLabelValues(status).Inc()
}

func recordSendDuration(d time.Duration) {
	alertSendDuration.Observe(d.Seconds())
}

func recordQueued() {
	alertQueueDepth.Inc()
}

func recordDequeued() {
	alertQueueDepth.Dec()
}
