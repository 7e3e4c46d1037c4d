package transfer

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotesync_transfer_tasks_total",
			Help: "Total number of transfer tasks executed",
		},
		[]string{"kind", "status"},
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotesync_transfer_bytes_total",
			Help: "Total bytes copied by transfer tasks",
		},
		[]string{"kind"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remotesync_transfer_task_duration_seconds",
			Help:    "Transfer task duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// MetricsHandler serves the transfer metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func recordTask(kind Kind, status Status, bytes int64, duration time.Duration) {
	tasksTotal.WithLabelValues(kind.String(), status.String()).Inc()
	taskDuration.WithLabelValues(kind.String()).Observe(duration.Seconds())
	if bytes > 0 {
		bytesTotal.WithLabelValues(kind.String()).Add(float64(bytes))
	}
}
