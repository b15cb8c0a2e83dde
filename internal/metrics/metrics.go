package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total sync runs by source and outcome",
		},
		[]string{"source", "status"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Sync run duration in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900},
		},
		[]string{"source"},
	)

	IngestedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "sync",
			Name:      "ingested_messages_total",
			Help:      "Messages ingested by source",
		},
		[]string{"source"},
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Embedding batch duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	VectorSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "search",
			Name:      "vector_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2},
		},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordSyncRun records one finished sync run
func RecordSyncRun(source, status string, durationSec float64) {
	SyncRunsTotal.WithLabelValues(source, status).Inc()
	SyncRunDuration.WithLabelValues(source).Observe(durationSec)
}

// RecordIngestedMessage counts a newly persisted message
func RecordIngestedMessage(source string) {
	IngestedMessagesTotal.WithLabelValues(source).Inc()
}

// RecordEmbedding records embedding computation time
func RecordEmbedding(durationSec float64) {
	EmbeddingDuration.Observe(durationSec)
}

// RecordVectorSearch records vector search time
func RecordVectorSearch(durationSec float64) {
	VectorSearchDuration.Observe(durationSec)
}
