package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds the Prometheus instruments exposed via GET /metrics.
// The registry is injected so tests can use an isolated one instead of the
// process-global default.
type serverMetrics struct {
	// httpRequestsTotal counts completed HTTP requests by route and status.
	httpRequestsTotal *prometheus.CounterVec
	// httpDuration observes per-route request latency.
	httpDuration *prometheus.HistogramVec

	// chatRequestsTotal counts chat requests by outcome ("ok" or "error").
	chatRequestsTotal *prometheus.CounterVec
	// chatDuration observes end-to-end chat latency including streaming.
	chatDuration prometheus.Histogram
	// chatActiveStreams gauges chat responses currently streaming.
	chatActiveStreams prometheus.Gauge

	// ingestDocumentsTotal counts documents ingested by outcome.
	ingestDocumentsTotal *prometheus.CounterVec
	// ingestChunksTotal counts chunks written across all ingests.
	ingestChunksTotal prometheus.Counter

	// searchRequestsTotal counts searches by outcome ("ok", "degraded", "error").
	searchRequestsTotal *prometheus.CounterVec
}

// newServerMetrics registers all server instruments on reg.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studybuddy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Completed HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studybuddy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studybuddy",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		chatDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studybuddy",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "End-to-end chat request latency including streaming.",
			// Chat responses stream for seconds to minutes.
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "studybuddy",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Chat responses currently streaming.",
		}),
		ingestDocumentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studybuddy",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents ingested by outcome.",
		}, []string{"outcome"}),
		ingestChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "studybuddy",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks written across all ingested documents.",
		}),
		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studybuddy",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by outcome.",
		}, []string{"outcome"}),
	}
}
