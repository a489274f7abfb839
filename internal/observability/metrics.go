package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CounterDrift counts cached counters found disagreeing with their sets.
	CounterDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projecthub_counter_drift_total",
		Help: "Cached counters found out of sync with their backing sets",
	}, []string{"counter", "source"})

	// IdentityResolutions counts author lookups by path and outcome.
	IdentityResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projecthub_identity_resolutions_total",
		Help: "Author identity resolutions by lookup path and outcome",
	}, []string{"path", "outcome"})

	// ProjectInteractions counts likes, unlikes, shares and comments.
	ProjectInteractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projecthub_project_interactions_total",
		Help: "Project interactions by action",
	}, []string{"action"})

	// SampleRejections counts interactions refused because the project is sample content.
	SampleRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projecthub_sample_interaction_rejections_total",
		Help: "Interactions rejected on sample projects",
	}, []string{"action"})

	// StoreQueryLatency records store operation latency by backend and operation.
	StoreQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "projecthub_store_query_latency_seconds",
		Help:    "Store operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})
)

// TrackQuery returns a function that records latency when called (e.g. defer).
func TrackQuery(backend, operation string) func() {
	start := time.Now()
	return func() {
		StoreQueryLatency.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	}
}
