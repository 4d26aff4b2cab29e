// Package metrics exposes Prometheus instrumentation for the sharing core
// and the HTTP layer around it.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consent Metrics
	ConsentResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familycircle_consent_resolutions_total",
			Help: "Total number of consent resolutions by outcome",
		},
		[]string{"outcome"}, // "ok", "degraded"
	)

	ConsentBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "familycircle_consent_batch_size",
			Help:    "Number of candidates per consent resolution",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	// Sharing Metrics
	SharingToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familycircle_sharing_toggles_total",
			Help: "Total number of sharing toggle attempts",
		},
		[]string{"enabled", "result"}, // result: "ok", "forbidden", "not_found", "store_error"
	)

	// Projection Metrics
	ProjectedMembers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familycircle_projected_members_total",
			Help: "Family members projected, by location status",
		},
		[]string{"status"},
	)

	// Proximity Metrics
	AnnotatedItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familycircle_annotated_items_total",
			Help: "Items passed through proximity annotation",
		},
		[]string{"has_distance"},
	)

	// API Metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "familycircle_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "familycircle_live_connections",
			Help: "Open WebSocket connections receiving family location updates",
		},
	)
)

// RecordConsent records one resolver call.
func RecordConsent(candidates int, degraded bool) {
	ConsentBatchSize.Observe(float64(candidates))
	if degraded {
		ConsentResolutions.WithLabelValues("degraded").Inc()
		return
	}
	ConsentResolutions.WithLabelValues("ok").Inc()
}

func RecordToggle(enabled bool, result string) {
	SharingToggles.WithLabelValues(strconv.FormatBool(enabled), result).Inc()
}

func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, endpoint, strconv.Itoa(status)).Observe(duration.Seconds())
}
