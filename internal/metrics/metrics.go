// Package metrics holds the Prometheus collectors for the shortener.
// Collectors are registered on the default registry via promauto and exposed
// by promhttp.Handler on the configured metrics path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shorturl"

var (
	// HTTP

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// Shortener

	MappingsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mappings_created_total",
			Help:      "Total number of new URL mappings stored",
		},
	)

	// DedupHitsTotal counts create requests answered with an existing mapping,
	// including requests that lost an insert race.
	DedupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Total number of create requests answered with an existing mapping",
		},
	)

	InvalidURLsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_urls_total",
			Help:      "Total number of create requests rejected as invalid",
		},
	)

	RedirectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Total number of successful short code resolutions",
		},
	)

	ResolveMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_misses_total",
			Help:      "Total number of lookups for short codes that were never issued",
		},
	)

	// Storage

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of store operations that failed with a backend error",
		},
		[]string{"operation"},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of mapping cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of mapping cache misses",
		},
	)
)

func RecordMappingCreated() { MappingsCreatedTotal.Inc() }

func RecordDedupHit() { DedupHitsTotal.Inc() }

func RecordInvalidURL() { InvalidURLsTotal.Inc() }

func RecordRedirect() { RedirectsTotal.Inc() }

func RecordResolveMiss() { ResolveMissesTotal.Inc() }

// RecordStoreError increments the error counter for a store operation
// such as "allocate" or "insert".
func RecordStoreError(operation string) {
	StoreErrorsTotal.WithLabelValues(operation).Inc()
}

func RecordCacheHit() { CacheHitsTotal.Inc() }

func RecordCacheMiss() { CacheMissesTotal.Inc() }
