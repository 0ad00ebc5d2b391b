// Package metrics exposes Prometheus instrumentation for the enrichment
// pipeline. Collectors are registered on the default registry and served at
// /metrics by internal/web.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GeocodeRequests counts external geocoding calls.
	// outcome: resolved, no_result, error
	GeocodeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircal_geocode_requests_total",
			Help: "External geocoding requests by outcome",
		},
		[]string{"outcome"},
	)

	// GeocodeCacheLookups counts cache-only phase lookups.
	// result: hit, negative, miss
	GeocodeCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircal_geocode_cache_lookups_total",
			Help: "Geocode cache lookups by result",
		},
		[]string{"result"},
	)

	GeocodeRunsSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aircal_geocode_runs_superseded_total",
			Help: "Geocode runs abandoned because a newer run started",
		},
	)

	// CoverLookups counts cover cache lookups.
	// result: hit, miss, fallback
	CoverLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircal_cover_lookups_total",
			Help: "Cover image cache lookups by result",
		},
		[]string{"result"},
	)

	// Refreshes counts pipeline refreshes.
	// outcome: success, error, stale
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircal_refreshes_total",
			Help: "Enrichment pipeline refreshes by outcome",
		},
		[]string{"outcome"},
	)

	SpansBuilt = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aircal_spans",
			Help: "Number of location spans in the latest refresh",
		},
	)

	// CircuitBreakerState mirrors gobreaker state per client.
	// 0=closed, 1=half-open, 2=open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aircal_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
