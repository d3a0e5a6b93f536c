// Package metrics defines the Prometheus collectors exported by the
// service. Collectors are registered on the default registry and served
// by the API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups counts resolution requests by final result
	// (local, cached, resolved, unresolved).
	Lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxomat",
		Name:      "lookups_total",
		Help:      "Concept resolutions by final result.",
	}, []string{"result"})

	// CacheRequests counts cache reads by result (hit, negative, miss).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxomat",
		Name:      "cache_requests_total",
		Help:      "Cache reads by result.",
	}, []string{"source", "result"})

	// SourceRequests counts upstream fetches by outcome
	// (success, not_found, transient, rate_limited, fatal,
	// circuit_open, busy).
	SourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxomat",
		Name:      "source_requests_total",
		Help:      "Upstream source fetches by outcome.",
	}, []string{"source", "outcome"})

	// SourceLatency observes upstream fetch latency per source.
	SourceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taxomat",
		Name:      "source_latency_seconds",
		Help:      "Upstream source fetch latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	// BreakerState publishes the circuit state per source
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taxomat",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per source (0 closed, 1 half-open, 2 open).",
	}, []string{"source"})

	// TreeBuilds counts vocabulary tree rebuilds by trigger
	// (interval, watch, manual).
	TreeBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxomat",
		Name:      "tree_builds_total",
		Help:      "Vocabulary tree rebuilds by trigger.",
	}, []string{"trigger"})

	// TreeConcepts publishes the size of the current tree snapshot.
	TreeConcepts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taxomat",
		Name:      "tree_concepts",
		Help:      "Concepts in the current tree snapshot.",
	})
)
