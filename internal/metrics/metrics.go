package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Emitter side
	BeaconFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtics_beacon_flushes_total",
			Help: "Flush attempts by outcome",
		},
		[]string{"outcome"},
	)

	BeaconDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtics_beacon_deliveries_total",
			Help: "Beacon requests completed in the background, by result",
		},
		[]string{"result"},
	)

	BeaconPayloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webtics_beacon_payload_bytes_total",
			Help: "Total bytes handed to the beacon transport",
		},
	)

	// Collector side
	CollectorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtics_collector_events_total",
			Help: "Events received on /track, by status",
		},
		[]string{"status"},
	)

	CollectorStoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webtics_collector_store_duration_seconds",
			Help:    "Duration of event inserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollectorStoredEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webtics_collector_stored_events",
			Help: "Events in the database at the last stats report",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webtics_collector_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	ForwardErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webtics_collector_forward_errors_total",
			Help: "Events that could not be forwarded downstream",
		},
	)
)
