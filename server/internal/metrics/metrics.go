// Package metrics provides Prometheus metrics for the nodealert server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "nodealert"
)

// Engine metrics
var (
	// RecordsProcessed counts records evaluated by the engine, by kind.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "records_processed_total",
			Help:      "Total records evaluated, by record kind",
		},
		[]string{"kind"},
	)

	// MalformedRecords counts records or metrics skipped as malformed.
	MalformedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "malformed_total",
			Help:      "Total malformed records or metrics skipped",
		},
	)

	// EventsEmitted counts alert events by direction and severity.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total alert events emitted",
		},
		[]string{"direction", "severity"},
	)

	// ProcessDuration tracks time spent in Orchestrator.Process.
	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "process_duration_seconds",
			Help:      "Record evaluation latency in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	// EntitiesTracked tracks entities with state, per shard.
	EntitiesTracked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "entities_tracked",
			Help:      "Number of entities with classifier state",
		},
		[]string{"shard"},
	)
)

// Dispatch metrics
var (
	// QueueDepth tracks pending messages per shard.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Messages waiting in a shard queue",
		},
		[]string{"shard"},
	)

	// ConfigReloads counts applied configuration swaps.
	ConfigReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "config_reloads_total",
			Help:      "Total alert configuration swaps applied",
		},
	)
)

// Transport metrics
var (
	// RecordsReceived counts inbound records by source and status.
	RecordsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "records_total",
			Help:      "Total inbound records, by source and status",
		},
		[]string{"source", "status"}, // status: accepted, rejected, dropped
	)

	// PublishErrors counts failed deliveries per sink.
	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Total failed alert deliveries, by sink",
		},
		[]string{"sink"},
	)

	// Published counts alerts delivered per sink.
	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "alerts_total",
			Help:      "Total alerts delivered, by sink",
		},
		[]string{"sink"},
	)

	// WSClients tracks connected websocket clients.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket clients",
		},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)
