// Package metrics provides Prometheus instrumentation for the
// multiplayer store: hydration, sync queue depth, conflicts, connection
// state, and the token endpoint's HTTP traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, for the token-issuance endpoint.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiplayer_http_requests_total",
		Help: "Total number of HTTP requests to the token endpoint.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "multiplayer_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Hydration metrics.
var (
	HydrationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multiplayer_hydration_duration_seconds",
		Help:    "Duration of a full range-scan hydration.",
		Buckets: prometheus.DefBuckets,
	})

	HydrationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiplayer_hydration_total",
		Help: "Total number of hydration attempts, by outcome.",
	}, []string{"outcome"})
)

// Sync queue and conflict metrics.
var (
	SyncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multiplayer_sync_queue_depth",
		Help: "Number of mutations currently buffered in the sync queue.",
	})

	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiplayer_conflicts_total",
		Help: "Total number of three-way conflicts resolved, by strategy.",
	}, []string{"strategy"})

	WritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiplayer_writes_total",
		Help: "Total number of remote writes published.",
	})

	DeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiplayer_deletes_total",
		Help: "Total number of remote deletes published.",
	})
)

// Connection metrics.
var (
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multiplayer_connection_state",
		Help: "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting).",
	})

	WSMessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiplayer_ws_messages_sent_total",
		Help: "Total number of WebSocket messages sent to the remote KV service.",
	})

	WSMessagesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiplayer_ws_messages_received_total",
		Help: "Total number of WebSocket messages received from the remote KV service.",
	})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiplayer_reconnects_total",
		Help: "Total number of reconnect attempts after an unexpected disconnect.",
	})
)
