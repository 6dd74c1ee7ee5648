// Package metrics defines all Prometheus metrics for the distribution
// engine. Metrics are registered via promauto at package init and exposed
// through the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Aggregation metrics
var (
	// EventsAppliedTotal tracks update events folded into snapshots, by event type
	EventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_applied_total",
			Help: "Total update events applied to topic snapshots, by event type",
		},
		[]string{"event_type"},
	)

	// ActiveTopics tracks the number of topics with a live snapshot
	ActiveTopics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_active_topics",
			Help: "Number of topics with a live snapshot",
		},
	)

	// UpdatesEmittedTotal tracks topic update notifications emitted
	UpdatesEmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_updates_emitted_total",
			Help: "Total topic update notifications emitted to listeners",
		},
	)

	// BroadcastFailuresTotal tracks failures swallowed in the broadcast path
	BroadcastFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_broadcast_failures_total",
			Help: "Total failures swallowed while applying or emitting an event",
		},
	)
)

// Throttle queue metrics
var (
	// ThrottledEnqueuedTotal tracks events enqueued for batched release
	ThrottledEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_throttled_enqueued_total",
			Help: "Total events enqueued into per-topic pending queues",
		},
	)

	// EventsDroppedTotal tracks oldest-entry evictions from full queues
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_events_dropped_total",
			Help: "Total events evicted from full pending queues (drop-oldest)",
		},
	)

	// EventsConsolidatedTotal tracks events collapsed away by consolidation
	EventsConsolidatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_events_consolidated_total",
			Help: "Total events collapsed into a newer event for the same option",
		},
	)

	// BatchesReleasedTotal tracks release cycles executed
	BatchesReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_batches_released_total",
			Help: "Total throttled batches released",
		},
	)
)

// Connection metrics
var (
	// ActiveConnections tracks registered subscriber connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_active_connections",
			Help: "Number of registered subscriber connections",
		},
	)

	// HeartbeatTimeoutsTotal tracks connections flagged stale by the monitor
	HeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_heartbeat_timeouts_total",
			Help: "Total connections flagged stale by the heartbeat monitor",
		},
	)

	// ReconnectAttemptsTotal tracks reconnection attempts started
	ReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reconnect_attempts_total",
			Help: "Total reconnection attempts",
		},
	)

	// ReconnectFailuresTotal tracks connections that exhausted their retry budget
	ReconnectFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reconnect_failures_total",
			Help: "Total connections that exhausted their reconnection attempts",
		},
	)

	// DeliveryDropsTotal tracks payloads dropped for slow subscriber channels
	DeliveryDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_delivery_drops_total",
			Help: "Total update payloads dropped because a subscriber channel was full",
		},
	)
)

// Engine actor metrics
var (
	// CommandChannelDepth tracks the engine command channel backlog
	CommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_command_channel_depth",
			Help: "Current depth of the engine command channel",
		},
	)

	// EnginePanicsTotal tracks recovered panics in the engine actor
	EnginePanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_panics_total",
			Help: "Total panics recovered in the engine actor loop",
		},
	)

	// EngineStopTimeoutsTotal tracks Stop calls that exceeded the stop timeout
	EngineStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_stop_timeouts_total",
			Help: "Total engine stops that exceeded the stop timeout",
		},
	)

	// NotifierDroppedTotal tracks notifications dropped for slow listeners, by kind
	NotifierDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_notifier_dropped_total",
			Help: "Total notifications dropped because a listener was slow, by kind",
		},
		[]string{"kind"},
	)
)

// WebSocket transport metrics
var (
	// WebSocketMessageSendDuration tracks websocket write latency
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// WebSocketPingFailures tracks failed keepalive pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket keepalive pings",
		},
	)

	// WebSocketSlowClientDrops tracks payloads dropped on full client buffers
	WebSocketSlowClientDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_client_drops_total",
			Help: "Total payloads dropped because a client send buffer was full",
		},
	)
)

// Ingest metrics
var (
	// IngestEventsTotal tracks inbound producer events, by outcome
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total inbound producer events, by outcome",
		},
		[]string{"outcome"},
	)
)

// Catalog metrics
var (
	// CatalogCacheHits tracks label cache hits and misses
	CatalogCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_requests_total",
			Help: "Total label cache lookups, by result",
		},
		[]string{"result"},
	)
)
