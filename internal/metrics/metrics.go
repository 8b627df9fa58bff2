package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway metrics
var (
	// ActiveConnections tracks current admitted WebSocket connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Current number of admitted WebSocket connections",
		},
	)

	// AuthenticatedConnections tracks connections with verified claims
	AuthenticatedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_authenticated_connections",
			Help: "Current number of authenticated connections",
		},
	)

	// AdmissionRejectsTotal tracks refused connections by limit reason
	AdmissionRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_admission_rejects_total",
			Help: "Connections refused at admission by limit reason",
		},
		[]string{"reason"},
	)

	// DisconnectsTotal tracks completed disconnects by close code
	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_disconnects_total",
			Help: "Completed disconnects by close code",
		},
		[]string{"code"},
	)

	// TokenVerificationsTotal tracks verifier calls by outcome
	TokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_verifications_total",
			Help: "Token verification attempts by outcome",
		},
		[]string{"outcome"},
	)
)

// Validator metrics
var (
	// MessagesValidatedTotal tracks inbound message validation by result
	MessagesValidatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validator_messages_total",
			Help: "Inbound messages by validation result (ok or error code)",
		},
		[]string{"result"},
	)
)

// Registry metrics
var (
	// ActiveSubscriptions tracks live subscriptions
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_subscriptions",
			Help: "Current number of live subscriptions",
		},
	)

	// SubscriptionMutationsTotal tracks registry mutations by kind
	SubscriptionMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_subscription_mutations_total",
			Help: "Subscription mutations by kind (subscribe, unsubscribe, add_filter, remove_filter, purge)",
		},
		[]string{"kind"},
	)
)

// Dispatcher metrics
var (
	// EventsDispatchedTotal tracks events consumed from the producer stream
	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Intelligence events dispatched by topic",
		},
		[]string{"topic"},
	)

	// DeliveriesTotal tracks per-subscriber delivery attempts by outcome
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_deliveries_total",
			Help: "Per-subscriber delivery attempts by outcome (sent, dead)",
		},
		[]string{"outcome"},
	)

	// FanoutDuration tracks time from event ingestion to last delivery
	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_fanout_duration_seconds",
			Help:    "Time from event ingestion to last successful delivery",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// DispatcherPanicsTotal tracks panics recovered at the dispatch boundary
	DispatcherPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_panics_total",
			Help: "Panics recovered while dispatching a single event",
		},
	)

	// EventCacheHitsTotal tracks producer-reported cache hits
	EventCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_event_cache_results_total",
			Help: "Producer-reported cache results on consumed events",
		},
		[]string{"result"},
	)
)

// Event source metrics
var (
	// EventSourceMessagesTotal tracks pub/sub frames by decode outcome
	EventSourceMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsource_messages_total",
			Help: "Pub/sub frames received by decode outcome",
		},
		[]string{"outcome"},
	)
)

// Connection writer metrics
var (
	// OutboundDroppedTotal tracks frames dropped by the drop-oldest policy
	OutboundDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_outbound_dropped_total",
			Help: "Outbound frames dropped for slow consumers (drop-oldest)",
		},
	)

	// WriterPingFailures tracks keepalive ping write failures
	WriterPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_ping_failures_total",
			Help: "Keepalive ping write failures",
		},
	)

	// HeartbeatsTotal tracks heartbeat frames emitted by receive loops
	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "server_heartbeats_total",
			Help: "Heartbeat frames emitted on receive-loop idle ticks",
		},
	)
)
