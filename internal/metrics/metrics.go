package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subscriber registry and broadcast metrics
var (
	// RegistryPolls tracks polls with at least one live subscriber
	RegistryPolls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livepoll_registry_polls",
			Help: "Number of polls with at least one live subscriber",
		},
	)

	// RegistrySubscribers tracks live subscribers across all polls
	RegistrySubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livepoll_registry_subscribers",
			Help: "Number of live subscribers across all polls",
		},
	)

	// BroadcastsTotal counts broadcasts by where the update came from (local, relay)
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_broadcasts_total",
			Help: "Total broadcasts by update source",
		},
		[]string{"source"},
	)

	// BroadcastDeliveries counts per-subscriber delivery attempts by result
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_broadcast_deliveries_total",
			Help: "Per-subscriber delivery attempts by result (delivered, failed)",
		},
		[]string{"result"},
	)

	// DeliveryFailures counts pruned subscribers by failure reason (timeout, closed, error)
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_delivery_failures_total",
			Help: "Subscribers pruned after a failed delivery, by reason",
		},
		[]string{"reason"},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livepoll_broadcasts_dropped_total",
			Help: "Queued updates dropped because a poll's broadcast backlog was full",
		},
	)

	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livepoll_broadcast_duration_seconds",
			Help:    "Time to deliver one update to every subscriber of a poll",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5},
		},
	)

	BroadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livepoll_broadcast_fanout",
			Help:    "Subscribers reached per broadcast",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

// WebSocket connection metrics
var (
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livepoll_websocket_connections_current",
			Help: "Currently open WebSocket connections",
		},
	)

	// WebSocketConnectionsTotal counts upgrade attempts by result (success, error)
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_websocket_connections_total",
			Help: "Total WebSocket upgrade attempts by result",
		},
		[]string{"result"},
	)

	// WebSocketConnectionsRejected counts connections refused by a limiter
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_websocket_connections_rejected_total",
			Help: "WebSocket connections rejected by reason (global_limit, per_ip_limit, rate_limit)",
		},
		[]string{"reason"},
	)

	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livepoll_websocket_connection_duration_seconds",
			Help:    "Lifetime of WebSocket connections",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
		},
	)

	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livepoll_websocket_ping_failures_total",
			Help: "Ping control frames that could not be written",
		},
	)

	WebSocketIdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livepoll_websocket_idle_disconnects_total",
			Help: "Connections closed after the idle timeout",
		},
	)
)

// Vote path metrics
var (
	// VotesTotal counts vote commits by result (created, changed, unchanged, rejected, error)
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_votes_total",
			Help: "Votes cast by result",
		},
		[]string{"result"},
	)

	VoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livepoll_vote_duration_seconds",
			Help:    "Vote transaction latency including conflict retries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	VoteConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livepoll_vote_conflict_retries_total",
			Help: "Vote transactions retried after a same-user conflict",
		},
	)

	VotePublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livepoll_vote_publish_failures_total",
			Help: "Committed votes whose update could not be handed to fan-out",
		},
	)

	// ResultsLoads counts tally loads; shared=true when collapsed into another caller's load
	ResultsLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_results_loads_total",
			Help: "Poll result loads by whether they were shared",
		},
		[]string{"shared"},
	)

	// AuthAttempts counts register/login outcomes
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_auth_attempts_total",
			Help: "Authentication attempts by operation and result",
		},
		[]string{"operation", "result"},
	)
)

// Relay metrics
var (
	// RelayMessagesTotal counts relay traffic by direction (published, received) and status
	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livepoll_relay_messages_total",
			Help: "Redis relay messages by direction and status",
		},
		[]string{"direction", "status"},
	)

	RelayFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livepoll_relay_fallbacks_total",
			Help: "Updates broadcast locally because the relay was unavailable",
		},
	)
)

// Redis metrics
var (
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState is 0=closed, 1=half-open, 2=open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Database metrics
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Database errors by query",
		},
		[]string{"query"},
	)

	DBConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_connections_current",
			Help: "Database pool connections by state (acquired, idle, total)",
		},
		[]string{"state"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by error type",
		},
		[]string{"type"},
	)
)
