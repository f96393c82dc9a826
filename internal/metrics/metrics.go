package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Replication / Outbox Metrics
var (
	// ReplicationLagSeconds tracks now - oldest_unapplied.created_at. A soft
	// staleness signal, not a hard guarantee.
	ReplicationLagSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replication_lag_seconds",
			Help: "Age of the oldest unapplied outbox record in seconds (0 when drained)",
		},
	)

	// OutboxAppliedTotal tracks records applied to the read index
	OutboxAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_applied_total",
			Help: "Total outbox records applied to the read index",
		},
	)

	// OutboxFailuresTotal tracks propagation failures by stage
	OutboxFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_failures_total",
			Help: "Total propagation failures by stage (fetch/apply/mark)",
		},
		[]string{"stage"},
	)

	// OutboxPrunedTotal tracks applied records removed by retention pruning
	OutboxPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_pruned_total",
			Help: "Total applied outbox records pruned after the retention window",
		},
	)
)

// Authentication Metrics
var (
	// AuthOperationsTotal tracks public operations by result
	AuthOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total auth operations by operation (register/login/refresh/logout) and result",
		},
		[]string{"operation", "result"},
	)

	// TokenVerificationsTotal tracks verify outcomes
	TokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_verifications_total",
			Help: "Total token verifications by result (ok/expired/revoked/malformed/unavailable)",
		},
		[]string{"result"},
	)

	// RevocationFallbacksTotal tracks revocation cache failures by the
	// configured policy that handled them
	RevocationFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revocation_fallbacks_total",
			Help: "Revocation cache failures by applied policy (fail_open/fail_closed)",
		},
		[]string{"policy"},
	)

	// ReadIndexFallbacksTotal tracks read index misses that fell back to the registry
	ReadIndexFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "read_index_fallbacks_total",
			Help: "Total read index misses served by the identity registry",
		},
	)
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Database Metrics
var (
	// DBErrorsTotal tracks database errors by query name
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by query",
		},
		[]string{"query"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
