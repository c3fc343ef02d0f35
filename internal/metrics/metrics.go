// Package metrics defines the Prometheus collectors exported by the pool.
// Everything is registered upfront via promauto so that consumers can scrape
// a stable metric set from process start.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolSize tracks the total number of live connections per pool.
	PoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_connections",
		Help: "Total live connections per pool",
	}, []string{"pool"})

	// PoolInUse tracks connections currently on loan per pool.
	PoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_connections_in_use",
		Help: "Connections currently acquired per pool",
	}, []string{"pool"})

	// PoolAvailable tracks idle connections ready for loan per pool.
	PoolAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_connections_available",
		Help: "Idle connections available for acquisition per pool",
	}, []string{"pool"})

	// PoolTargetSize tracks the scaling controller's current target.
	PoolTargetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_target_size",
		Help: "Desired connection count computed by the scaling controller",
	}, []string{"pool"})

	// WaitQueueLength tracks callers currently waiting for a connection.
	WaitQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_wait_queue_length",
		Help: "Callers waiting for a connection per pool",
	}, []string{"pool"})

	// AcquiresTotal counts acquire outcomes.
	AcquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_acquires_total",
		Help: "Total acquire attempts by outcome",
	}, []string{"pool", "status"})

	// AcquireWaitDuration tracks how long callers waited for a connection.
	AcquireWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_acquire_wait_seconds",
		Help:    "Time spent waiting to acquire a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	// UsageDuration tracks how long acquired connections were held.
	UsageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_usage_duration_seconds",
		Help:    "Time between acquire and release",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"pool", "query_type"})

	// RecyclesTotal counts retired connections by reason.
	RecyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_recycles_total",
		Help: "Connections retired and replaced, by reason",
	}, []string{"pool", "reason"})

	// ValidationFailures counts failed round-trip checks.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_validation_failures_total",
		Help: "Connection validation check failures",
	}, []string{"pool"})

	// CreationErrors counts failed attempts to open a new connection.
	CreationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_creation_errors_total",
		Help: "Failures opening new physical connections",
	}, []string{"pool"})

	// CircuitState exports the breaker state as a gauge
	// (0=closed, 1=degraded, 2=open, 3=half_open).
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=degraded, 2=open, 3=half_open)",
	}, []string{"pool"})

	// CircuitTrips counts transitions into the open state.
	CircuitTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_circuit_trips_total",
		Help: "Circuit breaker trips (transitions to open)",
	}, []string{"pool"})

	// SweepDuration tracks background sweep run time.
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_sweep_duration_seconds",
		Help:    "Duration of background health sweeps",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"pool"})

	// RedisOperations counts coordinator Redis operations.
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_redis_operations_total",
		Help: "Total coordinator Redis operations",
	}, []string{"operation", "status"})

	// InstanceHeartbeat tracks instance heartbeat status.
	InstanceHeartbeat = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_instance_heartbeat",
		Help: "Instance heartbeat (1 = alive, 0 = dead)",
	}, []string{"instance_id"})
)
