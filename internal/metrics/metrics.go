// Package metrics defines the Prometheus collectors for the pool, the TDS
// wire layer and BCP bulk loads (SPEC_FULL §6, metrics_addr). All collectors
// are registered upfront via promauto so every package can use them without
// touching this file again.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of active connections per context.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mssqlcore_connections_active",
		Help: "Number of active connections per catalog context",
	}, []string{"context"})

	// ConnectionsIdle tracks the number of idle connections per context.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mssqlcore_connections_idle",
		Help: "Number of idle connections in the pool per catalog context",
	}, []string{"context"})

	// ConnectionsPinned tracks the number of pinned connections per context.
	ConnectionsPinned = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mssqlcore_connections_pinned",
		Help: "Number of pinned connections per catalog context",
	}, []string{"context", "pin_reason"})

	// ConnectionsMax tracks the configured max connections per context.
	ConnectionsMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mssqlcore_connections_max",
		Help: "Configured maximum connections per catalog context",
	}, []string{"context"})

	// ConnectionsTotal counts total connection acquire/release operations.
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mssqlcore_connections_total",
		Help: "Total connection operations",
	}, []string{"context", "status"})

	// QueueLength tracks the current acquire-queue length per context.
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mssqlcore_queue_length",
		Help: "Number of acquire calls waiting in queue per catalog context",
	}, []string{"context"})

	// QueueWaitDuration tracks the time callers spend waiting for a
	// connection to become available.
	QueueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mssqlcore_queue_wait_seconds",
		Help:    "Time spent waiting in queue for a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"context"})

	// TDSPacketsTotal counts TDS packets by direction and type.
	TDSPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mssqlcore_tds_packets_total",
		Help: "Total TDS packets processed",
	}, []string{"context", "direction", "type"})

	// QueryDuration tracks batch execution time.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mssqlcore_query_duration_seconds",
		Help:    "SQL batch execution duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"context"})

	// ConnectionErrors counts connection errors by type.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mssqlcore_connection_errors_total",
		Help: "Total connection errors",
	}, []string{"context", "error_type"})

	// RedisOperations counts PoolCoordinator Redis operations.
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mssqlcore_redis_operations_total",
		Help: "Total PoolCoordinator Redis operations",
	}, []string{"operation", "status"})

	// InstanceHeartbeat tracks this engine worker's coordinator heartbeat.
	InstanceHeartbeat = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mssqlcore_instance_heartbeat",
		Help: "Instance heartbeat (1 = alive, 0 = dead)",
	}, []string{"instance_id"})

	// PinningDuration tracks how long connections stay pinned (to a
	// transaction or a bulk load).
	PinningDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mssqlcore_pinning_duration_seconds",
		Help:    "Duration of connection pinning",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"context", "pin_reason"})

	// BCPRowsWritten counts rows confirmed by a BCP bulk-load DONE token.
	BCPRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mssqlcore_bcp_rows_written_total",
		Help: "Total rows confirmed written by bulk-load operations",
	}, []string{"context"})
)
