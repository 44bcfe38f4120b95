package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheOps counts cache operations by operation and outcome.
	CacheOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warmlock_cache_operations_total",
		Help: "Total number of cache operations by outcome",
	}, []string{"op", "result"})
	// CacheLatency observes cache operation latency.
	CacheLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warmlock_cache_operation_seconds",
		Help:    "Latency of cache operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	// LockOps counts lock operations by operation and outcome.
	LockOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warmlock_lock_operations_total",
		Help: "Total number of lock operations by outcome",
	}, []string{"op", "result"})
	// LockLatency observes lock operation latency, retries included.
	LockLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warmlock_lock_operation_seconds",
		Help:    "Latency of lock operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	// ConnectionState reports the connection manager state as its numeric value.
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warmlock_connection_state",
		Help: "Connection state (0=disconnected, 1=connecting, 2=connected, 3=degraded)",
	})
	// ConnectAttempts counts connection cycles by outcome.
	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warmlock_connect_attempts_total",
		Help: "Total number of connection attempts by outcome",
	}, []string{"result"})
	// WarmupRuns counts warmup provider executions by outcome.
	WarmupRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warmlock_warmup_runs_total",
		Help: "Total number of warmup provider runs by outcome",
	}, []string{"provider", "result"})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers warmlock metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CacheOps, CacheLatency, LockOps, LockLatency, ConnectionState, ConnectAttempts, WarmupRuns)
}
