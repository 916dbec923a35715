// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Local tier metrics.
	MetricRequests      = "actioncache_requests_total"
	MetricL1Hits        = "actioncache_l1_hits_total"
	MetricL2Hits        = "actioncache_l2_hits_total"
	MetricL3Hits        = "actioncache_l3_hits_total"
	MetricMisses        = "actioncache_misses_total"
	MetricEvictions     = "actioncache_evictions_total"
	MetricInvalidations = "actioncache_invalidations_total"
	MetricL3Errors      = "actioncache_l3_errors_total"

	// Cluster metrics.
	MetricRemoteGets       = "actioncache_remote_gets_total"
	MetricRemoteErrors     = "actioncache_remote_errors_total"
	MetricQuorumFailures   = "actioncache_quorum_failures_total"
	MetricActiveNodes      = "actioncache_active_nodes"
	MetricKeysMoved        = "actioncache_rebalance_keys_moved_total"
	MetricOperationSeconds = "actioncache_operation_seconds"

	// Warming metrics.
	MetricWarmed        = "actioncache_warmed_total"
	MetricWarmFailures  = "actioncache_warm_failures_total"
	MetricWarmRunSecond = "actioncache_warm_run_seconds"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
