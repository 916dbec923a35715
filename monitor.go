package actioncache

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/huykn/actioncache/invalidation"
)

// monitor reports memory usage against the Go memory limit and the L3
// error rate of the last interval to the invalidation engine, so
// threshold rules can fire.
func (n *Node) monitor(ctx context.Context, interval time.Duration) {
	defer n.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := n.local.Metrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if usage, ok := memoryUsage(); ok {
			n.engine.ReportThreshold(ctx, invalidation.MemoryUsage, usage)
		}

		m := n.local.Metrics()
		if requests := m.TotalRequests - last.TotalRequests; requests > 0 {
			errs := m.L3Errors - last.L3Errors
			if errs < 0 {
				// counters were reset by Clear
				errs = m.L3Errors
			}
			rate := float64(errs) / float64(requests)
			n.engine.ReportThreshold(ctx, invalidation.ErrorRate, rate)
		}
		last = m
	}
}

// memoryUsage returns in-use heap over the soft memory limit. It reports
// false when no limit is set.
func memoryUsage() (float64, bool) {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0, false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapInuse) / float64(limit), true
}
