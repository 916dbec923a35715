package warming

import (
	"sync"
	"time"
)

// StrategyMetrics describes the runs of one strategy.
type StrategyMetrics struct {
	Executions    int64
	TotalDuration time.Duration
	LastExecution time.Time
}

// Metrics is a snapshot of engine counters.
type Metrics struct {
	Runs          int64
	TotalWarmed   int64 // attempted writes
	Successful    int64
	Failed        int64
	Timeouts      int64
	UsefulWarms   int64 // warmed keys later hit
	TotalDuration time.Duration
	Strategies    map[string]StrategyMetrics
}

// SuccessRate is Successful / TotalWarmed, or 0 before any warm.
func (m Metrics) SuccessRate() float64 {
	if m.TotalWarmed == 0 {
		return 0
	}
	return float64(m.Successful) / float64(m.TotalWarmed)
}

// AverageDuration is the mean run duration.
func (m Metrics) AverageDuration() time.Duration {
	if m.Runs == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Runs)
}

type metrics struct {
	mu sync.Mutex
	m  Metrics
}

func (mm *metrics) run(name string, d time.Duration, at time.Time, timedOut bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.m.Runs++
	mm.m.TotalDuration += d
	if timedOut {
		mm.m.Timeouts++
	}
	if mm.m.Strategies == nil {
		mm.m.Strategies = make(map[string]StrategyMetrics)
	}
	s := mm.m.Strategies[name]
	s.Executions++
	s.TotalDuration += d
	s.LastExecution = at
	mm.m.Strategies[name] = s
}

func (mm *metrics) warmed(ok bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.m.TotalWarmed++
	if ok {
		mm.m.Successful++
	} else {
		mm.m.Failed++
	}
}

func (mm *metrics) useful() {
	mm.mu.Lock()
	mm.m.UsefulWarms++
	mm.mu.Unlock()
}

func (mm *metrics) snapshot() Metrics {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	out := mm.m
	out.Strategies = make(map[string]StrategyMetrics, len(mm.m.Strategies))
	for k, v := range mm.m.Strategies {
		out.Strategies[k] = v
	}
	return out
}
