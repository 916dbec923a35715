package cluster

import (
	"time"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/stats"
)

type options struct {
	dialer  Dialer
	logger  cache.Logger
	stats   stats.Collector
	now     func() time.Time
	onError func(error)
}

// Option configures a Coordinator.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithDialer replaces the TCP dialer, e.g. with in-process peers.
func WithDialer(d Dialer) Option {
	return optionFunc(func(o *options) { o.dialer = d })
}

// WithLogger sets the coordinator logger.
func WithLogger(l cache.Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

// WithStats sets the metrics collector.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) { o.stats = c })
}

// WithClock sets the time source used for heartbeats and failure detection.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) { o.now = now })
}

// WithOnError registers a callback for errors absorbed in background work.
func WithOnError(fn func(error)) Option {
	return optionFunc(func(o *options) { o.onError = fn })
}
