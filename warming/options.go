package warming

import (
	"time"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/stats"
)

type options struct {
	logger  cache.Logger
	stats   stats.Collector
	now     func() time.Time
	onError func(error)
}

// Option configures an Engine.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithLogger sets the engine logger.
func WithLogger(l cache.Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

// WithStats sets the metrics collector.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) { o.stats = c })
}

// WithClock sets the time source strategies plan against.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) { o.now = now })
}

// WithOnError registers a callback for failed background runs.
func WithOnError(fn func(error)) Option {
	return optionFunc(func(o *options) { o.onError = fn })
}
