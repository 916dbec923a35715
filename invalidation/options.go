package invalidation

import (
	"context"
	"time"

	"github.com/huykn/actioncache/cache"
)

// DefaultHistorySize is the number of events kept by History.
const DefaultHistorySize = 1000

type options struct {
	logger      cache.Logger
	historySize int
	now         func() time.Time
	rules       []Rule
	onRebuild   func(context.Context)
	publish     func(context.Context, Event)
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

// WithHistorySize bounds the event history.
func WithHistorySize(n int) Option {
	return optionFunc(func(o *options) { o.historySize = n })
}

// WithClock sets the engine time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) { o.now = now })
}

// WithRules installs rules at construction.
func WithRules(rules ...Rule) Option {
	return optionFunc(func(o *options) { o.rules = append(o.rules, rules...) })
}

// WithOnRebuild is called after a schema change cleared the cache.
func WithOnRebuild(fn func(context.Context)) Option {
	return optionFunc(func(o *options) { o.onRebuild = fn })
}

// WithPublisher is called with every locally originated event after it
// has been processed.
func WithPublisher(fn func(context.Context, Event)) Option {
	return optionFunc(func(o *options) { o.publish = fn })
}
