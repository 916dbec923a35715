package actioncache

import (
	"github.com/huykn/actioncache/cluster"
	"github.com/huykn/actioncache/invalidation"
	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/storage"
	"github.com/huykn/actioncache/warming"
)

type options struct {
	stats      stats.Collector
	store      storage.PersistentStore
	dialer     cluster.Dialer
	executor   warming.Executor
	strategies []warming.Strategy
	rules      []invalidation.Rule
}

// Option configures a Node beyond what Config can express.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithStats sets the metrics collector shared by every component.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) { o.stats = c })
}

// WithPersistentStore uses s as L3 instead of the configured backend.
// The node closes it on Close.
func WithPersistentStore(s storage.PersistentStore) Option {
	return optionFunc(func(o *options) { o.store = s })
}

// WithDialer replaces the TCP dialer used to reach peers.
func WithDialer(d cluster.Dialer) Option {
	return optionFunc(func(o *options) { o.dialer = d })
}

// WithExecutor enables warming; e computes the results of warmed actions.
func WithExecutor(e warming.Executor) Option {
	return optionFunc(func(o *options) { o.executor = e })
}

// WithWarmingStrategies sets the strategies run in the background once
// the node starts, and again when the cache is rebuilt.
func WithWarmingStrategies(s ...warming.Strategy) Option {
	return optionFunc(func(o *options) { o.strategies = append(o.strategies, s...) })
}

// WithRules installs invalidation rules in addition to the default set.
func WithRules(rules ...invalidation.Rule) Option {
	return optionFunc(func(o *options) { o.rules = append(o.rules, rules...) })
}
