// Package cachenodefx provides an fx module for an actioncache node.
package cachenodefx

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/huykn/actioncache"
	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/stats/logger"
	promstats "github.com/huykn/actioncache/stats/prometheus"
	"github.com/huykn/actioncache/warming"
)

// Module provides a started *actioncache.Node that joins the cluster on
// OnStart and leaves it on OnStop.
// Requires an actioncache.Config and a *zap.Logger to be provided.
// A prometheus.Registerer and a warming.Executor are used when provided.
var Module = fx.Module("cachenode",
	fx.Provide(
		newStatsCollector,
		newNode,
	),
)

// StatsParams holds dependencies for the metrics collector.
type StatsParams struct {
	fx.In

	Logger     *zap.Logger
	Registerer prometheus.Registerer `optional:"true"`
}

// newStatsCollector exports to Prometheus when a registerer is provided
// and logs metrics at debug level otherwise.
func newStatsCollector(p StatsParams) stats.Collector {
	if p.Registerer != nil {
		return promstats.New(p.Registerer)
	}
	return logger.New(p.Logger.Named("actioncache.stats"))
}

// Params holds dependencies for creating the node.
type Params struct {
	fx.In

	Config     actioncache.Config
	Logger     *zap.Logger
	Collector  stats.Collector
	Executor   warming.Executor   `optional:"true"`
	Strategies []warming.Strategy `optional:"true"`
	Lifecycle  fx.Lifecycle
}

// Result holds the provided node.
type Result struct {
	fx.Out

	Node *actioncache.Node
}

func newNode(p Params) (Result, error) {
	cfg := p.Config
	if cfg.Logger == nil {
		cfg.Logger = cache.NewZapLogger(p.Logger.Named("actioncache"))
	}

	opts := []actioncache.Option{actioncache.WithStats(p.Collector)}
	if p.Executor != nil {
		opts = append(opts, actioncache.WithExecutor(p.Executor))
		opts = append(opts, actioncache.WithWarmingStrategies(p.Strategies...))
	}

	node, err := actioncache.New(context.Background(), cfg, opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return node.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return node.Close()
		},
	})

	return Result{Node: node}, nil
}
