// Package actioncache is a multi-tier, distributed cache for the results
// of expensive object actions. A Node combines a three-tier local cache,
// a consistent-hashing cluster coordinator, rule and dependency driven
// invalidation, and proactive warming.
package actioncache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/cluster"
	"github.com/huykn/actioncache/invalidation"
	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/storage"
	acsync "github.com/huykn/actioncache/sync"
	"github.com/huykn/actioncache/transport"
	"github.com/huykn/actioncache/types"
	"github.com/huykn/actioncache/warming"
)

// Metrics is a snapshot of every component's counters.
type Metrics struct {
	Cache   cache.Metrics
	Cluster cluster.Stats
	Warming warming.Metrics
	Sync    acsync.Stats
}

// Node is one member of a cache cluster.
type Node struct {
	cfg        Config
	opts       options
	logger     Logger
	zap        *zap.Logger
	marshaller Marshaller

	store  storage.PersistentStore
	local  *cache.TieredCache
	coord  *cluster.Coordinator
	server *transport.Server
	engine *invalidation.Engine
	warmer *warming.Engine
	relay  *acsync.PubSubSynchronizer
	redis  *redis.Client

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ warming.Cache = (*Node)(nil)

// New builds a node from cfg and binds its listener. Call Start to join
// the cluster and start background work.
func New(ctx context.Context, cfg Config, opts ...Option) (_ *Node, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{cfg: cfg, marshaller: cfg.Marshaller}
	for _, opt := range opts {
		opt.apply(&n.opts)
	}
	if n.opts.stats == nil {
		n.opts.stats = stats.NewNoop()
	}
	if n.marshaller == nil {
		n.marshaller = cache.NewJSONMarshaller()
	}

	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				_ = cleanup[i]()
			}
		}
	}()

	n.logger = cfg.Logger
	if n.logger == nil {
		zl, err := newZapLogger(cfg.LogLevel, cfg.DebugMode)
		if err != nil {
			return nil, err
		}
		n.zap = zl
		n.logger = cache.NewZapLogger(zl).Named(cfg.NodeID)
		cleanup = append(cleanup, func() error { _ = zl.Sync(); return nil })
	}

	n.store = n.opts.store
	if n.store == nil {
		if n.store, err = openStore(ctx, cfg.Persistent); err != nil {
			return nil, fmt.Errorf("opening %s store: %w", cfg.Persistent.Backend, err)
		}
	}
	cleanup = append(cleanup, n.store.Close)

	n.local, err = cache.New(cache.Options{
		L1MaxSize:      cfg.L1MaxSize,
		L2MaxSize:      cfg.L2MaxSize,
		DefaultTTL:     cfg.DefaultTTL,
		Persistent:     n.store,
		Marshaller:     cfg.Marshaller,
		Logger:         n.logger,
		DebugMode:      cfg.DebugMode,
		ContextTimeout: cfg.ContextTimeout,
		Stats:          n.opts.stats,
		OnError:        cfg.OnError,
	})
	if err != nil {
		return nil, err
	}
	// the tiered cache owns the store from here on
	cleanup[len(cleanup)-1] = n.local.Close

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}
	cleanup = append(cleanup, ln.Close)

	cc := cfg.ClusterConfig()
	if cc.AdvertiseAddr == "" {
		cc.AdvertiseAddr = advertiseAddr(ln.Addr())
	}
	n.cfg.AdvertiseAddr = cc.AdvertiseAddr

	copts := []cluster.Option{
		cluster.WithLogger(n.logger),
		cluster.WithStats(n.opts.stats),
	}
	if cfg.OnError != nil {
		copts = append(copts, cluster.WithOnError(cfg.OnError))
	}
	if n.opts.dialer != nil {
		copts = append(copts, cluster.WithDialer(n.opts.dialer))
	}
	if n.coord, err = cluster.New(cc, n.local, copts...); err != nil {
		return nil, err
	}
	cleanup = append(cleanup, n.coord.Close)

	n.server = transport.NewServer(ln, n.coord,
		transport.WithTimeout(cfg.RPCTimeout),
		transport.WithLogger(n.logger),
	)

	rules := n.opts.rules
	if cfg.Invalidation.DefaultRules {
		rules = append(invalidation.DefaultRules(), rules...)
	}
	n.engine = invalidation.New(n.local,
		invalidation.WithLogger(n.logger),
		invalidation.WithHistorySize(cfg.Invalidation.HistorySize),
		invalidation.WithRules(rules...),
		invalidation.WithPublisher(n.publish),
		invalidation.WithOnRebuild(n.rebuild),
	)
	cleanup = append(cleanup, func() error { n.engine.Close(); return nil })

	if n.opts.executor != nil {
		wopts := []warming.Option{warming.WithLogger(n.logger), warming.WithStats(n.opts.stats)}
		if cfg.OnError != nil {
			wopts = append(wopts, warming.WithOnError(cfg.OnError))
		}
		if n.warmer, err = warming.New(n, n.opts.executor, cfg.Warming, wopts...); err != nil {
			return nil, err
		}
		cleanup = append(cleanup, n.warmer.Close)
	}

	if cfg.Sync.Enabled {
		n.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Sync.RedisAddr,
			Password: cfg.Sync.RedisPassword,
			DB:       cfg.Sync.RedisDB,
		})
		cleanup = append(cleanup, n.redis.Close)
		n.relay = acsync.NewPubSubSynchronizer(n.redis, cfg.Sync.Channel, cfg.NodeID, n.logger)
		n.relay.OnInvalidate(acsync.NewApplier(n.local, n.engine, n.logger).Callback())
	}

	return n, nil
}

func newZapLogger(level string, debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		level = "debug"
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("%w: log level: %v", ErrInvalidConfig, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// advertiseAddr turns a bound address into one peers can dial.
func advertiseAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		if name, err := os.Hostname(); err == nil {
			host = name
		}
	}
	return net.JoinHostPort(host, port)
}

// Start serves peers, joins the cluster and starts the invalidation
// timers, threshold monitor, relay and background warming.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return nil
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.Serve(); err != nil {
			n.logger.Error("peer server stopped", "error", err)
		}
	}()

	if err := n.coord.Start(ctx); err != nil {
		return err
	}
	if n.relay != nil {
		if err := n.relay.Subscribe(ctx); err != nil {
			return fmt.Errorf("subscribing to %s: %w", n.cfg.Sync.Channel, err)
		}
	}

	bg, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.engine.StartTimers(bg, n.cfg.Invalidation.TimerResolution)

	if n.cfg.Invalidation.MonitorInterval > 0 {
		n.wg.Add(1)
		go n.monitor(bg, n.cfg.Invalidation.MonitorInterval)
	}
	if n.warmer != nil && len(n.opts.strategies) > 0 {
		if err := n.warmer.StartBackground(bg, n.opts.strategies); err != nil {
			return err
		}
	}

	n.started = true
	n.logger.Info("node started", "node", n.cfg.NodeID, "addr", n.cfg.AdvertiseAddr)
	return nil
}

// Close stops background work, leaves the cluster and releases the
// cache and its persistent store.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	cancel := n.cancel
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if n.warmer != nil {
		errs = append(errs, n.warmer.Close())
	}
	n.engine.Close()
	if n.relay != nil {
		errs = append(errs, n.relay.Close())
	}
	errs = append(errs, n.server.Close(), n.coord.Close())
	n.wg.Wait()
	if n.redis != nil {
		errs = append(errs, n.redis.Close())
	}
	errs = append(errs, n.local.Close())
	if n.zap != nil {
		_ = n.zap.Sync()
	}
	return errors.Join(errs...)
}

func (n *Node) key(action types.ObjectAction) string {
	return types.NewCacheKey(action).String()
}

// Get returns the cached result of action from its owner node.
func (n *Node) Get(ctx context.Context, action types.ObjectAction) (*types.ActionResult, bool, error) {
	data, found, err := n.coord.Get(ctx, n.key(action))
	if n.warmer != nil {
		n.warmer.RecordAccess(action, found)
	}
	if err != nil || !found {
		return nil, false, err
	}

	var result types.ActionResult
	if err := n.marshaller.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return &result, true, nil
}

// Set caches result for action on its owner and replicas. A zero ttl
// selects the policy TTL for the action.
func (n *Node) Set(ctx context.Context, action types.ObjectAction, result types.ActionResult, ttl time.Duration) error {
	data, err := n.marshaller.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return n.coord.SetWithOptions(ctx, transport.SetRequest{
		Key:      n.key(action),
		Data:     data,
		TTL:      ttl,
		Priority: action.Priority,
		Failed:   result.Failed(),
	})
}

// Contains reports whether a result for action is cached in the cluster.
func (n *Node) Contains(ctx context.Context, action types.ObjectAction) bool {
	found, err := n.coord.Exists(ctx, n.key(action))
	return err == nil && found
}

// Remove deletes the result for action everywhere, including read-through
// copies on nodes reached by the relay.
func (n *Node) Remove(ctx context.Context, action types.ObjectAction) error {
	key := n.key(action)
	if err := n.coord.Remove(ctx, key); err != nil {
		return err
	}
	n.relayKey(ctx, types.InvalidationEvent{Key: key, Action: types.Invalidate})
	return nil
}

// Invalidate removes the entries covered by scope on this node and,
// through the relay, on the others.
func (n *Node) Invalidate(ctx context.Context, scope invalidation.Scope) invalidation.Report {
	return n.engine.Invalidate(ctx, scope)
}

// InvalidateFunc removes every local entry whose key satisfies pred.
func (n *Node) InvalidateFunc(ctx context.Context, pred func(types.CacheKey) bool) int {
	return n.engine.Invalidate(ctx, invalidation.CustomScope(pred)).Removed
}

// ProcessEvent feeds an application event to the invalidation rules.
func (n *Node) ProcessEvent(ctx context.Context, ev invalidation.Event) invalidation.Report {
	return n.engine.ProcessEvent(ctx, ev)
}

// SmartInvalidate invalidates the entries affected by a batch of changes.
func (n *Node) SmartInvalidate(ctx context.Context, changes []invalidation.ChangeDescriptor) invalidation.Report {
	return n.engine.SmartInvalidate(ctx, changes)
}

// RegisterDependency records that invalidating from also invalidates to.
func (n *Node) RegisterDependency(from, to string) {
	n.engine.RegisterDependency(from, to)
}

// Clear empties this node's cache and asks the others to do the same.
func (n *Node) Clear(ctx context.Context) error {
	if err := n.local.Clear(ctx); err != nil {
		return err
	}
	n.relayKey(ctx, types.InvalidationEvent{Action: types.Clear})
	return nil
}

// Warm runs one warming strategy now.
func (n *Node) Warm(ctx context.Context, s warming.Strategy) (warming.Result, error) {
	if n.warmer == nil {
		return warming.Result{}, ErrNoExecutor
	}
	return n.warmer.WarmCache(ctx, s)
}

// Metrics returns a snapshot of every component's counters.
func (n *Node) Metrics() Metrics {
	m := Metrics{
		Cache:   n.local.Metrics(),
		Cluster: n.coord.Stats(),
	}
	if n.warmer != nil {
		m.Warming = n.warmer.Metrics()
	}
	if n.relay != nil {
		m.Sync = n.relay.Stats()
	}
	return m
}

// Subscribe returns cluster events. Call cancel to stop receiving.
func (n *Node) Subscribe(buffer int) (<-chan cluster.Event, func()) {
	return n.coord.Subscribe(buffer)
}

// Addr returns the address peers reach this node at.
func (n *Node) Addr() string { return n.cfg.AdvertiseAddr }

// Coordinator exposes the key/value surface of the cluster.
func (n *Node) Coordinator() *cluster.Coordinator { return n.coord }

// Cache returns the local tiered cache.
func (n *Node) Cache() *cache.TieredCache { return n.local }

// Invalidation returns the invalidation engine.
func (n *Node) Invalidation() *invalidation.Engine { return n.engine }

// Warming returns the warming engine, or nil without an executor.
func (n *Node) Warming() *warming.Engine { return n.warmer }

// publish relays local engine events to the other nodes.
func (n *Node) publish(ctx context.Context, ev invalidation.Event) {
	if n.relay == nil {
		return
	}
	if err := n.relay.PublishEngineEvent(ctx, ev); err != nil {
		n.logger.Warn("failed to relay invalidation", "kind", ev.Kind.String(), "error", err)
		n.report(err)
	}
}

func (n *Node) relayKey(ctx context.Context, ev types.InvalidationEvent) {
	if n.relay == nil {
		return
	}
	if err := n.relay.Publish(ctx, ev); err != nil {
		n.logger.Warn("failed to relay invalidation", "action", ev.Action, "key", ev.Key, "error", err)
		n.report(err)
	}
}

// rebuild re-warms the cache after a schema change cleared it.
func (n *Node) rebuild(ctx context.Context) {
	if n.warmer == nil || len(n.opts.strategies) == 0 {
		n.logger.Info("cache cleared for rebuild, no warming configured")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for _, s := range n.opts.strategies {
			if _, err := n.warmer.WarmCache(context.WithoutCancel(ctx), s); err != nil {
				n.logger.Warn("rebuild warming failed", "strategy", s.Name(), "error", err)
			}
		}
	}()
}

func (n *Node) report(err error) {
	if n.cfg.OnError != nil {
		n.cfg.OnError(err)
	}
}
