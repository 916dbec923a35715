// Package cluster shards and replicates cache entries across nodes with a
// consistent hashing ring and keeps the membership current.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/ring"
	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/transport"
)

// NodeInfo describes a cluster member as seen by this node.
type NodeInfo struct {
	ID            string
	Endpoint      string
	LastHeartbeat time.Time
	IsActive      bool
	Load          float64
	KeyCount      int
}

// Stats summarizes coordinator activity.
type Stats struct {
	NodeID              string
	ActiveNodes         int
	TotalNodes          int
	LocalKeys           int
	RemoteGets          int64
	RemoteErrors        int64
	ReplicationFailures int64
	QuorumFailures      int64
	KeysMoved           int64
	Rebalances          int64
	PendingEvents       int64
	Local               cache.Metrics
}

// Coordinator routes keys to their owners, replicates writes and tracks
// membership. It also serves peers through transport.Handler.
type Coordinator struct {
	cfg    Config
	local  *cache.TieredCache
	ring   *ring.Ring
	opts   options
	logger cache.Logger
	events *broker

	// mu guards nodes, peers and dialed. The ring has its own lock.
	mu    sync.RWMutex
	nodes map[string]*NodeInfo
	peers map[string]Peer
	// dialed records whether this node opened the stream in peers.
	dialed map[string]bool

	// Keys cached by read-through; they are dropped, not transferred, on rebalance.
	borrowed sync.Map

	rebalanceMu sync.Mutex
	rebalanceCh chan struct{}

	started atomic.Bool
	closed  atomic.Bool
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	remoteGets          atomic.Int64
	remoteErrors        atomic.Int64
	replicationFailures atomic.Int64
	quorumFailures      atomic.Int64
	keysMoved           atomic.Int64
	rebalances          atomic.Int64
}

var _ transport.Handler = (*Coordinator)(nil)

// New creates a coordinator over local. The node is placed on the ring
// immediately, so a coordinator that is never started serves everything locally.
func New(cfg Config, local *cache.TieredCache, opts ...Option) (*Coordinator, error) {
	if cfg.PartitionStrategy == "" {
		cfg.PartitionStrategy = ConsistentHashing
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if local == nil {
		return nil, fmt.Errorf("%w: local cache is required", ErrInvalidConfig)
	}

	o := options{}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.logger == nil {
		o.logger = cache.NewNoOpLogger()
	}
	if o.stats == nil {
		o.stats = stats.NewNoop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.dialer == nil {
		o.dialer = TCPDialer{Options: []transport.Option{
			transport.WithTimeout(cfg.RPCTimeout),
			transport.WithLogger(o.logger),
		}}
	}

	c := &Coordinator{
		cfg:         cfg,
		local:       local,
		ring:        ring.New(cfg.VirtualNodesPerNode),
		opts:        o,
		logger:      o.logger,
		events:      newBroker(),
		nodes:       make(map[string]*NodeInfo),
		peers:       make(map[string]Peer),
		dialed:      make(map[string]bool),
		stop:        make(chan struct{}),
		rebalanceCh: make(chan struct{}, 1),
	}

	c.nodes[cfg.NodeID] = &NodeInfo{
		ID:            cfg.NodeID,
		Endpoint:      cfg.AdvertiseAddr,
		LastHeartbeat: o.now(),
		IsActive:      true,
	}
	c.ring.AddNode(cfg.NodeID)
	c.opts.stats.SetGauge(stats.MetricActiveNodes, 1)
	return c, nil
}

// NodeID returns this node's id.
func (c *Coordinator) NodeID() string {
	return c.cfg.NodeID
}

// Local returns the node's own tiered cache.
func (c *Coordinator) Local() *cache.TieredCache {
	return c.local
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Events queue behind a slow subscriber instead of blocking
// the node; none are lost until cancel is called.
func (c *Coordinator) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

func (c *Coordinator) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = c.opts.now()
	}
	c.events.publish(e)
}

func (c *Coordinator) report(msg string, err error, keyvals ...any) {
	c.logger.Warn(msg, append(keyvals, "error", err)...)
	if c.opts.onError != nil {
		c.opts.onError(err)
	}
}

func (c *Coordinator) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.RPCTimeout)
}

func (c *Coordinator) peer(id string) Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peers[id]
}

// targets returns the replica set for key, primary first. An empty ring
// means the node operates alone.
func (c *Coordinator) targets(key string) []string {
	nodes := c.ring.GetNodes(key, c.cfg.ReplicationFactor)
	if len(nodes) == 0 {
		return []string{c.cfg.NodeID}
	}
	return nodes
}

func (c *Coordinator) observe(start time.Time) {
	c.opts.stats.ObserveHistogram(stats.MetricOperationSeconds, time.Since(start).Seconds())
}

// Get returns the value for key from its owner.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	if key == "" {
		return nil, false, transport.ErrInvalidKey
	}
	defer c.observe(time.Now())

	owner, ok := c.ring.GetNode(key)
	if !ok || owner == c.cfg.NodeID {
		return c.getLocal(ctx, key)
	}

	p := c.peer(owner)
	if p == nil {
		if c.cfg.ConsistencyLevel == Eventual {
			return c.getLocal(ctx, key)
		}
		return nil, false, fmt.Errorf("%w: %s", ErrNoPeer, owner)
	}

	c.remoteGets.Add(1)
	c.opts.stats.IncCounter(stats.MetricRemoteGets, 1)

	rctx, cancel := c.rpcContext(ctx)
	data, found, err := p.Get(rctx, key)
	cancel()
	if err != nil {
		c.remoteErrors.Add(1)
		c.opts.stats.IncCounter(stats.MetricRemoteErrors, 1)
		if c.cfg.ConsistencyLevel == Eventual {
			c.logger.Warn("remote get failed, serving local copy", "key", key, "owner", owner, "error", err)
			return c.getLocal(ctx, key)
		}
		return nil, false, fmt.Errorf("get %q from %s: %w", key, owner, err)
	}

	if found && c.cfg.ConsistencyLevel == Eventual {
		if err := c.local.SetEntry(ctx, key, data, cache.SetOptions{TTL: c.cfg.ReadThroughTTL}); err == nil {
			c.borrowed.Store(key, struct{}{})
		}
	}
	return data, found, nil
}

func (c *Coordinator) getLocal(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok := c.local.GetEntry(ctx, key)
	if !ok {
		return nil, false, nil
	}
	return e.Payload, true, nil
}

// Exists reports whether key has a live value at its owner.
func (c *Coordinator) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := c.Get(ctx, key)
	return found, err
}

// Set stores value under key with the given TTL (zero derives it from the key).
func (c *Coordinator) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.SetWithOptions(ctx, transport.SetRequest{Key: key, Data: value, TTL: ttl})
}

// SetWithOptions writes req to the primary and replicates it according to
// the configured consistency level.
func (c *Coordinator) SetWithOptions(ctx context.Context, req transport.SetRequest) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if req.Key == "" {
		return transport.ErrInvalidKey
	}
	defer c.observe(time.Now())

	nodes := c.targets(req.Key)
	primary, replicas := nodes[0], nodes[1:]

	switch c.cfg.ConsistencyLevel {
	case Strong:
		return c.setStrong(ctx, primary, replicas, req)
	case Quorum:
		return c.setQuorum(ctx, primary, replicas, req)
	default:
		return c.setEventual(ctx, primary, replicas, req)
	}
}

// writeTo stores req on node, locally when node is this one.
func (c *Coordinator) writeTo(ctx context.Context, node string, req transport.SetRequest) error {
	if node == c.cfg.NodeID {
		return c.writeLocal(ctx, req)
	}
	p := c.peer(node)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNoPeer, node)
	}
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	return p.Set(rctx, req)
}

func (c *Coordinator) writeLocal(ctx context.Context, req transport.SetRequest) error {
	c.borrowed.Delete(req.Key)
	return c.local.SetEntry(ctx, req.Key, req.Data, cache.SetOptions{
		TTL:      req.TTL,
		Priority: req.Priority,
		Failed:   req.Failed,
	})
}

func (c *Coordinator) setEventual(ctx context.Context, primary string, replicas []string, req transport.SetRequest) error {
	if err := c.writeTo(ctx, primary, req); err != nil {
		c.report("primary write failed, storing locally", err, "key", req.Key, "primary", primary)
		if primary != c.cfg.NodeID {
			if err := c.writeLocal(ctx, req); err != nil {
				return err
			}
		}
	}

	if len(replicas) == 0 {
		c.emit(Event{Type: ReplicationComplete, Key: req.Key, Acks: 1})
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		acks := 1
		var mu sync.Mutex
		var g errgroup.Group
		for _, node := range replicas {
			g.Go(func() error {
				if err := c.writeTo(context.Background(), node, req); err != nil {
					c.replicationFailures.Add(1)
					c.logger.Debug("async replication failed", "key", req.Key, "replica", node, "error", err)
					return nil
				}
				mu.Lock()
				acks++
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
		c.emit(Event{Type: ReplicationComplete, Key: req.Key, Acks: acks})
	}()
	return nil
}

func (c *Coordinator) setStrong(ctx context.Context, primary string, replicas []string, req transport.SetRequest) error {
	if err := c.writeTo(ctx, primary, req); err != nil {
		c.replicationFailures.Add(1)
		return fmt.Errorf("%w: primary %s: %w", ErrReplicationFailed, primary, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, node := range replicas {
		g.Go(func() error {
			if err := c.writeTo(gctx, node, req); err != nil {
				return fmt.Errorf("%w: replica %s: %w", ErrReplicationFailed, node, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.replicationFailures.Add(1)
		return err
	}

	c.emit(Event{Type: ReplicationComplete, Key: req.Key, Acks: 1 + len(replicas)})
	return nil
}

func (c *Coordinator) setQuorum(ctx context.Context, primary string, replicas []string, req transport.SetRequest) error {
	need := c.cfg.quorum(1 + len(replicas))

	results := make(chan error, 1+len(replicas))
	for _, node := range append([]string{primary}, replicas...) {
		go func() {
			results <- c.writeTo(ctx, node, req)
		}()
	}

	acks, failed := 0, 0
	var lastErr error
	for range 1 + len(replicas) {
		if err := <-results; err != nil {
			failed++
			lastErr = err
		} else {
			acks++
		}
		if acks >= need {
			c.emit(Event{Type: ReplicationComplete, Key: req.Key, Acks: acks})
			return nil
		}
		if 1+len(replicas)-failed < need {
			break
		}
	}

	c.quorumFailures.Add(1)
	c.opts.stats.IncCounter(stats.MetricQuorumFailures, 1)
	return fmt.Errorf("%w: %d of %d acknowledgements (last error: %v)", ErrQuorumNotMet, acks, need, lastErr)
}

// Remove deletes key from the primary, its replicas and this node. Peer
// failures are ignored.
func (c *Coordinator) Remove(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return transport.ErrInvalidKey
	}

	c.local.Delete(ctx, key)
	c.borrowed.Delete(key)

	var g errgroup.Group
	for _, node := range c.targets(key) {
		if node == c.cfg.NodeID {
			continue
		}
		p := c.peer(node)
		if p == nil {
			continue
		}
		g.Go(func() error {
			rctx, cancel := c.rpcContext(ctx)
			defer cancel()
			if err := p.Remove(rctx, key); err != nil {
				c.logger.Debug("remote remove failed", "key", key, "node", node, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	c.emit(Event{Type: KeyInvalidated, Key: key})
	return nil
}

// multiLimit bounds per-call fan-out of the batch operations.
const multiLimit = 16

// GetMultiple fetches keys concurrently. Missing keys are absent from the result.
func (c *Coordinator) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(multiLimit)
	for _, key := range keys {
		g.Go(func() error {
			data, found, err := c.Get(gctx, key)
			if err != nil {
				return err
			}
			if found {
				mu.Lock()
				out[key] = data
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetMultiple stores every entry with the same TTL.
func (c *Coordinator) SetMultiple(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(multiLimit)
	for key, value := range entries {
		g.Go(func() error {
			return c.Set(gctx, key, value, ttl)
		})
	}
	return g.Wait()
}

// RemoveMultiple removes every key.
func (c *Coordinator) RemoveMultiple(ctx context.Context, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(multiLimit)
	for _, key := range keys {
		g.Go(func() error {
			return c.Remove(gctx, key)
		})
	}
	return g.Wait()
}

// Members returns every known node ordered by id.
func (c *Coordinator) Members() []NodeInfo {
	c.mu.RLock()
	out := make([]NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, *n)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Owner returns the primary node for key.
func (c *Coordinator) Owner(key string) (string, bool) {
	return c.ring.GetNode(key)
}

// Stats returns a snapshot of coordinator counters.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		NodeID:              c.cfg.NodeID,
		LocalKeys:           len(c.local.Keys(context.Background())),
		RemoteGets:          c.remoteGets.Load(),
		RemoteErrors:        c.remoteErrors.Load(),
		ReplicationFailures: c.replicationFailures.Load(),
		QuorumFailures:      c.quorumFailures.Load(),
		KeysMoved:           c.keysMoved.Load(),
		Rebalances:          c.rebalances.Load(),
		PendingEvents:       c.events.pending(),
		Local:               c.local.Metrics(),
	}

	c.mu.RLock()
	s.TotalNodes = len(c.nodes)
	for _, n := range c.nodes {
		if n.IsActive {
			s.ActiveNodes++
		}
	}
	c.mu.RUnlock()
	return s
}
