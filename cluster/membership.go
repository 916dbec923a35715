package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/transport"
)

// Start joins the cluster through the first reachable seed and starts the
// heartbeat and rebalancing loops. A node with no reachable seed starts alone
// and is found by others through their own seeds.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	var lastErr error
	for _, ep := range c.cfg.ClusterEndpoints {
		if ep == c.cfg.AdvertiseAddr {
			continue
		}
		if err := c.join(ctx, ep); err != nil {
			lastErr = err
			c.logger.Warn("seed unreachable", "endpoint", ep, "error", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		c.logger.Warn("no seed reachable, starting alone", "node", c.cfg.NodeID)
	}

	bg, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go c.heartbeatLoop(bg)
	go c.syncLoop(bg)

	c.logger.Info("cluster node started", "node", c.cfg.NodeID, "members", len(c.Members()))
	return nil
}

// Close stops the background loops, closes every peer connection and ends
// all subscriptions. The local cache is left open.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	peers := c.peers
	c.peers = make(map[string]Peer)
	c.dialed = make(map[string]bool)
	c.mu.Unlock()

	var errs []error
	for id, p := range peers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	c.events.close()
	return errors.Join(errs...)
}

// join exchanges rosters with a seed and connects to every member it reports.
func (c *Coordinator) join(ctx context.Context, endpoint string) error {
	p, err := c.opts.dialer.Dial(ctx, endpoint, c)
	if err != nil {
		return err
	}

	rctx, cancel := c.rpcContext(ctx)
	resp, err := p.ExchangeNodeInfo(rctx, c.selfInfo())
	cancel()
	if err != nil {
		p.Close()
		return err
	}

	c.addNode(resp.NodeID, endpoint, p, true)
	for _, n := range resp.Nodes {
		if n.ID == c.cfg.NodeID || n.ID == resp.NodeID {
			continue
		}
		if err := c.connect(ctx, n.ID, n.Endpoint); err != nil {
			c.logger.Warn("failed to connect to member", "node", n.ID, "endpoint", n.Endpoint, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) selfInfo() transport.NodeInfoRequest {
	return transport.NodeInfoRequest{NodeID: c.cfg.NodeID, Endpoint: c.cfg.AdvertiseAddr}
}

// connect dials a member unless a connection to it is already open.
func (c *Coordinator) connect(ctx context.Context, id, endpoint string) error {
	if id == "" || id == c.cfg.NodeID {
		return nil
	}
	if c.peer(id) != nil {
		c.markAlive(id)
		return nil
	}
	if endpoint == "" {
		return fmt.Errorf("%w: node %s has no endpoint", transport.ErrInvalidEndpoint, id)
	}

	p, err := c.opts.dialer.Dial(ctx, endpoint, c)
	if err != nil {
		return err
	}

	// Introduce ourselves so the member adopts this stream for its own requests.
	rctx, cancel := c.rpcContext(ctx)
	_, err = p.ExchangeNodeInfo(rctx, c.selfInfo())
	cancel()
	if err != nil {
		p.Close()
		if c.peer(id) != nil {
			// The member dialed us at the same time and its stream won.
			return nil
		}
		return err
	}
	c.addNode(id, endpoint, p, true)
	return nil
}

// connectAsync dials a member in the background.
func (c *Coordinator) connectAsync(id, endpoint string) {
	if c.closed.Load() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := c.rpcContext(context.Background())
		defer cancel()
		if err := c.connect(ctx, id, endpoint); err != nil {
			c.logger.Warn("failed to connect to member", "node", id, "endpoint", endpoint, "error", err)
		}
	}()
}

// addNode records an active member with an open stream and places it on
// the ring. dialed reports whether this node opened p. When a stream to the
// member already exists, both ends keep the one dialed by the smaller node
// id and close the other.
func (c *Coordinator) addNode(id, endpoint string, p Peer, dialed bool) {
	now := c.opts.now()

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		go p.Close()
		return
	}
	var loser Peer
	existing, ok := c.peers[id]
	if ok && existing != p {
		if c.dialed[id] != dialed && dialed == (c.cfg.NodeID < id) {
			loser = existing
		} else {
			loser = p
		}
	}
	registered := existing != p && loser != p
	if registered {
		c.peers[id] = p
		c.dialed[id] = dialed
	}

	n, known := c.nodes[id]
	joined := !known || !n.IsActive
	if !known {
		n = &NodeInfo{ID: id}
		c.nodes[id] = n
	}
	if endpoint != "" {
		n.Endpoint = endpoint
	}
	n.IsActive = true
	n.LastHeartbeat = now
	active := c.activeCountLocked()
	c.mu.Unlock()

	if loser != nil {
		// p may be the stream serving the current request; closing it
		// inline would wait on that request.
		go loser.Close()
	}
	if registered {
		c.watch(id, p)
	}
	if !joined {
		return
	}

	c.ring.AddNode(id)
	c.opts.stats.SetGauge(stats.MetricActiveNodes, int64(active))
	c.logger.Info("node joined", "node", id, "endpoint", endpoint)
	c.emit(Event{Type: NodeJoined, NodeID: id})
	c.requestRebalance()
}

// watch forgets p once its stream shuts down so the next heartbeat tick
// can open a new one.
func (c *Coordinator) watch(id string, p Peer) {
	d, ok := p.(interface{ Done() <-chan struct{} })
	if !ok {
		return
	}
	go func() {
		select {
		case <-d.Done():
		case <-c.stop:
			return
		}
		c.mu.Lock()
		if c.peers[id] == p {
			delete(c.peers, id)
			delete(c.dialed, id)
		}
		c.mu.Unlock()
		c.logger.Debug("peer stream closed", "node", id)
	}()
}

func (c *Coordinator) activeCountLocked() int {
	n := 0
	for _, node := range c.nodes {
		if node.IsActive {
			n++
		}
	}
	return n
}

func (c *Coordinator) markAlive(id string) {
	c.mu.Lock()
	if n, ok := c.nodes[id]; ok && n.IsActive {
		n.LastHeartbeat = c.opts.now()
	}
	c.mu.Unlock()
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeats(ctx)
			c.detectFailures(ctx)
		}
	}
}

// sendHeartbeats pings every connected peer concurrently. A successful
// round trip counts as a sign of life.
func (c *Coordinator) sendHeartbeats(ctx context.Context) {
	c.mu.RLock()
	peers := make(map[string]Peer, len(c.peers))
	for id, p := range c.peers {
		peers[id] = p
	}
	var lost []NodeInfo
	for id, n := range c.nodes {
		if id != c.cfg.NodeID && n.IsActive && c.peers[id] == nil {
			lost = append(lost, *n)
		}
	}
	c.mu.RUnlock()

	for _, n := range lost {
		c.connectAsync(n.ID, n.Endpoint)
	}

	hb := c.heartbeat()

	var g errgroup.Group
	for id, p := range peers {
		g.Go(func() error {
			rctx, cancel := c.rpcContext(ctx)
			defer cancel()
			if err := p.Heartbeat(rctx, hb); err != nil {
				c.logger.Debug("heartbeat failed", "node", id, "error", err)
				return nil
			}
			c.markAlive(id)
			return nil
		})
	}
	g.Wait()
}

// heartbeat describes this node. Load is its share of the keys reported
// by active members.
func (c *Coordinator) heartbeat() transport.Heartbeat {
	keys := len(c.local.Keys(context.Background()))

	c.mu.Lock()
	self := c.nodes[c.cfg.NodeID]
	self.KeyCount = keys
	self.LastHeartbeat = c.opts.now()
	total := 0
	for _, n := range c.nodes {
		if n.IsActive {
			total += n.KeyCount
		}
	}
	if total > 0 {
		self.Load = float64(keys) / float64(total)
	}
	hb := transport.Heartbeat{
		NodeID:    c.cfg.NodeID,
		Endpoint:  c.cfg.AdvertiseAddr,
		KeyCount:  keys,
		Load:      self.Load,
		Timestamp: self.LastHeartbeat,
	}
	c.mu.Unlock()
	return hb
}

// detectFailures fails every active peer silent for longer than FailoverTimeout.
func (c *Coordinator) detectFailures(ctx context.Context) {
	now := c.opts.now()

	c.mu.RLock()
	var dead []string
	for id, n := range c.nodes {
		if id == c.cfg.NodeID || !n.IsActive {
			continue
		}
		if now.Sub(n.LastHeartbeat) > c.cfg.FailoverTimeout {
			dead = append(dead, id)
		}
	}
	c.mu.RUnlock()

	if len(dead) == 0 {
		return
	}
	sort.Strings(dead)
	for _, id := range dead {
		c.failNode(id)
	}
	c.Rebalance(ctx)
}

// failNode marks id inactive, takes it off the ring and closes its connection.
func (c *Coordinator) failNode(id string) {
	c.mu.Lock()
	n, ok := c.nodes[id]
	if !ok || !n.IsActive {
		c.mu.Unlock()
		return
	}
	n.IsActive = false
	p := c.peers[id]
	delete(c.peers, id)
	delete(c.dialed, id)
	active := c.activeCountLocked()
	c.mu.Unlock()

	c.ring.RemoveNode(id)
	if p != nil {
		p.Close()
	}

	c.opts.stats.SetGauge(stats.MetricActiveNodes, int64(active))
	c.logger.Warn("node failed over", "node", id, "active", active)
	c.emit(Event{Type: NodeLeft, NodeID: id})
	c.emit(Event{Type: Failover, NodeID: id})
}

func (c *Coordinator) requestRebalance() {
	select {
	case c.rebalanceCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) syncLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.rebalanceCh:
		}
		c.Rebalance(ctx)
	}
}
