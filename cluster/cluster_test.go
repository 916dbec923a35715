package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/transport"
)

// memNet connects coordinators in-process, keyed by advertised endpoint.
type memNet struct {
	mu    sync.Mutex
	nodes map[string]*Coordinator
	down  map[string]bool
}

func newMemNet() *memNet {
	return &memNet{nodes: make(map[string]*Coordinator), down: make(map[string]bool)}
}

func (n *memNet) register(c *Coordinator) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[c.cfg.AdvertiseAddr] = c
}

func (n *memNet) setDown(endpoint string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[endpoint] = down
}

func (n *memNet) target(endpoint string) (transport.Handler, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.nodes[endpoint]
	if !ok || n.down[endpoint] {
		return nil, fmt.Errorf("%w: %s unreachable", transport.ErrConnection, endpoint)
	}
	return c, nil
}

func (n *memNet) Dial(ctx context.Context, endpoint string, handler transport.Handler) (Peer, error) {
	if _, err := n.target(endpoint); err != nil {
		return nil, err
	}
	return &memPeer{net: n, endpoint: endpoint}, nil
}

type memPeer struct {
	net      *memNet
	endpoint string
	closed   atomic.Bool
}

func (p *memPeer) handler() (transport.Handler, error) {
	if p.closed.Load() {
		return nil, transport.ErrConnectionClosed
	}
	return p.net.target(p.endpoint)
}

func (p *memPeer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	h, err := p.handler()
	if err != nil {
		return nil, false, err
	}
	return h.HandleGet(ctx, key)
}

func (p *memPeer) Set(ctx context.Context, req transport.SetRequest) error {
	return p.SetMultiple(ctx, []transport.SetRequest{req})
}

func (p *memPeer) SetMultiple(ctx context.Context, reqs []transport.SetRequest) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.HandleSet(ctx, reqs)
}

func (p *memPeer) Remove(ctx context.Context, key string) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.HandleRemove(ctx, key)
}

func (p *memPeer) Heartbeat(ctx context.Context, hb transport.Heartbeat) error {
	h, err := p.handler()
	if err != nil {
		return err
	}
	return h.HandleHeartbeat(ctx, hb)
}

func (p *memPeer) ExchangeNodeInfo(ctx context.Context, req transport.NodeInfoRequest) (transport.NodeInfoResponse, error) {
	h, err := p.handler()
	if err != nil {
		return transport.NodeInfoResponse{}, err
	}
	return h.HandleNodeInfo(ctx, req)
}

func (p *memPeer) Close() error {
	p.closed.Store(true)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func endpointOf(id string) string { return id + ":7000" }

func newNode(t *testing.T, n *memNet, id string, modify func(*Config), opts ...Option) *Coordinator {
	t.Helper()

	local, err := cache.New(cache.DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to create local cache: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	cfg := DefaultConfig()
	cfg.NodeID = id
	cfg.AdvertiseAddr = endpointOf(id)
	if modify != nil {
		modify(&cfg)
	}

	c, err := New(cfg, local, append([]Option{WithDialer(n)}, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	n.register(c)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func activeMembers(c *Coordinator) int {
	n := 0
	for _, m := range c.Members() {
		if m.IsActive {
			n++
		}
	}
	return n
}

// newCluster links len(ids) nodes into a full mesh without starting their
// background loops and waits until every node sees every other.
func newCluster(t *testing.T, n *memNet, ids []string, modify func(*Config), opts ...Option) []*Coordinator {
	t.Helper()

	nodes := make([]*Coordinator, len(ids))
	for i, id := range ids {
		nodes[i] = newNode(t, n, id, modify, opts...)
	}
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if err := nodes[i].connect(context.Background(), ids[j], endpointOf(ids[j])); err != nil {
				t.Fatalf("Failed to connect %s to %s: %v", ids[i], ids[j], err)
			}
		}
	}
	for _, c := range nodes {
		waitFor(t, c.NodeID()+" to see the cluster", func() bool {
			return activeMembers(c) == len(ids) && c.ring.Len() == len(ids)
		})
	}
	return nodes
}

// keyOwnedBy returns a key whose primary is owner.
func keyOwnedBy(t *testing.T, c *Coordinator, owner string) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		k := fmt.Sprintf("key-%d", i)
		if o, _ := c.Owner(k); o == owner {
			return k
		}
	}
	t.Fatalf("No key owned by %s", owner)
	return ""
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing node id", func(c *Config) { c.NodeID = "" }, false},
		{"zero replication", func(c *Config) { c.ReplicationFactor = 0 }, false},
		{"unknown consistency", func(c *Config) { c.ConsistencyLevel = "linearizable" }, false},
		{"unknown strategy", func(c *Config) { c.PartitionStrategy = "range" }, false},
		{"quorum above replication", func(c *Config) { c.QuorumSize = 4 }, false},
		{"failover below heartbeat", func(c *Config) { c.FailoverTimeout = time.Second }, false},
		{"bad seed", func(c *Config) { c.ClusterEndpoints = []string{"nohost"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.NodeID = "a"
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Fatalf("Expected valid config, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestQuorumSize(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.quorum(3); got != 2 {
		t.Fatalf("Expected quorum 2 for RF=3, got %d", got)
	}
	cfg.ReplicationFactor = 4
	if got := cfg.quorum(4); got != 2 {
		t.Fatalf("Expected quorum 2 for RF=4, got %d", got)
	}
	cfg.QuorumSize = 3
	if got := cfg.quorum(2); got != 2 {
		t.Fatalf("Expected quorum capped at replica set size, got %d", got)
	}
}

func TestSingleNodeServesLocally(t *testing.T) {
	c := newNode(t, newMemNet(), "solo", nil)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	data, found, err := c.Get(ctx, "k1")
	if err != nil || !found || string(data) != "v1" {
		t.Fatalf("Expected v1, got %q found=%v err=%v", data, found, err)
	}

	if ok, _ := c.Exists(ctx, "k1"); !ok {
		t.Fatal("Expected k1 to exist")
	}
	if err := c.Remove(ctx, "k1"); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if ok, _ := c.Exists(ctx, "k1"); ok {
		t.Fatal("Expected k1 to be removed")
	}

	if _, _, err := c.Get(ctx, ""); !errors.Is(err, transport.ErrInvalidKey) {
		t.Fatalf("Expected ErrInvalidKey, got %v", err)
	}
	if err := c.Set(ctx, "", nil, 0); !errors.Is(err, transport.ErrInvalidKey) {
		t.Fatalf("Expected ErrInvalidKey, got %v", err)
	}
}

func TestMultiOperations(t *testing.T) {
	c := newNode(t, newMemNet(), "solo", nil)
	ctx := context.Background()

	entries := map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}
	if err := c.SetMultiple(ctx, entries, time.Minute); err != nil {
		t.Fatalf("Failed to set multiple: %v", err)
	}

	got, err := c.GetMultiple(ctx, []string{"a", "b", "c", "missing"})
	if err != nil {
		t.Fatalf("Failed to get multiple: %v", err)
	}
	if len(got) != 3 || string(got["b"]) != "2" {
		t.Fatalf("Unexpected result %v", got)
	}

	if err := c.RemoveMultiple(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("Failed to remove multiple: %v", err)
	}
	got, _ = c.GetMultiple(ctx, []string{"a", "b", "c"})
	if len(got) != 1 {
		t.Fatalf("Expected only c to remain, got %v", got)
	}

	if s := c.Stats(); s.LocalKeys != 1 || s.ActiveNodes != 1 {
		t.Fatalf("Unexpected stats %+v", s)
	}
}

func TestClusterJoin(t *testing.T) {
	n := newMemNet()
	a := newNode(t, n, "a", nil)
	events, cancel := a.Subscribe(16)
	defer cancel()

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start a: %v", err)
	}
	b := newNode(t, n, "b", func(c *Config) { c.ClusterEndpoints = []string{endpointOf("a")} })
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start b: %v", err)
	}

	waitFor(t, "a to see b", func() bool { return activeMembers(a) == 2 })
	waitFor(t, "b to see a", func() bool { return activeMembers(b) == 2 })

	select {
	case e := <-events:
		if e.Type != NodeJoined || e.NodeID != "b" {
			t.Fatalf("Expected nodeJoined for b, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected nodeJoined event")
	}
}

func TestSeedUnreachableStartsAlone(t *testing.T) {
	c := newNode(t, newMemNet(), "a", func(c *Config) { c.ClusterEndpoints = []string{"ghost:7000"} })
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed without seeds, got %v", err)
	}
	if activeMembers(c) != 1 {
		t.Fatalf("Expected only self, got %v", c.Members())
	}
}

func TestRoutesToOwner(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b", "c"}, func(c *Config) { c.ReplicationFactor = 1 })
	a, b, c := nodes[0], nodes[1], nodes[2]
	ctx := context.Background()

	key := keyOwnedBy(t, a, "b")
	if err := a.Set(ctx, key, []byte("routed"), time.Minute); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	if _, ok := b.Local().Peek(ctx, key); !ok {
		t.Fatal("Expected owner b to hold the key")
	}
	if _, ok := a.Local().Peek(ctx, key); ok {
		t.Fatal("Expected writer a to hold no copy")
	}

	data, found, err := c.Get(ctx, key)
	if err != nil || !found || string(data) != "routed" {
		t.Fatalf("Expected routed value via c, got %q found=%v err=%v", data, found, err)
	}
	if c.Stats().RemoteGets != 1 {
		t.Fatalf("Expected 1 remote get, got %d", c.Stats().RemoteGets)
	}
}

func TestStrongReplication(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b", "c"}, func(c *Config) { c.ConsistencyLevel = Strong })
	ctx := context.Background()

	if err := nodes[0].Set(ctx, "replicated", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	for _, c := range nodes {
		if _, ok := c.Local().Peek(ctx, "replicated"); !ok {
			t.Fatalf("Expected %s to hold a replica", c.NodeID())
		}
	}

	n.setDown(endpointOf("c"), true)
	err := nodes[0].Set(ctx, "partial", []byte("v"), time.Minute)
	if !errors.Is(err, ErrReplicationFailed) {
		t.Fatalf("Expected ErrReplicationFailed, got %v", err)
	}
}

func TestQuorumWrites(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b", "c"}, func(c *Config) {
		c.ConsistencyLevel = Quorum
		c.QuorumSize = 3
	})
	a := nodes[0]
	ctx := context.Background()
	key := keyOwnedBy(t, a, "a")

	if err := a.Set(ctx, key, []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Expected 2-of-2 replica acks to succeed, got %v", err)
	}

	n.setDown(endpointOf("c"), true)
	err := a.Set(ctx, key, []byte("v2"), time.Minute)
	if !errors.Is(err, ErrQuorumNotMet) {
		t.Fatalf("Expected ErrQuorumNotMet with 1-of-2 replica acks, got %v", err)
	}
	if a.Stats().QuorumFailures != 1 {
		t.Fatalf("Expected 1 quorum failure, got %d", a.Stats().QuorumFailures)
	}
}

func TestQuorumDefaultThreshold(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b", "c"}, func(c *Config) { c.ConsistencyLevel = Quorum })
	ctx := context.Background()

	n.setDown(endpointOf("c"), true)
	if err := nodes[0].Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Expected 2 of 3 acks to meet the default quorum, got %v", err)
	}

	n.setDown(endpointOf("b"), true)
	key := keyOwnedBy(t, nodes[0], "b")
	if err := nodes[0].Set(ctx, key, []byte("v"), time.Minute); !errors.Is(err, ErrQuorumNotMet) {
		t.Fatalf("Expected ErrQuorumNotMet with only one ack, got %v", err)
	}
}

func TestEventualToleratesFailures(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b"}, func(c *Config) { c.ReplicationFactor = 1 })
	a := nodes[0]
	ctx := context.Background()
	key := keyOwnedBy(t, a, "b")

	n.setDown(endpointOf("b"), true)
	if err := a.Set(ctx, key, []byte("local"), time.Minute); err != nil {
		t.Fatalf("Expected eventual write to succeed locally, got %v", err)
	}

	data, found, err := a.Get(ctx, key)
	if err != nil || !found || string(data) != "local" {
		t.Fatalf("Expected local copy, got %q found=%v err=%v", data, found, err)
	}
	if a.Stats().RemoteErrors == 0 {
		t.Fatal("Expected the failed remote get to be counted")
	}
}

func TestEventualReplicatesInBackground(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b", "c"}, nil)
	events, cancel := nodes[0].Subscribe(16)
	defer cancel()
	ctx := context.Background()

	if err := nodes[0].Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != ReplicationComplete {
				continue
			}
			if e.Acks != 3 {
				t.Fatalf("Expected 3 acks, got %d", e.Acks)
			}
			for _, c := range nodes {
				if _, ok := c.Local().Peek(ctx, "k"); !ok {
					t.Fatalf("Expected %s to hold the key", c.NodeID())
				}
			}
			return
		case <-deadline:
			t.Fatal("Expected replicationComplete event")
		}
	}
}

func TestReadThroughIsDroppedOnRebalance(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b"}, func(c *Config) {
		c.ReplicationFactor = 1
		c.ReadThroughTTL = time.Minute
	})
	a, b := nodes[0], nodes[1]
	ctx := context.Background()
	key := keyOwnedBy(t, a, "b")

	if err := b.Set(ctx, key, []byte("v"), time.Hour); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if _, found, err := a.Get(ctx, key); err != nil || !found {
		t.Fatalf("Failed to read through: found=%v err=%v", found, err)
	}

	e, ok := a.Local().Peek(ctx, key)
	if !ok {
		t.Fatal("Expected read-through copy on a")
	}
	if e.TTL != time.Minute {
		t.Fatalf("Expected read-through TTL 1m, got %v", e.TTL)
	}

	if moved := a.Rebalance(ctx); moved != 0 {
		t.Fatalf("Expected no transfer of borrowed keys, moved %d", moved)
	}
	if _, ok := a.Local().Peek(ctx, key); ok {
		t.Fatal("Expected borrowed copy to be dropped")
	}
}

func TestRemoveDeletesEverywhere(t *testing.T) {
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b", "c"}, func(c *Config) { c.ConsistencyLevel = Strong })
	ctx := context.Background()

	if err := nodes[1].Set(ctx, "gone", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	n.setDown(endpointOf("c"), true)
	if err := nodes[0].Remove(ctx, "gone"); err != nil {
		t.Fatalf("Expected remove to ignore peer errors, got %v", err)
	}
	n.setDown(endpointOf("c"), false)

	for _, c := range nodes[:2] {
		if _, ok := c.Local().Peek(ctx, "gone"); ok {
			t.Fatalf("Expected %s copy to be removed", c.NodeID())
		}
	}
}

func TestFailover(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	n := newMemNet()
	nodes := newCluster(t, n, []string{"a", "b", "c"}, nil, WithClock(clock.Now))
	a := nodes[0]
	ctx := context.Background()

	events, cancel := a.Subscribe(64)
	defer cancel()

	n.setDown(endpointOf("c"), true)
	clock.Advance(a.cfg.FailoverTimeout + time.Second)
	a.sendHeartbeats(ctx)
	a.detectFailures(ctx)

	if a.ring.Contains("c") {
		t.Fatal("Expected c to be removed from the ring")
	}
	if !a.ring.Contains("b") {
		t.Fatal("Expected b to stay on the ring after answering heartbeats")
	}
	if a.peer("c") != nil {
		t.Fatal("Expected connection to c to be closed")
	}
	for i := 0; i < 100; i++ {
		if o, _ := a.Owner(fmt.Sprintf("key-%d", i)); o == "c" {
			t.Fatal("Expected no key to map to the failed node")
		}
	}

	seen := map[EventType]bool{}
	var last Event
	for len(events) > 0 {
		last = <-events
		seen[last.Type] = true
	}
	if !seen[NodeLeft] || !seen[Failover] {
		t.Fatalf("Expected nodeLeft and failover events, got %v", seen)
	}
	if last.Type != Rebalancing || last.Progress != 1.0 {
		t.Fatalf("Expected failover to end with rebalancing 1.0, got %+v", last)
	}

	// c comes back and announces itself.
	n.setDown(endpointOf("c"), false)
	if err := a.HandleHeartbeat(ctx, transport.Heartbeat{NodeID: "c", Endpoint: endpointOf("c")}); err != nil {
		t.Fatalf("Failed to handle heartbeat: %v", err)
	}
	waitFor(t, "c to rejoin", func() bool { return a.ring.Contains("c") })
}

func TestRebalanceMovesKeys(t *testing.T) {
	n := newMemNet()
	a := newNode(t, n, "a", func(c *Config) { c.ReplicationFactor = 1 })
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		if err := a.Set(ctx, fmt.Sprintf("key-%d", i), []byte("v"), time.Hour); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
	}

	b := newNode(t, n, "b", func(c *Config) {
		c.ReplicationFactor = 1
		c.ClusterEndpoints = []string{endpointOf("a")}
	})
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Failed to start b: %v", err)
	}
	waitFor(t, "a to see b", func() bool { return a.ring.Contains("b") })

	events, cancel := a.Subscribe(256)
	defer cancel()

	want := 0
	for i := 0; i < 200; i++ {
		if o, _ := a.Owner(fmt.Sprintf("key-%d", i)); o == "b" {
			want++
		}
	}
	if want == 0 {
		t.Fatal("Expected b to own some keys")
	}

	moved := a.Rebalance(ctx)
	if moved != want {
		t.Fatalf("Expected %d keys moved, got %d", want, moved)
	}
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%d", i)
		owner, _ := a.Owner(k)
		holder := a
		if owner == "b" {
			holder = b
		}
		e, ok := holder.Local().Peek(ctx, k)
		if !ok {
			t.Fatalf("Expected %s to hold %s", owner, k)
		}
		if e.TTL > time.Hour || e.TTL <= 0 {
			t.Fatalf("Expected remaining TTL to be carried over, got %v", e.TTL)
		}
	}

	var progress []float64
	for len(events) > 0 {
		if e := <-events; e.Type == Rebalancing {
			progress = append(progress, e.Progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 1.0 {
		t.Fatalf("Expected progress to end at 1.0, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("Expected non-decreasing progress, got %v", progress)
		}
	}

	// Nothing left to move; the terminal event is still emitted.
	if moved := a.Rebalance(ctx); moved != 0 {
		t.Fatalf("Expected idempotent rebalance, moved %d", moved)
	}
	select {
	case e := <-events:
		if e.Type != Rebalancing || e.Progress != 1.0 {
			t.Fatalf("Expected terminal progress event, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected terminal progress event")
	}
}

func TestSubscribeDeliversEveryEvent(t *testing.T) {
	c := newNode(t, newMemNet(), "a", nil)
	events, cancel := c.Subscribe(1)

	const total = 50
	for i := 0; i < total; i++ {
		c.emit(Event{Type: KeyInvalidated, Key: fmt.Sprintf("k%d", i)})
	}

	for i := 0; i < total; i++ {
		select {
		case e := <-events:
			if want := fmt.Sprintf("k%d", i); e.Key != want {
				t.Fatalf("Expected %s, got %s", want, e.Key)
			}
		case <-time.After(time.Second):
			t.Fatalf("Expected event %d of %d", i, total)
		}
	}
	waitFor(t, "queue to drain", func() bool { return c.Stats().PendingEvents == 0 })

	cancel()
	cancel()
	for range events {
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	c := newNode(t, newMemNet(), "a", nil)
	slow, cancelSlow := c.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := c.Subscribe(1)
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			c.emit(Event{Type: KeyInvalidated, Key: fmt.Sprintf("k%d", i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected publishing to finish while a subscriber is not reading")
	}

	for i := 0; i < 20; i++ {
		if e := <-fast; e.Key != fmt.Sprintf("k%d", i) {
			t.Fatalf("Expected k%d, got %s", i, e.Key)
		}
	}
	if got := c.Stats().PendingEvents; got == 0 {
		t.Fatal("Expected events queued for the slow subscriber")
	}
	for i := 0; i < 20; i++ {
		if e := <-slow; e.Key != fmt.Sprintf("k%d", i) {
			t.Fatalf("Expected k%d, got %s", i, e.Key)
		}
	}
}

func TestCloseDeliversQueuedEvents(t *testing.T) {
	c := newNode(t, newMemNet(), "a", nil)
	events, _ := c.Subscribe(1)
	for i := 0; i < 5; i++ {
		c.emit(Event{Type: KeyInvalidated, Key: fmt.Sprintf("k%d", i)})
	}
	c.Close()

	got := 0
	for range events {
		got++
	}
	if got != 5 {
		t.Fatalf("Expected 5 events before the channel closed, got %d", got)
	}
}

func TestCloseRejectsOperations(t *testing.T) {
	c := newNode(t, newMemNet(), "a", nil)
	events, _ := c.Subscribe(1)
	c.Close()

	if err := c.Set(context.Background(), "k", []byte("v"), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if _, ok := <-events; ok {
		t.Fatal("Expected subscriptions to end on close")
	}
}

func startTCPNode(t *testing.T, id string, seeds []string) (*Coordinator, *transport.Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	local, err := cache.New(cache.DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to create local cache: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	cfg := DefaultConfig()
	cfg.NodeID = id
	cfg.AdvertiseAddr = ln.Addr().String()
	cfg.ClusterEndpoints = seeds
	cfg.ReplicationFactor = 2
	cfg.ConsistencyLevel = Strong

	c, err := New(cfg, local)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	srv := transport.NewServer(ln, c)
	go srv.Serve()
	t.Cleanup(func() {
		c.Close()
		srv.Close()
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	return c, srv
}

func TestTCPCluster(t *testing.T) {
	ctx := context.Background()
	a, _ := startTCPNode(t, "a", nil)
	b, _ := startTCPNode(t, "b", []string{a.cfg.AdvertiseAddr})
	waitFor(t, "a to see b", func() bool { return activeMembers(a) == 2 })

	if err := b.Set(ctx, "over-tcp", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Failed to set over TCP: %v", err)
	}
	data, found, err := a.Get(ctx, "over-tcp")
	if err != nil || !found || string(data) != "v" {
		t.Fatalf("Expected value over TCP, got %q found=%v err=%v", data, found, err)
	}
	if _, ok := a.Local().Peek(ctx, "over-tcp"); !ok {
		t.Fatal("Expected a to hold a replica")
	}
}

func TestTCPClusterUsesOneStreamPerPeer(t *testing.T) {
	a, srvA := startTCPNode(t, "a", nil)
	b, srvB := startTCPNode(t, "b", []string{a.cfg.AdvertiseAddr})
	c, srvC := startTCPNode(t, "c", []string{a.cfg.AdvertiseAddr})

	for _, n := range []*Coordinator{a, b, c} {
		waitFor(t, n.NodeID()+" to see the cluster", func() bool { return activeMembers(n) == 3 })
	}
	// Give any stray dial-back time to land before counting.
	time.Sleep(100 * time.Millisecond)

	// b dialed a; c dialed a and b. Nobody dialed c.
	if got := srvA.NumConns(); got != 2 {
		t.Fatalf("Expected 2 streams accepted by a, got %d", got)
	}
	if got := srvB.NumConns(); got != 1 {
		t.Fatalf("Expected 1 stream accepted by b, got %d", got)
	}
	if got := srvC.NumConns(); got != 0 {
		t.Fatalf("Expected no streams accepted by c, got %d", got)
	}

	// Requests flow both ways over the single stream.
	ctx := context.Background()
	for _, n := range []*Coordinator{a, b, c} {
		key := keyOwnedBy(t, n, "c")
		if err := n.Set(ctx, key, []byte(n.NodeID()), time.Minute); err != nil {
			t.Fatalf("Failed to set from %s: %v", n.NodeID(), err)
		}
		data, found, err := a.Get(ctx, key)
		if err != nil || !found || string(data) != n.NodeID() {
			t.Fatalf("Expected %q, got %q found=%v err=%v", n.NodeID(), data, found, err)
		}
	}
}

func TestSimultaneousDialKeepsOneStream(t *testing.T) {
	a, srvA := startTCPNode(t, "a", nil)
	b, srvB := startTCPNode(t, "b", nil)
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() { errs <- a.connect(ctx, "b", b.cfg.AdvertiseAddr) }()
	go func() { errs <- b.connect(ctx, "a", a.cfg.AdvertiseAddr) }()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
	}

	waitFor(t, "one stream between a and b", func() bool {
		return srvA.NumConns()+srvB.NumConns() == 1 && a.peer("b") != nil && b.peer("a") != nil
	})
	// The surviving stream was dialed by a.
	if got := srvB.NumConns(); got != 1 {
		t.Fatalf("Expected b to hold the stream dialed by a, got %d", got)
	}
	if err := b.Set(ctx, keyOwnedBy(t, b, "a"), []byte("v"), time.Minute); err != nil {
		t.Fatalf("Failed to set over the surviving stream: %v", err)
	}
}
