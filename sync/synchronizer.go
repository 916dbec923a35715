// Package sync relays invalidations between nodes over Redis Pub/Sub.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/invalidation"
	"github.com/huykn/actioncache/types"
)

// InvalidationEvent is an alias for types.InvalidationEvent
type InvalidationEvent = types.InvalidationEvent

var _ cache.Synchronizer = (*PubSubSynchronizer)(nil)

// Stats counts relayed events.
type Stats struct {
	Published int64
	Received  int64
	Ignored   int64 // sent by this node
	Malformed int64
}

// PubSubSynchronizer publishes invalidations to a Redis channel and
// delivers the ones sent by other nodes to registered callbacks.
type PubSubSynchronizer struct {
	client  redis.UniversalClient
	channel string
	nodeID  string
	logger  cache.Logger

	pubsub         *redis.PubSub
	callbacks      []func(ctx context.Context, event InvalidationEvent)
	callbacksMutex sync.RWMutex

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	published, received, ignored, malformed atomic.Int64
}

// NewPubSubSynchronizer creates a synchronizer for nodeID on channel.
func NewPubSubSynchronizer(client redis.UniversalClient, channel, nodeID string, logger cache.Logger) *PubSubSynchronizer {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubSynchronizer{
		client:  client,
		channel: channel,
		nodeID:  nodeID,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe joins the channel and starts delivering events. It returns
// once Redis has confirmed the subscription.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	pubsub := ps.client.Subscribe(ctx, ps.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	ps.pubsub = pubsub

	ps.wg.Add(1)
	go ps.listenForEvents()

	ps.logger.Info("subscribed to invalidation channel", "channel", ps.channel, "node", ps.nodeID)
	return nil
}

// Publish sends event to the other nodes. An empty Sender is set to this node.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	if event.Sender == "" {
		event.Sender = ps.nodeID
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := ps.client.Publish(ctx, ps.channel, string(data)).Err(); err != nil {
		return err
	}
	ps.published.Add(1)
	return nil
}

// PublishEngineEvent relays an invalidation engine event. Events that
// cannot be relayed are skipped.
func (ps *PubSubSynchronizer) PublishEngineEvent(ctx context.Context, ev invalidation.Event) error {
	wire, ok := ev.Relay(ps.nodeID)
	if !ok {
		ps.logger.Debug("engine event not relayable", "kind", ev.Kind.String())
		return nil
	}
	return ps.Publish(ctx, wire)
}

// OnInvalidate registers a callback for events from other nodes.
func (ps *PubSubSynchronizer) OnInvalidate(callback func(ctx context.Context, event InvalidationEvent)) {
	ps.callbacksMutex.Lock()
	defer ps.callbacksMutex.Unlock()
	ps.callbacks = append(ps.callbacks, callback)
}

// Stats returns the relay counters.
func (ps *PubSubSynchronizer) Stats() Stats {
	return Stats{
		Published: ps.published.Load(),
		Received:  ps.received.Load(),
		Ignored:   ps.ignored.Load(),
		Malformed: ps.malformed.Load(),
	}
}

// Close stops delivery and leaves the channel.
func (ps *PubSubSynchronizer) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		ps.cancel()
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

// listenForEvents listens for invalidation events from Redis Pub/Sub.
func (ps *PubSubSynchronizer) listenForEvents() {
	defer ps.wg.Done()

	ch := ps.pubsub.Channel()
	for {
		select {
		case <-ps.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ps.dispatch(msg.Payload)
		}
	}
}

// dispatch decodes one message and hands it to the callbacks.
func (ps *PubSubSynchronizer) dispatch(payload string) {
	var event InvalidationEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		ps.malformed.Add(1)
		ps.logger.Warn("dropping malformed invalidation", "error", err)
		return
	}

	// Don't invalidate your own writes
	if event.Sender == ps.nodeID {
		ps.ignored.Add(1)
		return
	}
	ps.received.Add(1)

	ps.callbacksMutex.RLock()
	callbacks := ps.callbacks
	ps.callbacksMutex.RUnlock()

	for _, callback := range callbacks {
		callback(ps.ctx, event)
	}
}
