package cluster

import (
	"context"
	"slices"
	"sort"

	"github.com/huykn/actioncache/stats"
	"github.com/huykn/actioncache/transport"
)

// rebalanceBatch is the number of entries sent per SET frame while moving keys.
const rebalanceBatch = 100

// Rebalance moves every local entry this node no longer replicates to the
// key's current primary, then deletes the local copy. Entries cached by
// read-through are dropped instead. Progress events are emitted per batch
// and the run always ends with progress 1.0. It returns the number of
// entries moved.
func (c *Coordinator) Rebalance(ctx context.Context) int {
	c.rebalanceMu.Lock()
	defer c.rebalanceMu.Unlock()

	c.rebalances.Add(1)
	now := c.opts.now()

	moves := make(map[string][]transport.SetRequest)
	total := 0
	for _, key := range c.local.Keys(ctx) {
		owners := c.ring.GetNodes(key, c.cfg.ReplicationFactor)
		if len(owners) == 0 || slices.Contains(owners, c.cfg.NodeID) {
			continue
		}
		if _, ok := c.borrowed.LoadAndDelete(key); ok {
			c.local.Delete(ctx, key)
			continue
		}
		e, ok := c.local.Peek(ctx, key)
		if !ok {
			continue
		}
		moves[owners[0]] = append(moves[owners[0]], transport.SetRequest{
			Key:  key,
			Data: e.Payload,
			TTL:  e.Remaining(now),
		})
		total++
	}

	owners := make([]string, 0, len(moves))
	for owner := range moves {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	moved, done := 0, 0
	for _, owner := range owners {
		p := c.peer(owner)
		batch := moves[owner]
		for start := 0; start < len(batch); start += rebalanceBatch {
			chunk := batch[start:min(start+rebalanceBatch, len(batch))]
			done += len(chunk)

			if err := c.transfer(ctx, p, chunk); err != nil {
				c.report("rebalance transfer failed", err, "owner", owner, "keys", len(chunk))
			} else {
				for _, r := range chunk {
					c.local.Delete(ctx, r.Key)
				}
				moved += len(chunk)
			}
			if done < total {
				c.emit(Event{Type: Rebalancing, Progress: float64(done) / float64(total)})
			}
		}
	}

	if moved > 0 {
		c.keysMoved.Add(int64(moved))
		c.opts.stats.IncCounter(stats.MetricKeysMoved, int64(moved))
		c.logger.Info("rebalance moved keys", "moved", moved, "candidates", total)
	}
	c.emit(Event{Type: Rebalancing, Progress: 1.0})
	return moved
}

func (c *Coordinator) transfer(ctx context.Context, p Peer, chunk []transport.SetRequest) error {
	if p == nil {
		return ErrNoPeer
	}
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	return p.SetMultiple(rctx, chunk)
}
