package cluster

import (
	"context"

	"github.com/huykn/actioncache/transport"
)

// HandleGet serves a peer's read from the local cache.
func (c *Coordinator) HandleGet(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, transport.ErrInvalidKey
	}
	return c.getLocal(ctx, key)
}

// HandleSet stores entries written by a peer.
func (c *Coordinator) HandleSet(ctx context.Context, entries []transport.SetRequest) error {
	for _, e := range entries {
		if err := c.writeLocal(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// HandleRemove deletes a key on behalf of a peer.
func (c *Coordinator) HandleRemove(ctx context.Context, key string) error {
	c.local.Delete(ctx, key)
	c.borrowed.Delete(key)
	c.emit(Event{Type: KeyInvalidated, Key: key})
	return nil
}

// HandleHeartbeat refreshes the sender's liveness. An unknown or failed
// sender rejoins the ring over the stream the heartbeat arrived on.
func (c *Coordinator) HandleHeartbeat(ctx context.Context, hb transport.Heartbeat) error {
	if hb.NodeID == "" || hb.NodeID == c.cfg.NodeID {
		return nil
	}

	c.mu.Lock()
	n, known := c.nodes[hb.NodeID]
	active := known && n.IsActive
	if active {
		n.LastHeartbeat = c.opts.now()
		n.KeyCount = hb.KeyCount
		n.Load = hb.Load
		if hb.Endpoint != "" {
			n.Endpoint = hb.Endpoint
		}
	}
	connected := c.peers[hb.NodeID] != nil
	c.mu.Unlock()

	if !active || !connected {
		c.adopt(ctx, hb.NodeID, hb.Endpoint)
	}
	return nil
}

// HandleNodeInfo registers the caller and returns the active roster.
// A request with no node id only reads the roster.
func (c *Coordinator) HandleNodeInfo(ctx context.Context, req transport.NodeInfoRequest) (transport.NodeInfoResponse, error) {
	if req.NodeID != "" && req.NodeID != c.cfg.NodeID {
		c.adopt(ctx, req.NodeID, req.Endpoint)
	}

	resp := transport.NodeInfoResponse{NodeID: c.cfg.NodeID}
	for _, n := range c.Members() {
		if !n.IsActive {
			continue
		}
		resp.Nodes = append(resp.Nodes, transport.NodeSummary{
			ID:       n.ID,
			Endpoint: n.Endpoint,
			Load:     n.Load,
			KeyCount: n.KeyCount,
		})
	}
	return resp, nil
}

// adopt registers the stream a request arrived on as the sender's peer.
// Requests that arrive without one, such as from in-process dialers, are
// answered with a dial-back.
func (c *Coordinator) adopt(ctx context.Context, id, endpoint string) {
	if conn, ok := transport.ConnFromContext(ctx); ok {
		c.addNode(id, endpoint, conn, false)
		return
	}

	c.mu.RLock()
	n, known := c.nodes[id]
	active := known && n.IsActive
	connected := c.peers[id] != nil
	c.mu.RUnlock()
	if !active || !connected {
		c.connectAsync(id, endpoint)
	}
}
