package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/huykn/actioncache/ring"
	"github.com/huykn/actioncache/transport"
)

// clusterClient routes key operations to the nodes that own them, the
// same way cluster members do. It never joins the cluster.
type clusterClient struct {
	roster   transport.NodeInfoResponse
	ring     *ring.Ring
	replicas int
	conns    map[string]*transport.Conn
	byID     map[string]string
}

func dialCluster(ctx context.Context, virtualNodes, replicas int) (*clusterClient, error) {
	seed, err := transport.Dial(ctx, nodeAddr, nil, transport.WithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", nodeAddr, err)
	}

	// an empty node id asks for the roster without joining
	roster, err := seed.ExchangeNodeInfo(ctx, transport.NodeInfoRequest{})
	if err != nil {
		seed.Close()
		return nil, fmt.Errorf("reading roster from %s: %w", nodeAddr, err)
	}

	c := &clusterClient{
		roster:   roster,
		ring:     ring.New(virtualNodes),
		replicas: replicas,
		conns:    map[string]*transport.Conn{roster.NodeID: seed},
		byID:     make(map[string]string, len(roster.Nodes)),
	}
	for _, n := range roster.Nodes {
		c.ring.AddNode(n.ID)
		c.byID[n.ID] = n.Endpoint
	}
	return c, nil
}

func (c *clusterClient) conn(ctx context.Context, id string) (*transport.Conn, error) {
	if conn, ok := c.conns[id]; ok {
		return conn, nil
	}
	endpoint, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("node %s is not in the roster", id)
	}
	conn, err := transport.Dial(ctx, endpoint, nil, transport.WithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s at %s: %w", id, endpoint, err)
	}
	c.conns[id] = conn
	return conn, nil
}

// get asks each replica in ring order until one holds key.
func (c *clusterClient) get(ctx context.Context, key string) ([]byte, bool, error) {
	var errs []error
	for _, id := range c.ring.GetNodes(key, c.replicas) {
		conn, err := c.conn(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		data, found, err := conn.Get(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if found {
			return data, true, nil
		}
	}
	return nil, false, errors.Join(errs...)
}

// set writes to every replica and fails if none accepted the write.
func (c *clusterClient) set(ctx context.Context, req transport.SetRequest) (int, error) {
	return c.each(ctx, req.Key, func(conn *transport.Conn) error { return conn.Set(ctx, req) })
}

func (c *clusterClient) remove(ctx context.Context, key string) (int, error) {
	return c.each(ctx, key, func(conn *transport.Conn) error { return conn.Remove(ctx, key) })
}

func (c *clusterClient) each(ctx context.Context, key string, fn func(*transport.Conn) error) (int, error) {
	var (
		acks int
		errs []error
	)
	for _, id := range c.ring.GetNodes(key, c.replicas) {
		conn, err := c.conn(ctx, id)
		if err == nil {
			err = fn(conn)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		acks++
	}
	if acks == 0 {
		return 0, errors.Join(append(errs, errors.New("no replica accepted the request"))...)
	}
	return acks, nil
}

func (c *clusterClient) Close() error {
	var errs []error
	for _, conn := range c.conns {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}
