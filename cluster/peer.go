package cluster

import (
	"context"

	"github.com/huykn/actioncache/transport"
)

// Peer is the client side of a connection to another node.
// *transport.Conn implements it.
type Peer interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, req transport.SetRequest) error
	SetMultiple(ctx context.Context, reqs []transport.SetRequest) error
	Remove(ctx context.Context, key string) error
	Heartbeat(ctx context.Context, hb transport.Heartbeat) error
	ExchangeNodeInfo(ctx context.Context, req transport.NodeInfoRequest) (transport.NodeInfoResponse, error)
	Close() error
}

var _ Peer = (*transport.Conn)(nil)

// Dialer opens peer connections. handler serves requests the peer sends
// back over the same connection.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, handler transport.Handler) (Peer, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string, handler transport.Handler) (Peer, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, endpoint string, handler transport.Handler) (Peer, error) {
	return f(ctx, endpoint, handler)
}

// TCPDialer dials peers with the framed TCP protocol.
type TCPDialer struct {
	Options []transport.Option
}

// Dial implements Dialer.
func (d TCPDialer) Dial(ctx context.Context, endpoint string, handler transport.Handler) (Peer, error) {
	return transport.Dial(ctx, endpoint, handler, d.Options...)
}
