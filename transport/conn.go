package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler serves requests arriving on a connection.
type Handler interface {
	HandleGet(ctx context.Context, key string) ([]byte, bool, error)
	HandleSet(ctx context.Context, entries []SetRequest) error
	HandleRemove(ctx context.Context, key string) error
	HandleHeartbeat(ctx context.Context, hb Heartbeat) error
	HandleNodeInfo(ctx context.Context, req NodeInfoRequest) (NodeInfoResponse, error)
}

// Conn is one persistent bidirectional stream to a peer. Outgoing requests
// and incoming requests interleave; responses are matched by message ID.
type Conn struct {
	nc      net.Conn
	handler Handler
	opts    options

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uuid.UUID]chan Message

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type connKey struct{}

// ConnFromContext returns the connection an incoming request arrived on.
func ConnFromContext(ctx context.Context) (*Conn, bool) {
	c, ok := ctx.Value(connKey{}).(*Conn)
	return c, ok
}

// ValidateEndpoint checks that endpoint has the form host:port.
func ValidateEndpoint(endpoint string) error {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, endpoint, err)
	}
	if host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, endpoint)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("%w: %q: bad port", ErrInvalidEndpoint, endpoint)
	}
	return nil
}

// Dial connects to endpoint. handler may be nil if the caller never serves
// requests on this connection.
func Dial(ctx context.Context, endpoint string, handler Handler, opts ...Option) (*Conn, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}

	d := net.Dialer{Timeout: o.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, endpoint, err)
	}
	return newConn(nc, handler, o), nil
}

// NewConn wraps an established net.Conn and starts its read loop.
func NewConn(nc net.Conn, handler Handler, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	return newConn(nc, handler, o)
}

func newConn(nc net.Conn, handler Handler, o options) *Conn {
	c := &Conn{
		nc:      nc,
		handler: handler,
		opts:    o,
		pending: make(map[uuid.UUID]chan Message),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down and fails every pending call with
// ErrConnectionClosed.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.nc.Close()
	close(c.done)
	c.wg.Wait()
	return err
}

// shutdown is Close for the read loop, which cannot wait on itself.
func (c *Conn) shutdown() {
	if c.closed.CompareAndSwap(false, true) {
		c.nc.Close()
		close(c.done)
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	for {
		m, err := ReadMessage(c.nc)
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.opts.logger.Warn("transport read failed", "peer", c.RemoteAddr(), "error", err)
			}
			return
		}

		switch {
		case m.Op == OpResponse || m.Op == OpError:
			c.deliver(m)
		case m.Op.isRequest():
			c.wg.Add(1)
			go c.serve(m)
		default:
			c.opts.logger.Warn("transport dropped frame with unknown opcode", "peer", c.RemoteAddr(), "op", m.Op.String())
		}
	}
}

func (c *Conn) deliver(m Message) {
	c.mu.Lock()
	ch, ok := c.pending[m.ID]
	delete(c.pending, m.ID)
	c.mu.Unlock()

	if !ok {
		c.opts.logger.Debug("transport dropped response for unknown request", "peer", c.RemoteAddr(), "id", m.ID.String())
		return
	}
	ch <- m
}

func (c *Conn) write(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.timeout)); err != nil {
		return err
	}
	return WriteMessage(c.nc, m)
}

func (c *Conn) serve(m Message) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.WithValue(context.Background(), connKey{}, c), c.opts.timeout)
	defer cancel()

	reply := Message{ID: m.ID, Op: OpResponse}
	payload, err := c.dispatch(ctx, m)
	if err != nil {
		reply.Op = OpError
		reply.Payload = []byte(err.Error())
	} else {
		reply.Payload = payload
	}

	if err := c.write(reply); err != nil && !c.closed.Load() {
		c.opts.logger.Warn("transport reply failed", "peer", c.RemoteAddr(), "op", m.Op.String(), "error", err)
	}
}

func (c *Conn) dispatch(ctx context.Context, m Message) ([]byte, error) {
	if c.handler == nil {
		return nil, errors.New("no handler")
	}

	switch m.Op {
	case OpGet:
		var req keyRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return nil, err
		}
		data, found, err := c.handler.HandleGet(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		return encodeGetResponse(data, found), nil

	case OpSet:
		var req setBatch
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return nil, err
		}
		return nil, c.handler.HandleSet(ctx, req.Entries)

	case OpRemove:
		var req keyRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return nil, err
		}
		return nil, c.handler.HandleRemove(ctx, req.Key)

	case OpHeartbeat:
		var hb Heartbeat
		if err := json.Unmarshal(m.Payload, &hb); err != nil {
			return nil, err
		}
		return nil, c.handler.HandleHeartbeat(ctx, hb)

	case OpNodeInfo:
		var req NodeInfoRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return nil, err
		}
		resp, err := c.handler.HandleNodeInfo(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
	return nil, fmt.Errorf("unsupported opcode %s", m.Op)
}

// call sends a request and waits for the matching response.
func (c *Conn) call(ctx context.Context, op Opcode, req any) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	ch := make(chan Message, 1)

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(Message{ID: id, Op: op, Payload: payload}); err != nil {
		if c.closed.Load() {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("%w: %s to %s: %v", ErrConnection, op, c.RemoteAddr(), err)
	}

	timer := time.NewTimer(c.opts.timeout)
	defer timer.Stop()

	select {
	case m := <-ch:
		if m.Op == OpError {
			return nil, &RemoteError{Op: op, Message: string(m.Payload)}
		}
		return m.Payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s to %s after %v", ErrTimeout, op, c.RemoteAddr(), c.opts.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

// Get fetches key from the peer.
func (c *Conn) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	p, err := c.call(ctx, OpGet, keyRequest{Key: key})
	if err != nil {
		return nil, false, err
	}
	return decodeGetResponse(p)
}

// Set stores one entry on the peer.
func (c *Conn) Set(ctx context.Context, req SetRequest) error {
	return c.SetMultiple(ctx, []SetRequest{req})
}

// SetMultiple stores several entries in a single round trip.
func (c *Conn) SetMultiple(ctx context.Context, reqs []SetRequest) error {
	for _, r := range reqs {
		if r.Key == "" {
			return ErrInvalidKey
		}
	}
	_, err := c.call(ctx, OpSet, setBatch{Entries: reqs})
	return err
}

// Remove deletes key on the peer.
func (c *Conn) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	_, err := c.call(ctx, OpRemove, keyRequest{Key: key})
	return err
}

// Heartbeat announces liveness and load to the peer.
func (c *Conn) Heartbeat(ctx context.Context, hb Heartbeat) error {
	_, err := c.call(ctx, OpHeartbeat, hb)
	return err
}

// ExchangeNodeInfo introduces this node and returns the peer's roster.
func (c *Conn) ExchangeNodeInfo(ctx context.Context, req NodeInfoRequest) (NodeInfoResponse, error) {
	var resp NodeInfoResponse
	p, err := c.call(ctx, OpNodeInfo, req)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(p, &resp); err != nil {
		return resp, fmt.Errorf("%w: node info: %v", ErrMalformedFrame, err)
	}
	return resp, nil
}
