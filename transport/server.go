package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
)

// Server accepts peer connections and serves them with a Handler.
type Server struct {
	ln      net.Listener
	handler Handler
	opts    []Option

	mu    sync.Mutex
	conns map[*Conn]struct{}

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Listen opens a TCP listener on addr.
func Listen(addr string, handler Handler, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(ln, handler, opts...), nil
}

// NewServer serves connections accepted from ln.
func NewServer(ln net.Listener, handler Handler, opts ...Option) *Server {
	return &Server{
		ln:      ln,
		handler: handler,
		opts:    opts,
		conns:   make(map[*Conn]struct{}),
	}
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// NumConns returns the number of open accepted connections.
func (s *Server) NumConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		c := NewConn(nc, s.handler, s.opts...)
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			c.Close()
			continue
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			<-c.Done()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return err
}
