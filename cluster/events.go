package cluster

import (
	"fmt"
	"sync"
	"time"
)

// EventType names a coordinator event.
type EventType int

const (
	NodeJoined EventType = iota
	NodeLeft
	KeyInvalidated
	ReplicationComplete
	Rebalancing
	Failover
)

func (t EventType) String() string {
	switch t {
	case NodeJoined:
		return "nodeJoined"
	case NodeLeft:
		return "nodeLeft"
	case KeyInvalidated:
		return "keyInvalidated"
	case ReplicationComplete:
		return "replicationComplete"
	case Rebalancing:
		return "rebalancing"
	case Failover:
		return "failover"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is published to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	NodeID   string
	Key      string
	Acks     int
	Progress float64
	Time     time.Time
}

// broker fans events out to subscribers without blocking publishers.
// Every subscriber owns an unbounded queue drained by its own goroutine,
// so a slow reader delays only itself and never loses an event.
type broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	next   int
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]*subscriber)}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := newSubscriber(buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.finish()
		return s.out, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = s
	go s.run()

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.stop)
		})
	}
}

func (b *broker) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.push(e)
	}
}

// pending returns the number of events queued behind slow subscribers.
func (b *broker) pending() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, s := range b.subs {
		n += s.backlog()
	}
	return n
}

// close ends every subscription once its queued events are delivered.
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.finish()
	}
}

type subscriber struct {
	out  chan Event
	wake chan struct{}
	stop chan struct{}

	mu       sync.Mutex
	queue    []Event
	inflight bool
	ending   bool
	done     bool
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{
		out:  make(chan Event, buffer),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// push delivers e straight into the channel when nothing is queued ahead
// of it and there is room, and queues it otherwise.
func (s *subscriber) push(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.ending {
		return
	}
	if len(s.queue) == 0 && !s.inflight {
		select {
		case s.out <- e:
			return
		default:
		}
	}
	s.queue = append(s.queue, e)
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) backlog() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.queue))
	if s.inflight {
		n++
	}
	return n
}

// finish stops accepting events; out closes after the queue drains.
func (s *subscriber) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.ending = true
	if len(s.queue) == 0 && !s.inflight {
		s.done = true
		close(s.out)
	}
	s.signal()
}

func (s *subscriber) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	if !s.done {
		s.done = true
		close(s.out)
	}
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			if s.ending {
				s.done = true
				close(s.out)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.stop:
				s.abandon()
				return
			}
			continue
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.inflight = true
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.stop:
			s.abandon()
			return
		}

		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
	}
}
