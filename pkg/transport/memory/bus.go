// ABOUTME: In-process publish/subscribe bus
// ABOUTME: Fans out copies to bounded subscriber queues, dropping when full
package memory

import (
	"sync"
	"sync/atomic"

	"github.com/open-ephys-plugins/falcon-output/pkg/transport"
)

// DefaultQueueSize is the subscriber queue depth when none is given
const DefaultQueueSize = 64

// Bus connects publishers and subscribers living in the same process
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Publisher returns a publisher bound to the bus
func (b *Bus) Publisher() *Publisher {
	return &Publisher{bus: b}
}

// Subscribe registers a new subscriber with a queue of queueSize messages
func (b *Bus) Subscribe(queueSize int) (*Subscriber, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, transport.ErrClosed
	}

	s := &Subscriber{
		bus:   b,
		queue: make(chan []byte, queueSize),
	}
	b.subscribers[s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of registered subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns bus-wide counters
func (b *Bus) Stats() transport.Stats {
	return transport.Stats{
		Sent:    b.published.Load(),
		Dropped: b.dropped.Load(),
	}
}

// Close detaches every subscriber
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subscribers = make(map[*Subscriber]struct{})
}

func (b *Bus) publish(buf []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return transport.ErrClosed
	}

	b.published.Add(1)
	for s := range b.subscribers {
		msg := make([]byte, len(buf))
		copy(msg, buf)

		select {
		case s.queue <- msg:
		default:
			b.dropped.Add(1)
			s.dropped.Add(1)
		}
	}
	return nil
}

func (b *Bus) remove(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, s)
}

// Publisher publishes onto a Bus
type Publisher struct {
	bus    *Bus
	closed atomic.Bool
}

// Publish hands a copy of buf to every subscriber with room
func (p *Publisher) Publish(buf []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	return p.bus.publish(buf)
}

// Close stops the publisher; the bus lives on
func (p *Publisher) Close() error {
	p.closed.Store(true)
	return nil
}

// Subscriber reads from a Bus
type Subscriber struct {
	bus     *Bus
	queue   chan []byte
	dropped atomic.Uint64
	once    sync.Once
}

// TryReceive returns the oldest queued message without waiting
func (s *Subscriber) TryReceive() ([]byte, bool) {
	select {
	case msg := <-s.queue:
		return msg, true
	default:
		return nil, false
	}
}

// Dropped returns how many messages were discarded for this subscriber
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscriber from the bus
func (s *Subscriber) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
	})
	return nil
}

var (
	_ transport.Publisher  = (*Publisher)(nil)
	_ transport.Subscriber = (*Subscriber)(nil)
)
