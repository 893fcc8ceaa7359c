package pubsub

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process medium shared by any number of
// MemoryPubSub clients. Each client stands in for one gateway process.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*subscription]struct{})}
}

// NewClient attaches a new client to the broker.
func (b *MemoryBroker) NewClient() *MemoryPubSub {
	return &MemoryPubSub{
		broker: b,
		subs:   make(map[string]*subscription),
	}
}

func (b *MemoryBroker) attach(channel string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[channel] = set
	}
	set[s] = struct{}{}
}

func (b *MemoryBroker) detach(channel string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[channel]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, channel)
	}
}

func (b *MemoryBroker) snapshot(channel string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*subscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		out = append(out, s)
	}
	return out
}

// MemoryPubSub implements PubSub on top of a MemoryBroker.
type MemoryPubSub struct {
	broker *MemoryBroker
	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// NewMemoryPubSub creates a client on a private broker.
func NewMemoryPubSub() *MemoryPubSub {
	return NewMemoryBroker().NewClient()
}

// Broker returns the medium this client is attached to.
func (m *MemoryPubSub) Broker() *MemoryBroker {
	return m.broker
}

// Publish hands the event to every subscription of the channel across all
// clients of the broker, in publish order per subscription.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for _, s := range m.broker.snapshot(channel) {
		cp := *event
		s.deliver(ctx, &cp)
	}
	return ctx.Err()
}

// Subscribe registers the channel on the broker. Events published after it
// returns are delivered.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if existing, ok := m.subs[channel]; ok {
		m.broker.detach(channel, existing)
		existing.stop()
	}

	s := newSubscription(100)
	m.subs[channel] = s
	m.broker.attach(channel, s)
	return s.events(), nil
}

// Unsubscribe removes the channel subscription of this client.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.subs[channel]; ok {
		m.broker.detach(channel, s)
		s.stop()
		delete(m.subs, channel)
	}
	return nil
}

// Ping reports whether the client is still open.
func (m *MemoryPubSub) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every subscription of this client.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for channel, s := range m.subs {
		m.broker.detach(channel, s)
		s.stop()
		delete(m.subs, channel)
	}
	return nil
}
