package pubsub

import (
	"context"
	"sync"
)

// subscription decouples a producer goroutine from the consumer reading
// Events(). The inbox is never closed, so senders cannot panic on a
// subscription that was stopped concurrently.
type subscription struct {
	inbox chan *Event
	out   chan *Event
	done  chan struct{}
	once  sync.Once
}

func newSubscription(buffer int) *subscription {
	s := &subscription{
		inbox: make(chan *Event, buffer),
		out:   make(chan *Event),
		done:  make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *subscription) forward() {
	defer close(s.out)
	for {
		select {
		case e := <-s.inbox:
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// deliver blocks until the event is queued, the subscription is stopped or
// ctx is done. It reports whether the event was queued.
func (s *subscription) deliver(ctx context.Context, e *Event) bool {
	select {
	case s.inbox <- e:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *subscription) events() <-chan *Event {
	return s.out
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
