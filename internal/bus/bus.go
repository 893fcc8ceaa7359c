// Package bus carries message events between gateway processes.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
)

// Handler receives the events of one room, one at a time, in arrival order.
type Handler func(room string, msg *domain.Message)

// messagePayload is the wire form of a message on the bus.
type messagePayload struct {
	ID           string `json:"id"`
	Room         string `json:"room"`
	SenderID     string `json:"sender_id"`
	SenderHandle string `json:"sender_handle"`
	Content      string `json:"content"`
	CreatedAt    string `json:"created_at"`
}

// Bus adapts a pubsub medium to room-level message events.
type Bus struct {
	ps         pubsub.PubSub
	instanceID string

	mu   sync.Mutex
	subs map[string]*roomSubscription
}

type roomSubscription struct {
	done chan struct{}
}

func New(ps pubsub.PubSub, instanceID string) *Bus {
	return &Bus{
		ps:         ps,
		instanceID: instanceID,
		subs:       make(map[string]*roomSubscription),
	}
}

// Publish makes msg visible to every process subscribed to room, this one
// included. Failures wrap domain.ErrDeliveryFailure.
func (b *Bus) Publish(ctx context.Context, room string, msg *domain.Message) error {
	event, err := pubsub.NewEvent(pubsub.EventMessageCreated, room, messagePayload{
		ID:           msg.ID,
		Room:         msg.Room,
		SenderID:     msg.SenderID,
		SenderHandle: msg.SenderHandle,
		Content:      msg.Content,
		CreatedAt:    domain.FormatTimestamp(msg.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", domain.ErrDeliveryFailure, err)
	}
	event.Origin = b.instanceID

	if err := b.ps.Publish(ctx, pubsub.RoomChannel(room), event); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", domain.ErrDeliveryFailure, room, err)
	}
	return nil
}

// Subscribe starts delivering room events to handler. It returns once the
// subscription is active on the medium. Subscribing an already subscribed
// room replaces the previous handler.
func (b *Bus) Subscribe(ctx context.Context, room string, handler Handler) error {
	events, err := b.ps.Subscribe(ctx, pubsub.RoomChannel(room))
	if err != nil {
		return fmt.Errorf("%w: subscribe to %s: %v", domain.ErrDeliveryFailure, room, err)
	}

	sub := &roomSubscription{done: make(chan struct{})}

	b.mu.Lock()
	if prev, ok := b.subs[room]; ok {
		close(prev.done)
	}
	b.subs[room] = sub
	b.mu.Unlock()

	go b.dispatch(room, events, sub, handler)
	return nil
}

// dispatch runs one room's handler until the event channel closes or the
// subscription is replaced.
func (b *Bus) dispatch(room string, events <-chan *pubsub.Event, sub *roomSubscription, handler Handler) {
	l := log.L()
	for {
		select {
		case <-sub.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != pubsub.EventMessageCreated {
				continue
			}
			msg, err := decode(event)
			if err != nil {
				l.Warn().Err(err).Str(log.FieldRoom, room).Msg("dropping undecodable bus event")
				continue
			}
			handler(room, msg)
		}
	}
}

func decode(event *pubsub.Event) (*domain.Message, error) {
	var p messagePayload
	if err := event.UnmarshalPayload(&p); err != nil {
		return nil, err
	}
	createdAt, err := parseTimestamp(p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Message{
		ID:           p.ID,
		Room:         p.Room,
		SenderID:     p.SenderID,
		SenderHandle: p.SenderHandle,
		Content:      p.Content,
		CreatedAt:    createdAt,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(domain.TimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Unsubscribe stops delivery for room. It does not wait for an in-flight
// handler call to return.
func (b *Bus) Unsubscribe(ctx context.Context, room string) error {
	b.mu.Lock()
	if sub, ok := b.subs[room]; ok {
		close(sub.done)
		delete(b.subs, room)
	}
	b.mu.Unlock()

	if err := b.ps.Unsubscribe(ctx, pubsub.RoomChannel(room)); err != nil {
		return fmt.Errorf("%w: unsubscribe from %s: %v", domain.ErrDeliveryFailure, room, err)
	}
	return nil
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.ps.Ping(ctx)
}

// Close stops every dispatcher and closes the medium.
func (b *Bus) Close() error {
	b.mu.Lock()
	for room, sub := range b.subs {
		close(sub.done)
		delete(b.subs, room)
	}
	b.mu.Unlock()
	return b.ps.Close()
}
