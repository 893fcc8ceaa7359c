package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
)

type received struct {
	room string
	msg  *domain.Message
}

func collect() (Handler, <-chan received) {
	ch := make(chan received, 64)
	return func(room string, msg *domain.Message) {
		ch <- received{room: room, msg: msg}
	}, ch
}

func waitFor(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus delivery")
		return received{}
	}
}

func expectNone(t *testing.T, ch <-chan received) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected delivery: %+v", r.msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func sample(room, content string) *domain.Message {
	return &domain.Message{
		ID:           "m-" + content,
		Room:         room,
		SenderID:     "u-1",
		SenderHandle: "alice",
		Content:      content,
		CreatedAt:    time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
	}
}

func TestBus_SelfDeliveryAndCrossProcess(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	broker := pubsub.NewMemoryBroker()
	a := New(broker.NewClient(), "a")
	b := New(broker.NewClient(), "b")

	handlerA, gotA := collect()
	handlerB, gotB := collect()
	req.NoError(a.Subscribe(ctx, "r1", handlerA))
	req.NoError(b.Subscribe(ctx, "r1", handlerB))

	req.NoError(a.Publish(ctx, "r1", sample("r1", "hello")))

	for _, ch := range []<-chan received{gotA, gotB} {
		r := waitFor(t, ch)
		req.Equal("r1", r.room)
		req.Equal("m-hello", r.msg.ID)
		req.Equal("alice", r.msg.SenderHandle)
		req.Equal("hello", r.msg.Content)
		req.True(r.msg.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)))
	}
}

func TestBus_FIFOPerPublisher(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	broker := pubsub.NewMemoryBroker()
	a := New(broker.NewClient(), "a")
	b := New(broker.NewClient(), "b")

	handler, got := collect()
	req.NoError(b.Subscribe(ctx, "r1", handler))

	contents := []string{"1", "2", "3", "4", "5"}
	for _, c := range contents {
		req.NoError(a.Publish(ctx, "r1", sample("r1", c)))
	}
	for _, c := range contents {
		req.Equal(c, waitFor(t, got).msg.Content)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	b := New(pubsub.NewMemoryPubSub(), "a")
	handler, got := collect()
	req.NoError(b.Subscribe(ctx, "r1", handler))
	req.True(hasSubscription(b, "r1"))

	req.NoError(b.Unsubscribe(ctx, "r1"))
	req.False(hasSubscription(b, "r1"))

	req.NoError(b.Publish(ctx, "r1", sample("r1", "late")))
	expectNone(t, got)
}

func TestBus_NoBacklogReplay(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	b := New(pubsub.NewMemoryPubSub(), "a")
	req.NoError(b.Publish(ctx, "r1", sample("r1", "before")))

	handler, got := collect()
	req.NoError(b.Subscribe(ctx, "r1", handler))
	expectNone(t, got)
}

func TestBus_RoomsAreIsolated(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	b := New(pubsub.NewMemoryPubSub(), "a")
	handler, got := collect()
	req.NoError(b.Subscribe(ctx, "r1", handler))

	req.NoError(b.Publish(ctx, "r2", sample("r2", "other")))
	expectNone(t, got)
}

func TestBus_FailuresWrapDeliveryFailure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	ps := pubsub.NewMemoryPubSub()
	b := New(ps, "a")
	req.NoError(b.Close())

	err := b.Publish(ctx, "r1", sample("r1", "x"))
	req.ErrorIs(err, domain.ErrDeliveryFailure)
	req.True(errors.Is(b.Subscribe(ctx, "r1", func(string, *domain.Message) {}), domain.ErrDeliveryFailure))
	req.ErrorIs(b.Ping(ctx), pubsub.ErrClosed)
}

func hasSubscription(b *Bus, room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[room]
	return ok
}
