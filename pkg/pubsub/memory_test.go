package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMemoryPubSub_FanOutAcrossClients(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	broker := NewMemoryBroker()
	a, b := broker.NewClient(), broker.NewClient()
	channel := RoomChannel("lobby")

	chA, err := a.Subscribe(ctx, channel)
	req.NoError(err)
	chB, err := b.Subscribe(ctx, channel)
	req.NoError(err)

	ev, err := NewEvent(EventMessageCreated, "lobby", map[string]string{"content": "hi"})
	req.NoError(err)
	req.NoError(a.Publish(ctx, channel, ev))

	for _, ch := range []<-chan *Event{chA, chB} {
		got := recv(t, ch)
		req.Equal(EventMessageCreated, got.Type)
		req.Equal("lobby", got.RoomID)

		var payload map[string]string
		req.NoError(got.UnmarshalPayload(&payload))
		req.Equal("hi", payload["content"])
	}
}

func TestMemoryPubSub_PreservesPublishOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	ps := NewMemoryPubSub()
	channel := RoomChannel("ordered")
	ch, err := ps.Subscribe(ctx, channel)
	req.NoError(err)

	const n = 250
	go func() {
		for i := 0; i < n; i++ {
			ev, _ := NewEvent(EventMessageCreated, "ordered", i)
			_ = ps.Publish(ctx, channel, ev)
		}
	}()

	for i := 0; i < n; i++ {
		var got int
		req.NoError(recv(t, ch).UnmarshalPayload(&got))
		req.Equal(i, got)
	}
}

func TestMemoryPubSub_UnsubscribeClosesChannel(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	ps := NewMemoryPubSub()
	channel := RoomChannel("gone")
	ch, err := ps.Subscribe(ctx, channel)
	req.NoError(err)

	req.NoError(ps.Unsubscribe(ctx, channel))

	select {
	case _, ok := <-ch:
		req.False(ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	ev, err := NewEvent(EventMessageCreated, "gone", "x")
	req.NoError(err)
	req.NoError(ps.Publish(ctx, channel, ev))
	req.NoError(ps.Unsubscribe(ctx, channel))
}

func TestMemoryPubSub_OtherChannelsIsolated(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	ps := NewMemoryPubSub()
	chA, err := ps.Subscribe(ctx, RoomChannel("a"))
	req.NoError(err)

	ev, err := NewEvent(EventMessageCreated, "b", "for b")
	req.NoError(err)
	req.NoError(ps.Publish(ctx, RoomChannel("b"), ev))

	select {
	case e := <-chA:
		t.Fatalf("unexpected event on room a: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPubSub_Close(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	ps := NewMemoryPubSub()
	ch, err := ps.Subscribe(ctx, RoomChannel("r"))
	req.NoError(err)

	req.NoError(ps.Close())
	req.NoError(ps.Close())

	_, ok := <-ch
	req.False(ok)

	req.ErrorIs(ps.Ping(ctx), ErrClosed)
	_, err = ps.Subscribe(ctx, RoomChannel("r"))
	req.ErrorIs(err, ErrClosed)
}

func TestRoomFromChannel(t *testing.T) {
	tests := []struct {
		channel string
		room    string
		ok      bool
	}{
		{RoomChannel("general"), "general", true},
		{"chat:room:", "", false},
		{"presence:room:x", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			room, ok := RoomFromChannel(tt.channel)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.room, room)
		})
	}
}
