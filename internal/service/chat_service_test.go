package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat/internal/bus"
	"github.com/weiawesome/wes-chat/internal/cache"
	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/health"
	"github.com/weiawesome/wes-chat/internal/history"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/idgen"
	"github.com/weiawesome/wes-chat/internal/persist"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
)

const (
	maxLen       = 20
	frameTimeout = 2 * time.Second
	quietPeriod  = 100 * time.Millisecond
)

var wsConfig = config.WebSocketConfig{SendBuffer: 256, InboundBuffer: 64}

// frame is the union of every outbound frame shape.
type frame struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	Code         string `json:"code"`
	Room         string `json:"room"`
	ID           string `json:"id"`
	SenderHandle string `json:"sender_handle"`
	Content      string `json:"content"`
	CreatedAt    string `json:"created_at"`
}

type node struct {
	svc     *ChatService
	bus     *trackingBus
	monitor *health.Monitor
}

// trackingBus records which rooms hold a live subscription.
type trackingBus struct {
	*bus.Bus
	mu     sync.Mutex
	active map[string]bool
}

func newTrackingBus(t *testing.T, broker *pubsub.MemoryBroker, instanceID string) *trackingBus {
	t.Helper()
	b := &trackingBus{Bus: bus.New(broker.NewClient(), instanceID), active: make(map[string]bool)}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func (b *trackingBus) Subscribe(ctx context.Context, room string, handler bus.Handler) error {
	if err := b.Bus.Subscribe(ctx, room, handler); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[room] = true
	return nil
}

func (b *trackingBus) Unsubscribe(ctx context.Context, room string) error {
	b.mu.Lock()
	delete(b.active, room)
	b.mu.Unlock()
	return b.Bus.Unsubscribe(ctx, room)
}

func (b *trackingBus) subscribed(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[room]
}

func newStore(t *testing.T) *repository.GormMessageRepository {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:       database.DriverSQLite,
		FilePath:     "file::memory:",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	repo := repository.NewGormMessageRepository(db, idgen.NewUUIDGenerator())
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newNode(t *testing.T, broker *pubsub.MemoryBroker, instanceID string, writer MessageWriter) *node {
	t.Helper()
	b := newTrackingBus(t, broker, instanceID)
	monitor := health.NewMonitor("chat-gateway", time.Second)
	return &node{
		svc:     NewChatService(hub.NewHub(), b, writer, monitor, nil, maxLen),
		bus:     b,
		monitor: monitor,
	}
}

func (n *node) connect(t *testing.T, id, handle string) *hub.Client {
	t.Helper()
	session := domain.NewSession(id, &domain.Identity{UserID: "u-" + id, Handle: handle})
	c := hub.NewClient(context.Background(), nil, session, wsConfig)
	n.svc.HandleConnect(c.Context(), c)

	greeting := nextFrame(t, c)
	require.Equal(t, domain.MsgTypeSystem, greeting.Type)
	require.Equal(t, "Connected as "+handle, greeting.Message)
	return c
}

func (n *node) do(c *hub.Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	n.svc.HandleFrame(c.Context(), c, data)
}

func (n *node) join(t *testing.T, c *hub.Client, room string) {
	t.Helper()
	n.do(c, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, Room: room})
	ack := nextFrame(t, c)
	require.Equal(t, "Joined room: "+room, ack.Message)
	require.Equal(t, room, ack.Room)
}

func (n *node) sendText(c *hub.Client, room, content string) {
	n.do(c, domain.SendMessageMessage{Type: domain.MsgTypeSendMessage, Room: room, Content: content})
}

func nextFrame(t *testing.T, c *hub.Client) frame {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "outbound queue closed")
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(frameTimeout):
		t.Fatalf("no frame for %s", c.ID)
		return frame{}
	}
}

func requireQuiet(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.ID, data)
		}
	case <-time.After(quietPeriod):
	}
}

type stubWriter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (w *stubWriter) Persist(_ context.Context, room string, sender *domain.Identity, content string) (*domain.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, w.err)
	}
	return &domain.Message{
		ID:           fmt.Sprintf("m%d", w.calls),
		Room:         room,
		SenderID:     sender.UserID,
		SenderHandle: sender.Handle,
		Content:      content,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// failingPublishBus subscribes normally but never publishes.
type failingPublishBus struct {
	*trackingBus
	published int
}

func (b *failingPublishBus) Publish(context.Context, string, *domain.Message) error {
	b.published++
	return fmt.Errorf("%w: broker unreachable", domain.ErrDeliveryFailure)
}

func TestChatService_TwoProcessesShareRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	broker := pubsub.NewMemoryBroker()
	store := newStore(t)
	msgCache := cache.NewMemoryMessageCache()

	a := newNode(t, broker, "gw-a", persist.NewWriter(store, msgCache, nil))
	b := newNode(t, broker, "gw-b", persist.NewWriter(store, msgCache, nil))

	s1 := a.connect(t, "s1", "alice@example.com")
	s2 := b.connect(t, "s2", "bob@example.com")

	a.join(t, s1, "general")
	b.join(t, s2, "general")
	// Join notices stay on the joining process.
	requireQuiet(t, s1)

	a.sendText(s1, "general", "  hello  ")

	got1 := nextFrame(t, s1)
	got2 := nextFrame(t, s2)
	for _, f := range []frame{got1, got2} {
		req.Equal(domain.MsgTypeMessage, f.Type)
		req.Equal("general", f.Room)
		req.Equal("alice@example.com", f.SenderHandle)
		req.Equal("hello", f.Content)
		req.True(strings.HasSuffix(f.CreatedAt, "Z"))
	}
	req.Equal(got1.ID, got2.ID)

	b.sendText(s2, "general", "hi alice")
	req.Equal("hi alice", nextFrame(t, s1).Content)
	req.Equal("hi alice", nextFrame(t, s2).Content)

	hist := history.NewService(store, msgCache, time.Minute)
	msgs, err := hist.Recent(ctx, "general", 0)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(got1.ID, msgs[0].ID)
	req.Equal("hello", msgs[0].Content)
	req.Equal("hi alice", msgs[1].Content)
}

func TestChatService_JoinNoticesAreLocal(t *testing.T) {
	req := require.New(t)
	n := newNode(t, pubsub.NewMemoryBroker(), "gw-a", &stubWriter{})

	s1 := n.connect(t, "s1", "alice@example.com")
	s3 := n.connect(t, "s3", "carol@example.com")
	n.join(t, s1, "general")
	n.join(t, s3, "general")

	notice := nextFrame(t, s1)
	req.Equal(domain.MsgTypeSystem, notice.Type)
	req.Equal("carol@example.com joined general", notice.Message)

	// A repeated join is acknowledged without a second notice.
	n.join(t, s3, "general")
	requireQuiet(t, s1)
	req.Equal(2, n.svc.Directory().Count("general"))
	req.True(n.bus.subscribed("general"))
}

func TestChatService_RejectsInvalidInput(t *testing.T) {
	n := newNode(t, pubsub.NewMemoryBroker(), "gw-a", &stubWriter{})
	s1 := n.connect(t, "s1", "alice@example.com")

	tests := []struct {
		name  string
		frame interface{}
		code  string
		text  string
	}{
		{
			name:  "bad room on join",
			frame: domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, Room: "no spaces"},
			code:  domain.CodeInvalidPayload,
			text:  domain.NoticeInvalidRoom,
		},
		{
			name:  "room too long",
			frame: domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, Room: strings.Repeat("r", 65)},
			code:  domain.CodeInvalidPayload,
			text:  domain.NoticeInvalidRoom,
		},
		{
			name:  "bad room on leave",
			frame: domain.LeaveRoomMessage{Type: domain.MsgTypeLeaveRoom, Room: ""},
			code:  domain.CodeInvalidPayload,
			text:  domain.NoticeInvalidRoom,
		},
		{
			name:  "blank content",
			frame: domain.SendMessageMessage{Type: domain.MsgTypeSendMessage, Room: "general", Content: "   "},
			code:  domain.CodeInvalidPayload,
			text:  domain.NoticeInvalidMessage,
		},
		{
			name:  "content too long",
			frame: domain.SendMessageMessage{Type: domain.MsgTypeSendMessage, Room: "general", Content: strings.Repeat("x", maxLen+1)},
			code:  domain.CodeInvalidPayload,
			text:  domain.NoticeInvalidMessage,
		},
		{
			name:  "bad room on send",
			frame: domain.SendMessageMessage{Type: domain.MsgTypeSendMessage, Room: "a/b", Content: "hi"},
			code:  domain.CodeInvalidPayload,
			text:  domain.NoticeInvalidMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n.do(s1, tt.frame)
			f := nextFrame(t, s1)
			require.Equal(t, domain.MsgTypeSystem, f.Type)
			require.Equal(t, tt.code, f.Code)
			require.Equal(t, tt.text, f.Message)
		})
	}
	require.Empty(t, s1.Session.Rooms())
}

func TestChatService_PingAndUnknownFrames(t *testing.T) {
	req := require.New(t)
	n := newNode(t, pubsub.NewMemoryBroker(), "gw-a", &stubWriter{})
	s1 := n.connect(t, "s1", "alice@example.com")

	n.do(s1, domain.BaseMessage{Type: domain.MsgTypePing})
	req.Equal(domain.MsgTypePong, nextFrame(t, s1).Type)

	n.do(s1, domain.BaseMessage{Type: "dance"})
	f := nextFrame(t, s1)
	req.Equal(domain.MsgTypeError, f.Type)
	req.Equal(domain.CodeBadRequest, f.Code)

	n.svc.HandleFrame(s1.Context(), s1, []byte("{not json"))
	f = nextFrame(t, s1)
	req.Equal(domain.MsgTypeError, f.Type)
	req.Equal(domain.CodeBadRequest, f.Code)
}

func TestChatService_PersistFailureIsNotBroadcast(t *testing.T) {
	req := require.New(t)
	broker := pubsub.NewMemoryBroker()
	writer := &stubWriter{err: errors.New("disk full")}
	n := newNode(t, broker, "gw-a", writer)
	other := newNode(t, broker, "gw-b", writer)

	s1 := n.connect(t, "s1", "alice@example.com")
	s2 := other.connect(t, "s2", "bob@example.com")
	n.join(t, s1, "general")
	other.join(t, s2, "general")

	n.sendText(s1, "general", "lost")

	f := nextFrame(t, s1)
	req.Equal(domain.MsgTypeSystem, f.Type)
	req.Equal(domain.CodePersistenceFailure, f.Code)
	req.Equal(domain.NoticeSaveFailed, f.Message)
	requireQuiet(t, s1)
	requireQuiet(t, s2)
}

func TestChatService_PublishFailureDegradesBus(t *testing.T) {
	req := require.New(t)
	broker := pubsub.NewMemoryBroker()
	b := &failingPublishBus{trackingBus: newTrackingBus(t, broker, "gw-a")}
	writer := &stubWriter{}
	monitor := health.NewMonitor("chat-gateway", time.Second)
	svc := NewChatService(hub.NewHub(), b, writer, monitor, nil, maxLen)
	n := &node{svc: svc, bus: b.trackingBus, monitor: monitor}

	s1 := n.connect(t, "s1", "alice@example.com")
	n.join(t, s1, "general")
	n.sendText(s1, "general", "hello")

	req.Equal(1, writer.calls)
	req.Equal(1, b.published)
	req.False(monitor.Healthy(health.ComponentBus))
	// No optimistic echo and no notice to the sender.
	requireQuiet(t, s1)
}

func TestChatService_SessionOrdering(t *testing.T) {
	req := require.New(t)
	broker := pubsub.NewMemoryBroker()
	store := newStore(t)
	a := newNode(t, broker, "gw-a", persist.NewWriter(store, nil, nil))
	b := newNode(t, broker, "gw-b", persist.NewWriter(store, nil, nil))

	s1 := a.connect(t, "s1", "alice@example.com")
	s2 := b.connect(t, "s2", "bob@example.com")
	b.join(t, s2, "general")

	// Frames go through the client's own dispatcher.
	go s1.Dispatch(a.svc.HandleFrame)
	defer s1.Stop()

	const count = 50
	for i := 0; i < count; i++ {
		data, err := json.Marshal(domain.SendMessageMessage{
			Type:    domain.MsgTypeSendMessage,
			Room:    "general",
			Content: fmt.Sprintf("m%02d", i),
		})
		req.NoError(err)
		req.True(s1.Receive(data))
	}

	for i := 0; i < count; i++ {
		f := nextFrame(t, s2)
		req.Equal(fmt.Sprintf("m%02d", i), f.Content)
	}

	msgs, err := store.Recent(context.Background(), "general", count)
	req.NoError(err)
	req.Len(msgs, count)
	for i, m := range msgs {
		req.Equal(fmt.Sprintf("m%02d", i), m.Content)
	}
}

func TestChatService_SendWithoutMembership(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	n := newNode(t, pubsub.NewMemoryBroker(), "gw-a", persist.NewWriter(store, nil, nil))
	s1 := n.connect(t, "s1", "alice@example.com")

	n.sendText(s1, "quiet", "anyone?")
	requireQuiet(t, s1)

	msgs, err := store.Recent(context.Background(), "quiet", 10)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("anyone?", msgs[0].Content)
	req.False(n.bus.subscribed("quiet"))
}

func TestChatService_LeaveRoom(t *testing.T) {
	req := require.New(t)
	n := newNode(t, pubsub.NewMemoryBroker(), "gw-a", &stubWriter{})
	s1 := n.connect(t, "s1", "alice@example.com")
	s2 := n.connect(t, "s2", "bob@example.com")
	n.join(t, s1, "general")
	n.join(t, s2, "general")
	nextFrame(t, s1) // bob joined

	n.do(s2, domain.LeaveRoomMessage{Type: domain.MsgTypeLeaveRoom, Room: "general"})
	req.Equal("Left room: general", nextFrame(t, s2).Message)
	req.Equal("bob@example.com left general", nextFrame(t, s1).Message)
	req.True(n.bus.subscribed("general"))

	n.do(s1, domain.LeaveRoomMessage{Type: domain.MsgTypeLeaveRoom, Room: "general"})
	req.Equal("Left room: general", nextFrame(t, s1).Message)
	req.False(n.bus.subscribed("general"))
	req.Zero(n.svc.Directory().Count("general"))
}

func TestChatService_Disconnect(t *testing.T) {
	req := require.New(t)
	broker := pubsub.NewMemoryBroker()
	writer := &stubWriter{}
	n := newNode(t, broker, "gw-a", writer)

	s1 := n.connect(t, "s1", "alice@example.com")
	s2 := n.connect(t, "s2", "bob@example.com")
	n.join(t, s1, "general")
	n.join(t, s1, "random")
	n.join(t, s2, "general")
	nextFrame(t, s1) // bob joined

	s2.Stop()
	n.svc.HandleDisconnect(context.Background(), s2)

	req.Equal("bob@example.com left general", nextFrame(t, s1).Message)
	req.True(s2.Session.IsClosed())
	req.Equal(1, n.svc.Directory().Count("general"))

	_, ok := <-s2.Send
	req.False(ok, "outbound queue should be closed")

	// Frames handled after disconnect produce nothing and join nothing.
	n.do(s2, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, Room: "other"})
	req.Zero(n.svc.Directory().Count("other"))

	n.svc.HandleDisconnect(context.Background(), s1)
	req.Empty(n.svc.Directory().Rooms())
	req.False(n.bus.subscribed("general"))
	req.False(n.bus.subscribed("random"))
}

func TestChatService_MessageFromClosedSessionStillPublished(t *testing.T) {
	req := require.New(t)
	writer := &stubWriter{}
	n := newNode(t, pubsub.NewMemoryBroker(), "gw-a", writer)

	s1 := n.connect(t, "s1", "alice@example.com")
	s2 := n.connect(t, "s2", "bob@example.com")
	n.join(t, s2, "general")

	// The session closes while its frame is still queued.
	s1.Session.Close()
	n.sendText(s1, "general", "last words")

	f := nextFrame(t, s2)
	req.Equal(domain.MsgTypeMessage, f.Type)
	req.Equal("last words", f.Content)
	requireQuiet(t, s1)
	req.Equal(1, writer.calls)
}

func TestChatService_JoinFromStoppedClientKeepsBusHealthy(t *testing.T) {
	req := require.New(t)
	n := newNode(t, pubsub.NewMemoryBroker(), "gw-a", &stubWriter{})
	s1 := n.connect(t, "s1", "alice@example.com")

	// The read pump has already stopped the client when its last queued
	// join is handled.
	s1.Stop()
	n.do(s1, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, Room: "general"})

	req.True(n.monitor.Healthy(health.ComponentBus))
	req.True(n.bus.subscribed("general"))
	req.Equal(1, n.svc.Directory().Count("general"))

	n.svc.HandleDisconnect(context.Background(), s1)
	req.False(n.bus.subscribed("general"))
	req.Zero(n.svc.Directory().Count("general"))
	req.True(n.monitor.Healthy(health.ComponentBus))
}
