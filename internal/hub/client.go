package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// FrameHandler processes one inbound frame of a client.
type FrameHandler func(ctx context.Context, c *Client, frame []byte)

// Client is one WebSocket connection. Inbound frames are queued and
// handled by a single dispatcher goroutine, so a session's events are
// processed strictly in arrival order.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Session *domain.Session
	Send    chan []byte

	inbound chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	config  config.WebSocketConfig

	sendMu     sync.Mutex
	sendClosed bool
	stopOnce   sync.Once
}

// NewClient creates a client for session. conn may be nil when the client
// is driven without a network connection.
func NewClient(ctx context.Context, conn *websocket.Conn, session *domain.Session, cfg config.WebSocketConfig) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		ID:      session.ID,
		Conn:    conn,
		Session: session,
		Send:    make(chan []byte, cfg.SendBuffer),
		inbound: make(chan []byte, cfg.InboundBuffer),
		ctx:     ctx,
		cancel:  cancel,
		config:  cfg,
	}
}

// Context is cancelled when the connection goes away.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Receive queues an inbound frame. It blocks while the queue is full and
// reports false once the client is stopped.
func (c *Client) Receive(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.inbound <- frame:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Stop cancels the client context. Queued frames are discarded.
func (c *Client) Stop() {
	c.stopOnce.Do(c.cancel)
}

// Dispatch handles queued frames one at a time until the client stops.
func (c *Client) Dispatch(handle FrameHandler) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.inbound:
			c.handleSafely(handle, frame)
		}
	}
}

func (c *Client) handleSafely(handle FrameHandler, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			l := log.Ctx(c.ctx)
			l.Error().Interface("panic", r).Msg("frame handler panicked")
		}
	}()
	handle(c.ctx, c, frame)
}

// Enqueue hands a frame to the write pump without blocking. It reports
// false when the client is closed or its queue is full.
func (c *Client) Enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// SendMessage marshals message and enqueues it.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.Enqueue(data) {
		return fmt.Errorf("client %s: %w", c.ID, errSendDropped)
	}
	return nil
}

// closeSend ends the write pump. Later Enqueue calls are no-ops.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

// ReadPump reads frames until the connection fails, then stops the client.
func (c *Client) ReadPump() {
	defer c.Stop()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := log.Ctx(c.ctx)
				l.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		if !c.Receive(message) {
			return
		}
	}
}

// WritePump writes queued frames and keepalive pings until Send closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Stop()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Stop()
				return
			}
		}
	}
}
