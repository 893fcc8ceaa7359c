package hub

import (
	"errors"
	"sync"

	"github.com/weiawesome/wes-chat/pkg/log"
)

var errSendDropped = errors.New("outbound queue full or closed")

// Hub tracks the clients connected to this process.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldSessionID, client.ID).Msg("client registered")
}

// Unregister forgets the client and closes its outbound queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	client.closeSend()

	l := log.L()
	l.Debug().Str(log.FieldSessionID, client.ID).Msg("client unregistered")
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown stops every client. Their read pumps then run the normal
// disconnect path.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Stop()
		if c.Conn != nil {
			c.Conn.Close()
		}
	}
}
