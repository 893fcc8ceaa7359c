package cache

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-chat/internal/domain"
)

type memoryEntry struct {
	pages     map[int][]domain.Message
	expiresAt time.Time
}

// MemoryMessageCache is a process-local MessageCache for single-instance
// deployments.
type MemoryMessageCache struct {
	mu       sync.Mutex
	rooms    map[string]*memoryEntry
	versions map[string]int64
	now      func() time.Time
}

func NewMemoryMessageCache() *MemoryMessageCache {
	return &MemoryMessageCache{
		rooms:    make(map[string]*memoryEntry),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

func (c *MemoryMessageCache) Get(_ context.Context, room string, limit int) ([]domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.rooms[room]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.rooms, room)
		return nil, ErrCacheMiss
	}
	page, ok := e.pages[limit]
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]domain.Message(nil), page...), nil
}

func (c *MemoryMessageCache) Version(_ context.Context, room string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[room], nil
}

func (c *MemoryMessageCache) Set(_ context.Context, room string, limit int, version int64, messages []domain.Message, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.versions[room] != version {
		return nil
	}

	e, ok := c.rooms[room]
	if !ok || !c.now().Before(e.expiresAt) {
		e = &memoryEntry{pages: make(map[int][]domain.Message)}
		c.rooms[room] = e
	}
	e.pages[limit] = append([]domain.Message(nil), messages...)
	e.expiresAt = c.now().Add(ttl)
	return nil
}

func (c *MemoryMessageCache) Invalidate(_ context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[room]++
	delete(c.rooms, room)
	return nil
}

func (c *MemoryMessageCache) Close() error {
	return nil
}

// NopMessageCache never stores anything.
type NopMessageCache struct{}

func (NopMessageCache) Get(context.Context, string, int) ([]domain.Message, error) {
	return nil, ErrCacheMiss
}

func (NopMessageCache) Version(context.Context, string) (int64, error) { return 0, nil }

func (NopMessageCache) Set(context.Context, string, int, int64, []domain.Message, time.Duration) error {
	return nil
}

func (NopMessageCache) Invalidate(context.Context, string) error { return nil }

func (NopMessageCache) Close() error { return nil }
