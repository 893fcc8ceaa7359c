package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-chat/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// MessageCache holds recent-history pages per room and limit. Each room
// carries a version that Invalidate bumps; a page read from the store is
// only stored if the version seen before the read is still current.
type MessageCache interface {
	Get(ctx context.Context, room string, limit int) ([]domain.Message, error)
	Version(ctx context.Context, room string) (int64, error)
	// Set stores a page read at version. It is a no-op once the room has
	// been invalidated since.
	Set(ctx context.Context, room string, limit int, version int64, messages []domain.Message, ttl time.Duration) error
	// Invalidate drops every cached page of room and bumps its version.
	Invalidate(ctx context.Context, room string) error
	Close() error
}
