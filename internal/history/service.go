package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-chat/internal/cache"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/pkg/log"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ClampLimit applies the default for non-positive limits and caps the rest.
func ClampLimit(limit int) int {
	switch {
	case limit < 1:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Service reads the most recent messages of a room.
type Service struct {
	repo     repository.MessageRepository
	cache    cache.MessageCache
	cacheTTL time.Duration
	sf       singleflight.Group
}

func NewService(repo repository.MessageRepository, msgCache cache.MessageCache, cacheTTL time.Duration) *Service {
	if msgCache == nil {
		msgCache = cache.NopMessageCache{}
	}
	return &Service{repo: repo, cache: msgCache, cacheTTL: cacheTTL}
}

// Recent returns up to limit newest messages of room in chronological
// order. Concurrent reads of the same page share one store query.
func (s *Service) Recent(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	limit = ClampLimit(limit)
	key := fmt.Sprintf("%s:%d", room, limit)

	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fetchWithCache(ctx, room, limit)
	})
	if err != nil {
		return nil, err
	}

	messages, ok := result.([]domain.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return append([]domain.Message(nil), messages...), nil
}

func (s *Service) fetchWithCache(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	cached, err := s.cache.Get(ctx, room, limit)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Str(log.FieldRoom, room).Msg("cache get error")
	}

	// The version is read before the store so a write landing during the
	// query keeps this page out of the cache.
	cacheable := s.cacheTTL > 0
	var version int64
	if cacheable {
		if version, err = s.cache.Version(ctx, room); err != nil {
			l.Warn().Err(err).Str(log.FieldRoom, room).Msg("cache version error")
			cacheable = false
		}
	}

	messages, err := s.repo.Recent(ctx, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages from repository: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	if cacheable {
		if err := s.cache.Set(ctx, room, limit, version, messages, s.cacheTTL); err != nil {
			l.Warn().Err(err).Str(log.FieldRoom, room).Msg("cache set error")
		}
	}
	return messages, nil
}
