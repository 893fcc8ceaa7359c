package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// errStaleVersion aborts a Set whose page predates an invalidation.
var errStaleVersion = errors.New("stale cache version")

// RedisMessageCache keeps one hash per room, one field per page limit, so a
// single DEL invalidates the whole room. The room version lives in its own
// key so it survives that DEL.
type RedisMessageCache struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageCache(client *redis.Client, prefix string) *RedisMessageCache {
	return &RedisMessageCache{client: client, prefix: prefix}
}

func (c *RedisMessageCache) key(room string) string {
	return fmt.Sprintf("%s:%s", c.prefix, room)
}

// versionKey cannot collide with key: room names never contain '#'.
func (c *RedisMessageCache) versionKey(room string) string {
	return fmt.Sprintf("%s:%s#version", c.prefix, room)
}

func (c *RedisMessageCache) Get(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	data, err := c.client.HGet(ctx, c.key(room), strconv.Itoa(limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return messages, nil
}

func (c *RedisMessageCache) Version(ctx context.Context, room string) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey(room)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read cache version of %s: %w", room, err)
	}
	return version, nil
}

// Set writes the page under WATCH of the room version, so an Invalidate
// racing with it wins.
func (c *RedisMessageCache) Set(ctx context.Context, room string, limit int, version int64, messages []domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	key, verKey := c.key(room), c.versionKey(room)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, strconv.Itoa(limit), data)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		return err
	}, verKey)
	if errors.Is(err, errStaleVersion) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisMessageCache) Invalidate(ctx context.Context, room string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.versionKey(room))
		pipe.Del(ctx, c.key(room))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", room, err)
	}
	return nil
}

// Close is a no-op; the client is shared and closed by its owner.
func (c *RedisMessageCache) Close() error {
	return nil
}
