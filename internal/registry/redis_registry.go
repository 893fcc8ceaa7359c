package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/weiawesome/wes-chat/pkg/log"
)

// RedisRegistry keeps one expiring key per (room, instance). A heartbeat
// refreshes the keys of the rooms this instance still holds, so a crashed
// instance disappears once its keys expire.
type RedisRegistry struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration

	mu     sync.RWMutex
	rooms  map[string]struct{}
	cancel context.CancelFunc
}

// NewRedisRegistry uses client, which stays owned by the caller.
func NewRedisRegistry(client *redis.Client, instanceID, prefix string, keyTTL, heartbeatInterval time.Duration) *RedisRegistry {
	return &RedisRegistry{
		client:            client,
		instanceID:        instanceID,
		prefix:            prefix,
		keyTTL:            keyTTL,
		heartbeatInterval: heartbeatInterval,
		rooms:             make(map[string]struct{}),
	}
}

func (r *RedisRegistry) roomPrefix(room string) string {
	return fmt.Sprintf("%s:room:%s:instance:", r.prefix, room)
}

func (r *RedisRegistry) keyFor(room string) string {
	return r.roomPrefix(room) + r.instanceID
}

func (r *RedisRegistry) RoomActive(ctx context.Context, room string) {
	r.mu.Lock()
	r.rooms[room] = struct{}{}
	r.mu.Unlock()

	l := log.Ctx(ctx)
	if err := r.client.Set(ctx, r.keyFor(room), time.Now().UTC().Format(time.RFC3339), r.keyTTL).Err(); err != nil {
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to register room")
		return
	}
	l.Debug().Str(log.FieldRoom, room).Msg("registered room")
}

func (r *RedisRegistry) RoomInactive(ctx context.Context, room string) {
	r.mu.Lock()
	delete(r.rooms, room)
	r.mu.Unlock()

	l := log.Ctx(ctx)
	if err := r.client.Del(ctx, r.keyFor(room)).Err(); err != nil {
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to deregister room")
		return
	}
	l.Debug().Str(log.FieldRoom, room).Msg("deregistered room")
}

// Instances scans the live keys of room and returns the instance ids.
func (r *RedisRegistry) Instances(ctx context.Context, room string) ([]string, error) {
	prefix := r.roomPrefix(room)
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan room instances: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisRegistry) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("registry heartbeat started")
	return nil
}

func (r *RedisRegistry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	rooms := lo.Keys(r.rooms)
	r.mu.RUnlock()

	if len(rooms) == 0 {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, room := range rooms {
			pipe.Set(ctx, r.keyFor(room), now, r.keyTTL)
		}
		return nil
	})
	if err != nil {
		l := log.L()
		l.Error().Err(err).Int("rooms", len(rooms)).Msg("failed to refresh registry keys")
	}
}

func (r *RedisRegistry) StopHeartbeat() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops the heartbeat and removes this instance's keys.
func (r *RedisRegistry) Close() error {
	r.StopHeartbeat()

	r.mu.Lock()
	keys := lo.Map(lo.Keys(r.rooms), func(room string, _ int) string {
		return r.keyFor(room)
	})
	r.rooms = make(map[string]struct{})
	r.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Del(ctx, keys...).Err()
}
