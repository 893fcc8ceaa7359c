package registry

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var (
	_ Registry = (*RedisRegistry)(nil)
	_ Registry = (*LocalRegistry)(nil)
)

func TestLocalRegistry(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewLocalRegistry("gw-1")

	ids, err := r.Instances(ctx, "general")
	req.NoError(err)
	req.Empty(ids)

	r.RoomActive(ctx, "general")
	ids, err = r.Instances(ctx, "general")
	req.NoError(err)
	req.Equal([]string{"gw-1"}, ids)

	ids, err = r.Instances(ctx, "other")
	req.NoError(err)
	req.Empty(ids)

	r.RoomInactive(ctx, "general")
	ids, err = r.Instances(ctx, "general")
	req.NoError(err)
	req.Empty(ids)

	req.NoError(r.StartHeartbeat(ctx))
	r.StopHeartbeat()
	req.NoError(r.Close())
}

func TestRedisRegistry_Keys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	r := NewRedisRegistry(client, "gw-1", "chat:registry", time.Minute, 10*time.Second)

	require.Equal(t, "chat:registry:room:general:instance:", r.roomPrefix("general"))
	require.Equal(t, "chat:registry:room:general:instance:gw-1", r.keyFor("general"))
	require.NoError(t, r.Close())
}
