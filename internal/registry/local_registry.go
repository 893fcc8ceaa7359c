package registry

import (
	"context"
	"sync"
)

// LocalRegistry only knows about this instance. It backs single-instance
// deployments where no shared registry is configured.
type LocalRegistry struct {
	instanceID string

	mu    sync.RWMutex
	rooms map[string]struct{}
}

func NewLocalRegistry(instanceID string) *LocalRegistry {
	return &LocalRegistry{instanceID: instanceID, rooms: make(map[string]struct{})}
}

func (r *LocalRegistry) RoomActive(_ context.Context, room string) {
	r.mu.Lock()
	r.rooms[room] = struct{}{}
	r.mu.Unlock()
}

func (r *LocalRegistry) RoomInactive(_ context.Context, room string) {
	r.mu.Lock()
	delete(r.rooms, room)
	r.mu.Unlock()
}

func (r *LocalRegistry) Instances(_ context.Context, room string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.rooms[room]; !ok {
		return []string{}, nil
	}
	return []string{r.instanceID}, nil
}

func (r *LocalRegistry) StartHeartbeat(context.Context) error { return nil }

func (r *LocalRegistry) StopHeartbeat() {}

func (r *LocalRegistry) Close() error { return nil }
