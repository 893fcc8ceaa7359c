// Package registry records which gateway instances currently hold local
// members of a room.
package registry

import "context"

// Registry is told by the room directory when this instance starts or
// stops holding members of a room.
type Registry interface {
	RoomActive(ctx context.Context, room string)
	RoomInactive(ctx context.Context, room string)
	Instances(ctx context.Context, room string) ([]string, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
