package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/weiawesome/wes-chat/internal/bus"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// RoomBus is the part of the broadcast bus the directory drives.
type RoomBus interface {
	Subscribe(ctx context.Context, room string, handler bus.Handler) error
	Unsubscribe(ctx context.Context, room string) error
}

// RoomObserver is told when this process starts or stops holding members
// of a room.
type RoomObserver interface {
	RoomActive(ctx context.Context, room string)
	RoomInactive(ctx context.Context, room string)
}

// roomEntry serializes membership changes of one room. op is held across
// the bus call that goes with the first join or last leave; members has
// its own lock so fan-out never waits on the bus.
type roomEntry struct {
	op         sync.Mutex
	subscribed bool

	membersMu sync.RWMutex
	members   map[*Client]struct{}

	// refs counts in-flight operations; guarded by Directory.mu.
	refs int
}

func (e *roomEntry) size() int {
	e.membersMu.RLock()
	defer e.membersMu.RUnlock()
	return len(e.members)
}

func (e *roomEntry) has(c *Client) bool {
	e.membersMu.RLock()
	defer e.membersMu.RUnlock()
	_, ok := e.members[c]
	return ok
}

// Directory maps rooms to the local clients that joined them and keeps a
// bus subscription for exactly the rooms with at least one local member.
type Directory struct {
	bus      RoomBus
	handler  bus.Handler
	observer RoomObserver

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

// NewDirectory creates a directory that subscribes rooms on b and routes
// their events to handler. observer may be nil.
func NewDirectory(b RoomBus, handler bus.Handler, observer RoomObserver) *Directory {
	return &Directory{
		bus:      b,
		handler:  handler,
		observer: observer,
		rooms:    make(map[string]*roomEntry),
	}
}

func (d *Directory) acquire(room string) *roomEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.rooms[room]
	if !ok {
		e = &roomEntry{members: make(map[*Client]struct{})}
		d.rooms[room] = e
	}
	e.refs++
	return e
}

func (d *Directory) release(room string, e *roomEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.size() == 0 {
		delete(d.rooms, room)
	}
}

// Join adds the membership edge (c, room). The first local member
// subscribes the room on the bus; if that fails no edge is created and the
// error wraps domain.ErrDeliveryFailure. Join reports false for an
// existing edge and fails with domain.ErrSessionClosed after disconnect.
// Bus calls outlive ctx so a disconnect mid-join cannot fail the subscribe.
func (d *Directory) Join(ctx context.Context, c *Client, room string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	e := d.acquire(room)
	defer d.release(room, e)

	e.op.Lock()
	defer e.op.Unlock()

	if e.has(c) {
		return false, nil
	}

	if _, err := c.Session.AddRoom(room); err != nil {
		return false, err
	}

	if !e.subscribed {
		if err := d.bus.Subscribe(ctx, room, d.handler); err != nil {
			c.Session.RemoveRoom(room)
			return false, fmt.Errorf("join %s: %w", room, err)
		}
		e.subscribed = true
		if d.observer != nil {
			d.observer.RoomActive(ctx, room)
		}
	}

	e.membersMu.Lock()
	e.members[c] = struct{}{}
	e.membersMu.Unlock()
	return true, nil
}

// Leave removes the edge (c, room). The last local member unsubscribes
// the room. Leave reports false when there was no edge.
func (d *Directory) Leave(ctx context.Context, c *Client, room string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	e := d.acquire(room)
	defer d.release(room, e)

	e.op.Lock()
	defer e.op.Unlock()

	c.Session.RemoveRoom(room)
	if !e.has(c) {
		return false, nil
	}

	e.membersMu.Lock()
	delete(e.members, c)
	remaining := len(e.members)
	e.membersMu.Unlock()

	if remaining == 0 && e.subscribed {
		e.subscribed = false
		if d.observer != nil {
			d.observer.RoomInactive(ctx, room)
		}
		if err := d.bus.Unsubscribe(ctx, room); err != nil {
			return true, fmt.Errorf("leave %s: %w", room, err)
		}
	}
	return true, nil
}

// LeaveAll closes the client's session and releases every edge it held.
// It returns the rooms that were left.
func (d *Directory) LeaveAll(ctx context.Context, c *Client) []string {
	rooms := c.Session.Close()
	left := make([]string, 0, len(rooms))
	for _, room := range rooms {
		ok, err := d.Leave(ctx, c, room)
		if err != nil {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to release room subscription")
		}
		if ok {
			left = append(left, room)
		}
	}
	return left
}

// LocalMembers returns the clients of this process that joined room.
func (d *Directory) LocalMembers(room string) []*Client {
	d.mu.Lock()
	e, ok := d.rooms[room]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	e.membersMu.RLock()
	defer e.membersMu.RUnlock()
	out := make([]*Client, 0, len(e.members))
	for c := range e.members {
		out = append(out, c)
	}
	return out
}

// Count returns the number of local members of room.
func (d *Directory) Count(room string) int {
	d.mu.Lock()
	e, ok := d.rooms[room]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return e.size()
}

// Rooms lists the rooms with at least one local member.
func (d *Directory) Rooms() []string {
	d.mu.Lock()
	entries := make(map[string]*roomEntry, len(d.rooms))
	for room, e := range d.rooms {
		entries[room] = e
	}
	d.mu.Unlock()

	out := make([]string, 0, len(entries))
	for room, e := range entries {
		if e.size() > 0 {
			out = append(out, room)
		}
	}
	sort.Strings(out)
	return out
}
