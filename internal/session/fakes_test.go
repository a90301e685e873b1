package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/amoylab/chatmesh/internal/common/dto"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	open    bool
	failing bool
	frames  [][]byte
	closed  int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, open: true}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed++
	return nil
}

func (c *fakeConn) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeConn) setFailing() {
	c.mu.Lock()
	c.failing = true
	c.mu.Unlock()
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// members maps roomID to the set of active user ids
type fakeMembers struct {
	mu    sync.Mutex
	rooms map[int64]map[int64]bool
	err   error
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{rooms: make(map[int64]map[int64]bool)}
}

func (f *fakeMembers) add(roomID int64, users ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[roomID] == nil {
		f.rooms[roomID] = make(map[int64]bool)
	}
	for _, u := range users {
		f.rooms[roomID][u] = true
	}
}

func (f *fakeMembers) ExistsActiveMember(_ context.Context, roomID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.rooms[roomID][userID], nil
}

type fakeBus struct {
	mu           sync.Mutex
	rooms        map[int64]bool
	subscribes   int
	unsubscribes int
	closed       bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{rooms: make(map[int64]bool)}
}

func (b *fakeBus) Subscribe(_ context.Context, roomID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	b.rooms[roomID] = true
	return nil
}

func (b *fakeBus) Unsubscribe(_ context.Context, roomID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes++
	delete(b.rooms, roomID)
	return nil
}

func (b *fakeBus) Subscribed(roomID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[roomID]
}

func (b *fakeBus) SubscribedRooms() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int64, 0, len(b.rooms))
	for id := range b.rooms {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *fakeBus) Broadcast(context.Context, int64, *dto.ChatMessage, string) {}

func (b *fakeBus) ServerID() string { return "node-a" }

func (b *fakeBus) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
