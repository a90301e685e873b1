package tracker

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the record in process. It is only suitable for a single
// instance deployment and for tests.
type MemoryStore struct {
	mu         sync.Mutex
	instanceID string
	rooms      map[int64]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-process tracker store
func NewMemoryStore(instanceID string) *MemoryStore {
	return &MemoryStore{
		instanceID: instanceID,
		rooms:      make(map[int64]struct{}),
	}
}

// MarkInterested implements Store.MarkInterested
func (s *MemoryStore) MarkInterested(_ context.Context, roomID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		return false, nil
	}
	s.rooms[roomID] = struct{}{}
	return true, nil
}

// Rooms implements Store.Rooms
func (s *MemoryStore) Rooms(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms, nil
}

// Clear implements Store.Clear
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.rooms = make(map[int64]struct{})
	s.mu.Unlock()
	return nil
}

// InstanceID implements Store.InstanceID
func (s *MemoryStore) InstanceID() string {
	return s.instanceID
}
