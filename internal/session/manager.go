package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/broker"
	"github.com/amoylab/chatmesh/internal/common/dto"
	"github.com/amoylab/chatmesh/internal/tracker"
	"github.com/amoylab/chatmesh/pkg/metrics"
)

// BusFactory builds the bus with the manager as its local deliverer
type BusFactory func(d broker.Deliverer) (Bus, error)

// Manager is the registry of local sessions. It owns the bus subscriptions
// of this instance and the instance's record in the shared store.
type Manager struct {
	logger  *zap.Logger
	store   tracker.Store
	members MembershipChecker
	bus     Bus
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[int64]map[string]Conn

	// roomMu serializes joins against teardown of the subscription record
	roomMu sync.Mutex

	stopped atomic.Bool
}

var _ broker.Deliverer = (*Manager)(nil)

// NewManager creates the registry and its bus
func NewManager(logger *zap.Logger, store tracker.Store, members MembershipChecker, newBus BusFactory, m *metrics.Metrics) (*Manager, error) {
	if store == nil || members == nil || newBus == nil {
		return nil, errors.New("session manager requires a store, a membership checker and a bus")
	}

	mgr := &Manager{
		logger:   logger.Named("session").With(zap.String("instance_id", store.InstanceID())),
		store:    store,
		members:  members,
		metrics:  m,
		sessions: make(map[int64]map[string]Conn),
	}

	bus, err := newBus(mgr)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus: %w", err)
	}
	mgr.bus = bus
	return mgr, nil
}

// Bus returns the transport used for cross-instance fan-out
func (m *Manager) Bus() Bus {
	return m.bus
}

// Recover clears a subscription record left behind by a previous run of this
// instance. No bus subscription survives a restart, so the record is stale.
func (m *Manager) Recover(ctx context.Context) error {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	rooms, err := m.store.Rooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return nil
	}

	m.logger.Warn("clearing stale room subscription record", zap.Int64s("rooms", rooms))
	return m.store.Clear(ctx)
}

// AddSession registers conn for userID. Adding the same connection twice is a no-op.
func (m *Manager) AddSession(userID int64, conn Conn) {
	m.mu.Lock()
	conns, ok := m.sessions[userID]
	if !ok {
		conns = make(map[string]Conn)
		m.sessions[userID] = conns
	}
	conns[conn.ID()] = conn
	users := len(m.sessions)
	m.mu.Unlock()

	m.metrics.LocalUsers(users)
	m.logger.Info("session added",
		zap.Int64("user_id", userID),
		zap.String("conn_id", conn.ID()))
}

// RemoveSession unregisters conn. When no open connection remains on this
// instance, every room subscription of the instance is released. The user
// entry may already be gone when a failed send or an online check pruned it
// first; the release still runs then.
func (m *Manager) RemoveSession(ctx context.Context, userID int64, conn Conn) {
	m.mu.Lock()
	conns, found := m.sessions[userID]
	if found {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(m.sessions, userID)
		}
	}
	users := len(m.sessions)
	open := m.openCountLocked()
	m.mu.Unlock()

	m.metrics.LocalUsers(users)
	m.logger.Info("session removed",
		zap.Int64("user_id", userID),
		zap.String("conn_id", conn.ID()),
		zap.Bool("registered", found),
		zap.Int("open_connections", open))

	if open == 0 && !m.stopped.Load() {
		m.releaseRooms(ctx)
	}
}

func (m *Manager) openCountLocked() int {
	total := 0
	for _, conns := range m.sessions {
		for _, c := range conns {
			if c.IsOpen() {
				total++
			}
		}
	}
	return total
}

// OpenConnections returns the number of open local connections
func (m *Manager) OpenConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openCountLocked()
}

// releaseRooms unsubscribes every room of this instance and clears the
// shared record, unless a connection arrived in the meantime.
func (m *Manager) releaseRooms(ctx context.Context) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	if m.OpenConnections() > 0 {
		m.logger.Debug("skipping room release, a connection arrived")
		return
	}
	m.unsubscribeAllLocked(ctx)
}

func (m *Manager) unsubscribeAllLocked(ctx context.Context) {
	rooms, err := m.store.Rooms(ctx)
	if err != nil {
		m.logger.Error("failed to read room subscription record", zap.Error(err))
	}
	rooms = mergeRooms(rooms, m.bus.SubscribedRooms())

	for _, roomID := range rooms {
		if !m.bus.Subscribed(roomID) {
			m.logger.Warn("room recorded but not subscribed", zap.Int64("room_id", roomID))
			continue
		}
		if err := m.bus.Unsubscribe(ctx, roomID); err != nil {
			m.logger.Error("failed to unsubscribe room",
				zap.Int64("room_id", roomID),
				zap.Error(err))
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear room subscription record", zap.Error(err))
		return
	}
	m.logger.Info("released all room subscriptions", zap.Int64s("rooms", rooms))
}

func mergeRooms(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, list := range [][]int64{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// JoinRoom records this instance's interest in roomID and subscribes the bus
// channel the first time the interest is recorded.
func (m *Manager) JoinRoom(ctx context.Context, userID, roomID int64) error {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	added, err := m.store.MarkInterested(ctx, roomID)
	if err != nil {
		return err
	}

	switch {
	case added:
		if err := m.bus.Subscribe(ctx, roomID); err != nil {
			return err
		}
	case !m.bus.Subscribed(roomID):
		// recorded by a previous run or a failed subscribe
		m.logger.Warn("room recorded but not subscribed, subscribing",
			zap.Int64("room_id", roomID))
		if err := m.bus.Subscribe(ctx, roomID); err != nil {
			return err
		}
	}

	m.logger.Info("joined room",
		zap.Int64("user_id", userID),
		zap.Int64("room_id", roomID),
		zap.Bool("first_interest", added))
	return nil
}

// IsUserOnlineLocally reports whether userID has an open connection here.
// Closed connections found on the way are pruned.
func (m *Manager) IsUserOnlineLocally(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.sessions[userID]
	if !ok {
		return false
	}

	online := false
	for id, c := range conns {
		if c.IsOpen() {
			online = true
			continue
		}
		delete(conns, id)
	}
	if len(conns) == 0 {
		delete(m.sessions, userID)
	}
	return online
}

// SendToLocalRoom delivers msg to every local connection of the room's
// active members, skipping excludeUserID when it is non-zero. Connections
// that are closed or fail to send are dropped from the registry. It returns
// the number of connections the message was written to.
func (m *Manager) SendToLocalRoom(ctx context.Context, roomID int64, msg *dto.ChatMessage, excludeUserID int64) int {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("failed to encode chat message",
			zap.Int64("room_id", roomID),
			zap.Error(err))
		return 0
	}

	targets := m.snapshot(excludeUserID)
	delivered := 0
	for userID, conns := range targets {
		member, err := m.members.ExistsActiveMember(ctx, roomID, userID)
		if err != nil {
			m.logger.Error("failed to check room membership",
				zap.Int64("room_id", roomID),
				zap.Int64("user_id", userID),
				zap.Error(err))
			continue
		}
		if !member {
			m.logger.Debug("user is not a member of room",
				zap.Int64("room_id", roomID),
				zap.Int64("user_id", userID))
			continue
		}

		var failed []Conn
		for _, c := range conns {
			if !c.IsOpen() {
				failed = append(failed, c)
				continue
			}
			if err := c.Send(ctx, data); err != nil {
				m.logger.Warn("failed to send to session",
					zap.Int64("user_id", userID),
					zap.String("conn_id", c.ID()),
					zap.Error(err))
				m.metrics.LocalDelivery(false)
				failed = append(failed, c)
				continue
			}
			m.metrics.LocalDelivery(true)
			delivered++
		}
		if len(failed) > 0 {
			m.purge(userID, failed)
		}
	}
	return delivered
}

// DeliverLocal implements broker.Deliverer
func (m *Manager) DeliverLocal(ctx context.Context, roomID int64, msg *dto.ChatMessage) {
	n := m.SendToLocalRoom(ctx, roomID, msg, 0)
	m.logger.Debug("delivered room message locally",
		zap.Int64("room_id", roomID),
		zap.Int("connections", n))
}

func (m *Manager) snapshot(excludeUserID int64) map[int64][]Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64][]Conn, len(m.sessions))
	for userID, conns := range m.sessions {
		if excludeUserID != 0 && userID == excludeUserID {
			continue
		}
		list := make([]Conn, 0, len(conns))
		for _, c := range conns {
			list = append(list, c)
		}
		out[userID] = list
	}
	return out
}

func (m *Manager) purge(userID int64, failed []Conn) {
	m.mu.Lock()
	conns, ok := m.sessions[userID]
	if ok {
		for _, c := range failed {
			delete(conns, c.ID())
		}
		if len(conns) == 0 {
			delete(m.sessions, userID)
		}
	}
	users := len(m.sessions)
	m.mu.Unlock()

	m.metrics.LocalUsers(users)
	for _, c := range failed {
		_ = c.Close(context.Background())
	}
}

// Shutdown closes every local connection, releases all room subscriptions
// and stops the bus.
func (m *Manager) Shutdown(ctx context.Context) error {
	// read loops ending after this point must not touch the bus again
	m.stopped.Store(true)

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[int64]map[string]Conn)
	m.mu.Unlock()

	closed := 0
	for userID, conns := range sessions {
		for _, c := range conns {
			if err := c.Close(ctx); err != nil {
				m.logger.Debug("failed to close session",
					zap.Int64("user_id", userID),
					zap.String("conn_id", c.ID()),
					zap.Error(err))
			}
			closed++
		}
	}
	m.metrics.LocalUsers(0)

	m.roomMu.Lock()
	m.unsubscribeAllLocked(ctx)
	m.roomMu.Unlock()

	m.logger.Info("session manager stopped", zap.Int("closed_sessions", closed))
	return m.bus.Close(ctx)
}
