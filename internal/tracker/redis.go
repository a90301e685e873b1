package tracker

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps the record as a Redis set at <prefix><instanceID>
type RedisStore struct {
	logger     *zap.Logger
	client     redis.UniversalClient
	prefix     string
	instanceID string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a tracker store for instanceID
func NewRedisStore(logger *zap.Logger, client redis.UniversalClient, prefix, instanceID string) *RedisStore {
	return &RedisStore{
		logger:     logger.Named("tracker.redis"),
		client:     client,
		prefix:     prefix,
		instanceID: instanceID,
	}
}

func (s *RedisStore) key(instanceID string) string {
	return s.prefix + instanceID
}

// MarkInterested implements Store.MarkInterested
func (s *RedisStore) MarkInterested(ctx context.Context, roomID int64) (bool, error) {
	added, err := s.client.SAdd(ctx, s.key(s.instanceID), strconv.FormatInt(roomID, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record room %d: %w", roomID, err)
	}
	return added == 1, nil
}

// Rooms implements Store.Rooms
func (s *RedisStore) Rooms(ctx context.Context) ([]int64, error) {
	return s.PeerRooms(ctx, s.instanceID)
}

// PeerRooms reads another instance's record. Records of peers are eventually
// consistent and may be stale if the peer crashed.
func (s *RedisStore) PeerRooms(ctx context.Context, instanceID string) ([]int64, error) {
	members, err := s.client.SMembers(ctx, s.key(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rooms of %s: %w", instanceID, err)
	}

	rooms := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.logger.Warn("ignoring malformed room id in subscription record",
				zap.String("instance_id", instanceID),
				zap.String("member", m))
			continue
		}
		rooms = append(rooms, id)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms, nil
}

// Clear implements Store.Clear
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(s.instanceID)).Err(); err != nil {
		return fmt.Errorf("failed to clear rooms of %s: %w", s.instanceID, err)
	}
	return nil
}

// InstanceID implements Store.InstanceID
func (s *RedisStore) InstanceID() string {
	return s.instanceID
}
