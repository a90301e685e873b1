package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPrefix = "chat:server:rooms:"

func newTestRedisStore(t *testing.T, instanceID string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(zap.NewNop(), client, testPrefix, instanceID), mr
}

func TestRedisStore_MarkInterestedIsCompareAndSet(t *testing.T) {
	s, mr := newTestRedisStore(t, "node-a")
	ctx := context.Background()

	added, err := s.MarkInterested(ctx, 7)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.MarkInterested(ctx, 7)
	require.NoError(t, err)
	assert.False(t, added)

	ok, err := mr.SIsMember(testPrefix+"node-a", "7")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_ConcurrentMarkHasSingleWinner(t *testing.T) {
	s, _ := newTestRedisStore(t, "node-a")
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := s.MarkInterested(ctx, 42)
			assert.NoError(t, err)
			if added {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisStore_RoomsAndClear(t *testing.T) {
	s, mr := newTestRedisStore(t, "node-a")
	ctx := context.Background()

	for _, id := range []int64{9, 3, 5} {
		_, err := s.MarkInterested(ctx, id)
		require.NoError(t, err)
	}
	_, err := mr.SAdd(testPrefix+"node-a", "garbage")
	require.NoError(t, err)

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5, 9}, rooms)

	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists(testPrefix+"node-a"))

	rooms, err = s.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRedisStore_InstancesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	a := NewRedisStore(zap.NewNop(), client, testPrefix, "node-a")
	b := NewRedisStore(zap.NewNop(), client, testPrefix, "node-b")
	ctx := context.Background()

	_, _ = a.MarkInterested(ctx, 1)
	added, err := b.MarkInterested(ctx, 1)
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, a.Clear(ctx))
	peer, err := a.PeerRooms(ctx, "node-b")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, peer)
	assert.Equal(t, "node-a", a.InstanceID())
}

func TestRedisStore_ErrorsWrapped(t *testing.T) {
	s, mr := newTestRedisStore(t, "node-a")
	mr.Close()

	_, err := s.MarkInterested(context.Background(), 1)
	assert.Error(t, err)
	_, err = s.Rooms(context.Background())
	assert.Error(t, err)
	assert.Error(t, s.Clear(context.Background()))
}
