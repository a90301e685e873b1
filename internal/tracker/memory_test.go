package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("solo")
	ctx := context.Background()

	added, _ := s.MarkInterested(ctx, 2)
	assert.True(t, added)
	added, _ = s.MarkInterested(ctx, 2)
	assert.False(t, added)
	_, _ = s.MarkInterested(ctx, 1)

	rooms, err := s.Rooms(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, rooms)

	assert.NoError(t, s.Clear(ctx))
	rooms, _ = s.Rooms(ctx)
	assert.Empty(t, rooms)
	assert.Equal(t, "solo", s.InstanceID())
}
