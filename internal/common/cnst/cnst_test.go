package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppConstants(t *testing.T) {
	assert.Equal(t, "chatmesh", AppName)
	assert.Equal(t, "chatmesh", CommandName)
	assert.Equal(t, "chatmesh.yaml", ChatMeshYaml)
}

func TestRedisClusterTypeConstants(t *testing.T) {
	assert.Equal(t, "sentinel", RedisClusterTypeSentinel)
	assert.Equal(t, "cluster", RedisClusterTypeCluster)
	assert.Equal(t, "single", RedisClusterTypeSingle)
}

func TestMessageTypeValid(t *testing.T) {
	assert.True(t, MessageTypeText.Valid())
	assert.True(t, MessageTypeImage.Valid())
	assert.True(t, MessageTypeSystem.Valid())
	assert.False(t, MessageType("VIDEO").Valid())
	assert.False(t, MessageType("text").Valid())
}

func TestFrameTypeString(t *testing.T) {
	assert.Equal(t, "SEND_MESSAGE", FrameSendMessage.String())
}
