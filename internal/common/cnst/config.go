package cnst

const (
	// ChatMeshYaml is the default configuration file name
	ChatMeshYaml = "chatmesh.yaml"
)

const (
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
	RedisClusterTypeSingle   = "single"
)

const (
	// DefaultRoomTopicPrefix prefixes the pub/sub channel of every room
	DefaultRoomTopicPrefix = "chat.room."
	// DefaultServerRoomsKeyPrefix prefixes the shared set of rooms an instance subscribes to
	DefaultServerRoomsKeyPrefix = "chat:server:rooms:"
)

const (
	AuthModeQuery = "query"
	AuthModeJWT   = "jwt"
)
