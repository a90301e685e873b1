package broker

import (
	"time"

	"github.com/amoylab/chatmesh/internal/common/dto"
)

// Envelope wraps a chat payload with routing metadata for the bus. It is
// built once per broadcast and never mutated afterwards.
type Envelope struct {
	ID              string          `json:"id"`
	ServerID        string          `json:"serverId"`
	RoomID          int64           `json:"roomId"`
	ExcludeServerID *string         `json:"excludeServerId"`
	Timestamp       time.Time       `json:"timestamp"`
	Payload         dto.ChatMessage `json:"payload"`
}

// Excludes reports whether the envelope must not be delivered on serverID
func (e *Envelope) Excludes(serverID string) bool {
	return e.ExcludeServerID != nil && *e.ExcludeServerID == serverID
}
