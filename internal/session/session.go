// Package session tracks the client connections held by this instance and
// routes room messages to them.
package session

import (
	"context"

	"github.com/amoylab/chatmesh/internal/common/dto"
)

// Conn is a live client connection owned by the registry for its lifetime.
type Conn interface {
	// ID returns a process-unique identifier of the connection.
	ID() string

	// Send writes one encoded frame to the client.
	Send(ctx context.Context, data []byte) error

	// IsOpen reports whether the underlying transport is still usable.
	IsOpen() bool

	// Close terminates the connection.
	Close(ctx context.Context) error
}

// MembershipChecker answers whether a user is currently an active member of
// a room. It is consulted on every delivery and never cached.
type MembershipChecker interface {
	ExistsActiveMember(ctx context.Context, roomID, userID int64) (bool, error)
}

// Bus is the cross-instance transport the manager subscribes rooms on.
type Bus interface {
	Subscribe(ctx context.Context, roomID int64) error
	Unsubscribe(ctx context.Context, roomID int64) error
	Subscribed(roomID int64) bool
	SubscribedRooms() []int64
	Broadcast(ctx context.Context, roomID int64, msg *dto.ChatMessage, excludeServerID string)
	ServerID() string
	Close(ctx context.Context) error
}
