// Package storage persists users, chat rooms, room memberships and messages.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a looked-up record does not exist
var ErrNotFound = errors.New("record not found")

// Store defines the persistence operations of the chat domain.
type Store interface {
	// Close closes the database connection.
	Close() error

	// Transaction runs fn in a transaction carried by the context passed to it.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error

	// CreateUser creates a user.
	CreateUser(ctx context.Context, user *User) error

	// GetUser gets a user by id.
	GetUser(ctx context.Context, id int64) (*User, error)

	// CreateRoom creates a chat room.
	CreateRoom(ctx context.Context, room *ChatRoom) error

	// GetRoom gets a chat room by id.
	GetRoom(ctx context.Context, id int64) (*ChatRoom, error)

	// AddMember makes userID an active member of roomID, reactivating a
	// previous membership if there is one.
	AddMember(ctx context.Context, roomID, userID int64) (*ChatRoomMember, error)

	// LeaveRoom deactivates the membership of userID in roomID.
	LeaveRoom(ctx context.Context, roomID, userID int64) error

	// ExistsActiveMember reports whether userID is an active member of roomID.
	ExistsActiveMember(ctx context.Context, roomID, userID int64) (bool, error)

	// CountActiveMembers counts the active members of roomID.
	CountActiveMembers(ctx context.Context, roomID int64) (int64, error)

	// ListActiveMembers lists the active members of roomID.
	ListActiveMembers(ctx context.Context, roomID int64) ([]*ChatRoomMember, error)

	// ListRoomsForUser lists one zero-based page of the rooms userID is an
	// active member of, plus the total number of such rooms.
	ListRoomsForUser(ctx context.Context, userID int64, page, size int) ([]*ChatRoom, int64, error)

	// SaveMessage saves a message.
	SaveMessage(ctx context.Context, message *Message) error

	// ListMessages lists one zero-based page of a room's messages, newest first.
	ListMessages(ctx context.Context, roomID int64, page, size int) ([]*Message, error)
}
