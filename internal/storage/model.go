package storage

import (
	"time"

	"github.com/amoylab/chatmesh/internal/common/cnst"
)

// RoomType distinguishes direct conversations from group rooms
type RoomType string

const (
	RoomTypeDirect RoomType = "DIRECT"
	RoomTypeGroup  RoomType = "GROUP"
)

// User is a chat participant
type User struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username    string    `json:"username" gorm:"type:varchar(50);uniqueIndex"`
	DisplayName string    `json:"displayName" gorm:"type:varchar(100)"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatRoom is a conversation between its members
type ChatRoom struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Type        RoomType  `json:"type" gorm:"type:varchar(20);not null;default:'GROUP'"`
	CreatedBy   int64     `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatRoomMember links a user to a room. Leaving keeps the row and clears IsActive.
type ChatRoomMember struct {
	ID         int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	ChatRoomID int64      `json:"chatRoomId" gorm:"not null;uniqueIndex:idx_room_user"`
	UserID     int64      `json:"userId" gorm:"not null;uniqueIndex:idx_room_user;index"`
	IsActive   bool       `json:"isActive" gorm:"not null;default:true"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LeftAt     *time.Time `json:"leftAt,omitempty"`
}

// Message is a persisted chat message
type Message struct {
	ID         int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	ChatRoomID int64            `json:"chatRoomId" gorm:"not null;index:idx_room_created"`
	SenderID   int64            `json:"senderId" gorm:"not null"`
	Type       cnst.MessageType `json:"type" gorm:"type:varchar(20);not null"`
	Content    string           `json:"content" gorm:"type:text"`
	CreatedAt  time.Time        `json:"createdAt" gorm:"index:idx_room_created"`
}

func models() []any {
	return []any{&User{}, &ChatRoom{}, &ChatRoomMember{}, &Message{}}
}
