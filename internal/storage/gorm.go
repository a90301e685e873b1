package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// gormStore implements Store on any gorm dialect
type gormStore struct {
	db *gorm.DB
}

var _ Store = (*gormStore)(nil)

// Close closes the database connection
func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if TransactionFromContext(ctx) != nil {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ContextWithTransaction(ctx, tx))
	})
}

func (s *gormStore) CreateUser(ctx context.Context, user *User) error {
	return getDBFromContext(ctx, s.db).Create(user).Error
}

func (s *gormStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	if err := getDBFromContext(ctx, s.db).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *gormStore) CreateRoom(ctx context.Context, room *ChatRoom) error {
	if room.Type == "" {
		room.Type = RoomTypeGroup
	}
	return getDBFromContext(ctx, s.db).Create(room).Error
}

func (s *gormStore) GetRoom(ctx context.Context, id int64) (*ChatRoom, error) {
	var room ChatRoom
	if err := getDBFromContext(ctx, s.db).First(&room, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (s *gormStore) AddMember(ctx context.Context, roomID, userID int64) (*ChatRoomMember, error) {
	db := getDBFromContext(ctx, s.db)

	var member ChatRoomMember
	err := db.Where("chat_room_id = ? AND user_id = ?", roomID, userID).First(&member).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		member = ChatRoomMember{
			ChatRoomID: roomID,
			UserID:     userID,
			IsActive:   true,
			JoinedAt:   time.Now(),
		}
		if err := db.Create(&member).Error; err != nil {
			return nil, err
		}
		return &member, nil
	case err != nil:
		return nil, err
	}

	if member.IsActive {
		return &member, nil
	}
	member.IsActive = true
	member.JoinedAt = time.Now()
	member.LeftAt = nil
	if err := db.Save(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *gormStore) LeaveRoom(ctx context.Context, roomID, userID int64) error {
	return getDBFromContext(ctx, s.db).
		Model(&ChatRoomMember{}).
		Where("chat_room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]any{
			"is_active": false,
			"left_at":   time.Now(),
		}).Error
}

func (s *gormStore) ExistsActiveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var count int64
	err := getDBFromContext(ctx, s.db).
		Model(&ChatRoomMember{}).
		Where("chat_room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).
		Count(&count).Error
	return count > 0, err
}

func (s *gormStore) CountActiveMembers(ctx context.Context, roomID int64) (int64, error) {
	var count int64
	err := getDBFromContext(ctx, s.db).
		Model(&ChatRoomMember{}).
		Where("chat_room_id = ? AND is_active = ?", roomID, true).
		Count(&count).Error
	return count, err
}

func (s *gormStore) ListActiveMembers(ctx context.Context, roomID int64) ([]*ChatRoomMember, error) {
	var members []*ChatRoomMember
	err := getDBFromContext(ctx, s.db).
		Where("chat_room_id = ? AND is_active = ?", roomID, true).
		Order("joined_at asc").
		Find(&members).Error
	return members, err
}

func (s *gormStore) ListRoomsForUser(ctx context.Context, userID int64, page, size int) ([]*ChatRoom, int64, error) {
	db := getDBFromContext(ctx, s.db)
	joined := db.Model(&ChatRoom{}).
		Joins("JOIN chat_room_members ON chat_room_members.chat_room_id = chat_rooms.id").
		Where("chat_room_members.user_id = ? AND chat_room_members.is_active = ?", userID, true)

	var total int64
	if err := joined.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rooms []*ChatRoom
	err := joined.Session(&gorm.Session{}).
		Select("chat_rooms.*").
		Order("chat_rooms.id asc").
		Offset(page * size).
		Limit(size).
		Find(&rooms).Error
	return rooms, total, err
}

func (s *gormStore) SaveMessage(ctx context.Context, message *Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	return getDBFromContext(ctx, s.db).Create(message).Error
}

func (s *gormStore) ListMessages(ctx context.Context, roomID int64, page, size int) ([]*Message, error) {
	var messages []*Message
	err := getDBFromContext(ctx, s.db).
		Where("chat_room_id = ?", roomID).
		Order("created_at desc, id desc").
		Offset(page * size).
		Limit(size).
		Find(&messages).Error
	return messages, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
