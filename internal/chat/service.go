// Package chat implements the chat domain operations on top of storage and
// the cross-instance bus.
package chat

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/dto"
	"github.com/amoylab/chatmesh/internal/storage"
	"github.com/amoylab/chatmesh/pkg/trace"
)

// DefaultPageSize is the page size used when a caller passes none
const DefaultPageSize = 100

var (
	// ErrNotMember is returned when the user is not an active member of the room
	ErrNotMember = errors.New("user is not an active member of the room")
	// ErrInvalidMessage is returned for a request the domain rejects
	ErrInvalidMessage = errors.New("invalid message")
)

// Broadcaster fans a persisted message out to every instance
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID int64, msg *dto.ChatMessage, excludeServerID string)
}

// RoomJoiner subscribes this instance to a room on behalf of a local user
type RoomJoiner interface {
	IsUserOnlineLocally(userID int64) bool
	JoinRoom(ctx context.Context, userID, roomID int64) error
}

// Service is the chat domain service
type Service struct {
	logger *zap.Logger
	store  storage.Store
	bus    Broadcaster
	joiner RoomJoiner
	tracer *trace.Builder
}

// NewService creates a chat service. joiner may be nil when the process
// holds no client connections.
func NewService(logger *zap.Logger, store storage.Store, bus Broadcaster, joiner RoomJoiner) *Service {
	return &Service{
		logger: logger.Named("chat"),
		store:  store,
		bus:    bus,
		joiner: joiner,
		tracer: trace.Tracer(cnst.TraceChat),
	}
}

// SendMessage persists a message from userID and broadcasts it to the room
func (s *Service) SendMessage(ctx context.Context, req *dto.SendMessageRequest, userID int64) (*dto.ChatMessage, error) {
	scope := s.tracer.Start(ctx, cnst.SpanChatSend).WithAttrs(
		attribute.Int64(cnst.AttrRoomID, req.ChatRoomID),
		attribute.Int64(cnst.AttrUserID, userID),
	)
	defer scope.End()
	ctx = scope.Ctx

	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, req.Type)
	}

	member, err := s.store.ExistsActiveMember(ctx, req.ChatRoomID, userID)
	if err != nil {
		scope.Fail(err)
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return nil, ErrNotMember
	}

	record := &storage.Message{
		ChatRoomID: req.ChatRoomID,
		SenderID:   userID,
		Type:       req.Type,
		Content:    req.Content,
	}
	if err := s.store.SaveMessage(ctx, record); err != nil {
		scope.Fail(err)
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	msg := &dto.ChatMessage{
		ID:         record.ID,
		ChatRoomID: record.ChatRoomID,
		Sender:     s.sender(ctx, userID),
		Type:       record.Type,
		Content:    record.Content,
		CreatedAt:  record.CreatedAt,
	}
	s.bus.Broadcast(ctx, req.ChatRoomID, msg, "")

	s.logger.Debug("message sent",
		zap.Int64("room_id", req.ChatRoomID),
		zap.Int64("user_id", userID),
		zap.Int64("message_id", record.ID))
	return msg, nil
}

func (s *Service) sender(ctx context.Context, userID int64) dto.Sender {
	sender := dto.Sender{ID: userID}
	user, err := s.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		sender.Name = user.DisplayName
		if sender.Name == "" {
			sender.Name = user.Username
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("failed to load sender", zap.Int64("user_id", userID), zap.Error(err))
	}
	return sender
}

// GetChatRooms returns one zero-based page of the rooms userID belongs to
func (s *Service) GetChatRooms(ctx context.Context, userID int64, page, size int) (*dto.Page[dto.ChatRoom], error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	rooms, total, err := s.store.ListRoomsForUser(ctx, userID, page, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	out := &dto.Page[dto.ChatRoom]{
		Content: make([]dto.ChatRoom, 0, len(rooms)),
		Page:    page,
		Size:    size,
		Total:   total,
	}
	for _, r := range rooms {
		out.Content = append(out.Content, toRoom(r))
	}
	return out, nil
}

// CreateRoom creates a room with creatorID and memberIDs as active members
func (s *Service) CreateRoom(ctx context.Context, name, description string, creatorID int64, memberIDs ...int64) (*dto.ChatRoom, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrInvalidMessage)
	}

	room := &storage.ChatRoom{
		Name:        name,
		Description: description,
		Type:        storage.RoomTypeGroup,
		CreatedBy:   creatorID,
	}
	if len(memberIDs) == 1 && memberIDs[0] != creatorID {
		room.Type = storage.RoomTypeDirect
	}

	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		if err := s.store.CreateRoom(ctx, room); err != nil {
			return err
		}
		for _, uid := range append([]int64{creatorID}, memberIDs...) {
			if _, err := s.store.AddMember(ctx, room.ID, uid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	for _, uid := range append([]int64{creatorID}, memberIDs...) {
		s.joinLocally(ctx, uid, room.ID)
	}

	s.logger.Info("room created",
		zap.Int64("room_id", room.ID),
		zap.Int64("creator_id", creatorID),
		zap.Int("members", len(memberIDs)+1))
	r := toRoom(room)
	return &r, nil
}

// JoinRoom makes userID an active member of roomID
func (s *Service) JoinRoom(ctx context.Context, roomID, userID int64) error {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to load room %d: %w", roomID, err)
	}
	if _, err := s.store.AddMember(ctx, roomID, userID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	s.joinLocally(ctx, userID, roomID)
	return nil
}

// LeaveRoom deactivates userID's membership. Delivery stops at once since
// membership is checked on every local delivery.
func (s *Service) LeaveRoom(ctx context.Context, roomID, userID int64) error {
	if err := s.store.LeaveRoom(ctx, roomID, userID); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	return nil
}

// GetMessages returns one zero-based page of a room's messages, newest first
func (s *Service) GetMessages(ctx context.Context, roomID, userID int64, page, size int) ([]dto.ChatMessage, error) {
	member, err := s.store.ExistsActiveMember(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return nil, ErrNotMember
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	records, err := s.store.ListMessages(ctx, roomID, page, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]dto.ChatMessage, 0, len(records))
	for _, m := range records {
		out = append(out, dto.ChatMessage{
			ID:         m.ID,
			ChatRoomID: m.ChatRoomID,
			Sender:     s.sender(ctx, m.SenderID),
			Type:       m.Type,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) joinLocally(ctx context.Context, userID, roomID int64) {
	if s.joiner == nil || !s.joiner.IsUserOnlineLocally(userID) {
		return
	}
	if err := s.joiner.JoinRoom(ctx, userID, roomID); err != nil {
		s.logger.Warn("failed to subscribe room for online user",
			zap.Int64("room_id", roomID),
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

func toRoom(r *storage.ChatRoom) dto.ChatRoom {
	return dto.ChatRoom{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        string(r.Type),
		CreatedAt:   r.CreatedAt,
	}
}
