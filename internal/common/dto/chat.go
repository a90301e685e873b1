package dto

import (
	"time"

	"github.com/amoylab/chatmesh/internal/common/cnst"
)

// Sender identifies the author of a chat message
type Sender struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// ChatMessage is the payload delivered to clients and carried across instances
type ChatMessage struct {
	ID         int64            `json:"id,omitempty"`
	ChatRoomID int64            `json:"chatRoomId"`
	Sender     Sender           `json:"sender"`
	Type       cnst.MessageType `json:"type"`
	Content    string           `json:"content,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// SendMessageRequest is the validated body of a SEND_MESSAGE frame
type SendMessageRequest struct {
	ChatRoomID int64
	Type       cnst.MessageType
	Content    string
}

// ErrorFrame is sent to a client whose frame could not be handled
type ErrorFrame struct {
	ChatRoomID *int64  `json:"chatRoomId"`
	Message    string  `json:"message"`
	Code       *string `json:"code"`
}

// NewErrorFrame builds an error frame; zero room id and empty code encode as null
func NewErrorFrame(roomID int64, message, code string) *ErrorFrame {
	f := &ErrorFrame{Message: message}
	if roomID != 0 {
		f.ChatRoomID = &roomID
	}
	if code != "" {
		f.Code = &code
	}
	return f
}

// ChatRoom is the summary of a room a user belongs to
type ChatRoom struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Page is one page of a paginated listing
type Page[T any] struct {
	Content []T   `json:"content"`
	Page    int   `json:"page"`
	Size    int   `json:"size"`
	Total   int64 `json:"total"`
}

// HasNext reports whether another page follows this one
func (p *Page[T]) HasNext() bool {
	return int64((p.Page+1)*p.Size) < p.Total
}
