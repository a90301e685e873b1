package cnst

// FrameType is the discriminator carried in the "type" field of client frames
type FrameType string

const (
	FrameSendMessage FrameType = "SEND_MESSAGE"
)

func (f FrameType) String() string {
	return string(f)
}

// MessageType enumerates chat message kinds accepted from clients
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeSystem MessageType = "SYSTEM"
)

// Valid reports whether t is a recognized message kind
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeSystem:
		return true
	}
	return false
}

// Client-visible error codes carried in error frames
const (
	CodeInvalidMessageFormat = "INVALID_MESSAGE_FORMAT"
	CodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	CodeMissingField         = "MISSING_REQUIRED_FIELD"
	CodeInvalidMessageType   = "INVALID_MESSAGE_TYPE"
	CodeUnsupportedFrame     = "UNSUPPORTED_FRAME"
	CodeNotRoomMember        = "NOT_ROOM_MEMBER"
	CodeMessageSendFailed    = "MESSAGE_SEND_FAILED"
)
