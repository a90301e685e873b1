package ws

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/dto"
)

const (
	fieldType       = "type"
	fieldChatRoomID = "chatRoomId"
	fieldMsgType    = "messageType"
	fieldContent    = "content"
)

// FrameError is a client protocol error. It is reported to the client in an
// error frame and never closes the connection.
type FrameError struct {
	Code   string
	RoomID int64
	Data   map[string]any
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s %v", e.Code, e.Data)
}

// Frame is a parsed client frame
type Frame struct {
	Type        cnst.FrameType
	SendMessage *dto.SendMessageRequest
}

// ParseFrame decodes one complete text frame. A nil FrameError means the
// frame is ready for dispatch.
func ParseFrame(data []byte) (*Frame, *FrameError) {
	if !gjson.ValidBytes(data) {
		return nil, &FrameError{Code: cnst.CodeInvalidMessageFormat}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &FrameError{Code: cnst.CodeInvalidMessageFormat}
	}

	typ := root.Get(fieldType)
	if !typ.Exists() || typ.Type == gjson.Null {
		return nil, missing(fieldType, 0)
	}
	if typ.Type != gjson.String {
		return nil, &FrameError{Code: cnst.CodeInvalidMessageFormat}
	}

	switch ft := cnst.FrameType(typ.Str); ft {
	case cnst.FrameSendMessage:
		req, ferr := parseSendMessage(root)
		if ferr != nil {
			return nil, ferr
		}
		return &Frame{Type: ft, SendMessage: req}, nil
	default:
		return nil, &FrameError{
			Code: cnst.CodeUnknownMessageType,
			Data: map[string]any{"Type": typ.Str},
		}
	}
}

func parseSendMessage(root gjson.Result) (*dto.SendMessageRequest, *FrameError) {
	room := root.Get(fieldChatRoomID)
	if !room.Exists() || room.Type == gjson.Null {
		return nil, missing(fieldChatRoomID, 0)
	}
	if room.Type != gjson.Number || room.Num != math.Trunc(room.Num) || room.Num <= 0 {
		return nil, &FrameError{Code: cnst.CodeInvalidMessageFormat}
	}
	roomID := room.Int()

	kind := root.Get(fieldMsgType)
	if !kind.Exists() || kind.Type == gjson.Null {
		return nil, missing(fieldMsgType, roomID)
	}
	mt := cnst.MessageType(kind.String())
	if kind.Type != gjson.String || !mt.Valid() {
		return nil, &FrameError{
			Code:   cnst.CodeInvalidMessageType,
			RoomID: roomID,
			Data:   map[string]any{"Value": kind.String()},
		}
	}

	req := &dto.SendMessageRequest{ChatRoomID: roomID, Type: mt}
	if content := root.Get(fieldContent); content.Exists() && content.Type != gjson.Null {
		if content.Type != gjson.String {
			return nil, &FrameError{Code: cnst.CodeInvalidMessageFormat, RoomID: roomID}
		}
		req.Content = content.Str
	}
	return req, nil
}

func missing(field string, roomID int64) *FrameError {
	return &FrameError{
		Code:   cnst.CodeMissingField,
		RoomID: roomID,
		Data:   map[string]any{"Field": field},
	}
}
