package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/auth"
	"github.com/amoylab/chatmesh/internal/chat"
	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/config"
	"github.com/amoylab/chatmesh/internal/common/dto"
	"github.com/amoylab/chatmesh/internal/i18n"
	"github.com/amoylab/chatmesh/internal/session"
)

type fakeSessions struct {
	mu      sync.Mutex
	added   map[int64][]session.Conn
	removed map[int64]int
	joined  map[int64][]int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		added:   map[int64][]session.Conn{},
		removed: map[int64]int{},
		joined:  map[int64][]int64{},
	}
}

func (f *fakeSessions) AddSession(userID int64, conn session.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[userID] = append(f.added[userID], conn)
}

func (f *fakeSessions) RemoveSession(_ context.Context, userID int64, _ session.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[userID]++
}

func (f *fakeSessions) JoinRoom(_ context.Context, userID, roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[userID] = append(f.joined[userID], roomID)
	return nil
}

func (f *fakeSessions) conn(userID int64) session.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.added[userID]) == 0 {
		return nil
	}
	return f.added[userID][0]
}

func (f *fakeSessions) removedCount(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed[userID]
}

func (f *fakeSessions) joinedRooms(userID int64) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.joined[userID]...)
}

type fakeChat struct {
	mu      sync.Mutex
	rooms   []int64
	sent    []dto.SendMessageRequest
	sendErr error
	roomErr error
}

func (f *fakeChat) SendMessage(_ context.Context, req *dto.SendMessageRequest, userID int64) (*dto.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, *req)
	return &dto.ChatMessage{ChatRoomID: req.ChatRoomID, Sender: dto.Sender{ID: userID}, Type: req.Type, Content: req.Content}, nil
}

func (f *fakeChat) GetChatRooms(_ context.Context, _ int64, page, size int) (*dto.Page[dto.ChatRoom], error) {
	if f.roomErr != nil {
		return nil, f.roomErr
	}
	out := &dto.Page[dto.ChatRoom]{Page: page, Size: size, Total: int64(len(f.rooms))}
	for i := page * size; i < len(f.rooms) && i < (page+1)*size; i++ {
		out.Content = append(out.Content, dto.ChatRoom{ID: f.rooms[i]})
	}
	return out, nil
}

func (f *fakeChat) sentRequests() []dto.SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dto.SendMessageRequest(nil), f.sent...)
}

func newTestServer(t *testing.T, sessions *fakeSessions, svc *fakeChat) *httptest.Server {
	t.Helper()
	return newTestServerWithConfig(t, config.ServerConfig{WriteTimeout: time.Second}, sessions, svc)
}

func newTestServerWithConfig(t *testing.T, cfg config.ServerConfig, sessions *fakeSessions, svc *fakeChat) *httptest.Server {
	t.Helper()
	tr, err := i18n.New(cnst.LangEN)
	require.NoError(t, err)

	h := NewHandler(zap.NewNop(),
		cfg,
		config.CORSConfig{},
		&auth.QueryAuthenticator{},
		sessions, svc, tr, nil)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readError(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestHandshake_RejectsMissingOrInvalidUser(t *testing.T) {
	srv := newTestServer(t, newFakeSessions(), &fakeChat{})
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"

	for _, q := range []string{"", "?userId=abc"} {
		_, resp, err := websocket.DefaultDialer.Dial(base+q, nil)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestConnect_RegistersAndJoinsAllRooms(t *testing.T) {
	sessions := newFakeSessions()
	rooms := make([]int64, 0, 150)
	for i := int64(1); i <= 150; i++ {
		rooms = append(rooms, i)
	}
	srv := newTestServer(t, sessions, &fakeChat{rooms: rooms})

	conn := dial(t, srv, "userId=42")
	require.Eventually(t, func() bool { return len(sessions.joinedRooms(42)) == 150 }, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, sessions.conn(42))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return sessions.removedCount(42) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestConnect_RoomLoadFailureKeepsConnection(t *testing.T) {
	sessions := newFakeSessions()
	svc := &fakeChat{roomErr: errors.New("db down")}
	srv := newTestServer(t, sessions, svc)

	conn := dial(t, srv, "userId=1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"SEND_MESSAGE","chatRoomId":7,"messageType":"TEXT","content":"hi"}`)))
	require.Eventually(t, func() bool { return len(svc.sentRequests()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFrames_SendMessageAndErrors(t *testing.T) {
	sessions := newFakeSessions()
	svc := &fakeChat{}
	srv := newTestServer(t, sessions, svc)
	conn := dial(t, srv, "userId=1")

	// malformed json keeps the connection open
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))
	frame := readError(t, conn)
	assert.Equal(t, cnst.CodeInvalidMessageFormat, frame["code"])
	assert.Nil(t, frame["chatRoomId"])
	assert.Equal(t, "The message format is invalid.", frame["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"TYPING"}`)))
	frame = readError(t, conn)
	assert.Equal(t, cnst.CodeUnknownMessageType, frame["code"])
	assert.Contains(t, frame["message"], "TYPING")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SEND_MESSAGE","chatRoomId":7}`)))
	frame = readError(t, conn)
	assert.Equal(t, cnst.CodeMissingField, frame["code"])
	assert.EqualValues(t, 7, frame["chatRoomId"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x1}))
	frame = readError(t, conn)
	assert.Equal(t, cnst.CodeUnsupportedFrame, frame["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"SEND_MESSAGE","chatRoomId":7,"messageType":"TEXT","content":"hello"}`)))
	require.Eventually(t, func() bool { return len(svc.sentRequests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := svc.sentRequests()[0]
	assert.Equal(t, int64(7), got.ChatRoomID)
	assert.Equal(t, cnst.MessageTypeText, got.Type)
	assert.Equal(t, "hello", got.Content)
}

func TestFrames_ChatErrorsMapToCodes(t *testing.T) {
	svc := &fakeChat{sendErr: chat.ErrNotMember}
	srv := newTestServer(t, newFakeSessions(), svc)
	conn := dial(t, srv, "userId=1&lang=ko")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"SEND_MESSAGE","chatRoomId":9,"messageType":"TEXT"}`)))
	frame := readError(t, conn)
	assert.Equal(t, cnst.CodeNotRoomMember, frame["code"])
	assert.EqualValues(t, 9, frame["chatRoomId"])
	assert.Equal(t, "채팅방 멤버가 아닙니다.", frame["message"])

	svc.mu.Lock()
	svc.sendErr = errors.New("db down")
	svc.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"SEND_MESSAGE","chatRoomId":9,"messageType":"TEXT"}`)))
	frame = readError(t, conn)
	assert.Equal(t, cnst.CodeMessageSendFailed, frame["code"])
}

func TestConnection_DeliversAndCloses(t *testing.T) {
	sessions := newFakeSessions()
	srv := newTestServer(t, sessions, &fakeChat{})
	client := dial(t, srv, "userId=5")

	require.Eventually(t, func() bool { return sessions.conn(5) != nil }, 2*time.Second, 10*time.Millisecond)
	server := sessions.conn(5)
	assert.True(t, server.IsOpen())

	payload, err := json.Marshal(&dto.ChatMessage{ChatRoomID: 7, Content: "fan-out"})
	require.NoError(t, err)
	require.NoError(t, server.Send(context.Background(), payload))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(data))

	require.NoError(t, server.Close(context.Background()))
	assert.False(t, server.IsOpen())
	assert.Error(t, server.Send(context.Background(), payload))

	_, _, err = client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	require.Eventually(t, func() bool { return sessions.removedCount(5) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://chat.example.com"})

	r := httptest.NewRequest("GET", "/ws/chat", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, checkOrigin(nil)(r))
	assert.True(t, checkOrigin([]string{"*"})(r))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "ERROR", StateError.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestHandler_OversizedFrameClosesConnection(t *testing.T) {
	sessions := newFakeSessions()
	svc := &fakeChat{}
	srv := newTestServerWithConfig(t, config.ServerConfig{WriteTimeout: time.Second, MaxFrameSize: 512}, sessions, svc)
	conn := dial(t, srv, "userId=5")

	require.Eventually(t, func() bool { return sessions.conn(5) != nil }, 2*time.Second, 10*time.Millisecond)

	// frames under the limit are still handled
	small := `{"type":"SEND_MESSAGE","chatRoomId":1,"messageType":"TEXT","content":"hi"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(small)))
	require.Eventually(t, func() bool { return len(svc.sentRequests()) == 1 }, 2*time.Second, 10*time.Millisecond)

	big := `{"type":"SEND_MESSAGE","chatRoomId":1,"messageType":"TEXT","content":"` + strings.Repeat("x", 1024) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "unexpected error: %v", err)
			break
		}
	}
	require.Eventually(t, func() bool { return sessions.removedCount(5) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, svc.sentRequests(), 1)
}
