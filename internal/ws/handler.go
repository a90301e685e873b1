// Package ws serves the client websocket endpoint and drives each
// connection through its lifecycle.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/auth"
	"github.com/amoylab/chatmesh/internal/chat"
	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/config"
	"github.com/amoylab/chatmesh/internal/common/dto"
	"github.com/amoylab/chatmesh/internal/i18n"
	"github.com/amoylab/chatmesh/internal/session"
	"github.com/amoylab/chatmesh/pkg/metrics"
	"github.com/amoylab/chatmesh/pkg/trace"
)

const (
	roomPageSize   = chat.DefaultPageSize
	cleanupTimeout = 5 * time.Second
)

// Sessions is the local session registry
type Sessions interface {
	AddSession(userID int64, conn session.Conn)
	RemoveSession(ctx context.Context, userID int64, conn session.Conn)
	JoinRoom(ctx context.Context, userID, roomID int64) error
}

// ChatService is the chat domain as seen from a connection
type ChatService interface {
	SendMessage(ctx context.Context, req *dto.SendMessageRequest, userID int64) (*dto.ChatMessage, error)
	GetChatRooms(ctx context.Context, userID int64, page, size int) (*dto.Page[dto.ChatRoom], error)
}

// Handler upgrades handshakes and runs the read loop of each connection
type Handler struct {
	logger   *zap.Logger
	auth     auth.Authenticator
	sessions Sessions
	chat     ChatService
	i18n     *i18n.I18n
	metrics  *metrics.Metrics
	tracer   *trace.Builder
	upgrader websocket.Upgrader

	pingInterval time.Duration
	writeTimeout time.Duration
	maxFrameSize int64
}

// NewHandler creates the websocket handler
func NewHandler(logger *zap.Logger, cfg config.ServerConfig, cors config.CORSConfig, a auth.Authenticator,
	sessions Sessions, svc ChatService, tr *i18n.I18n, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:   logger.Named("ws"),
		auth:     a,
		sessions: sessions,
		chat:     svc,
		i18n:     tr,
		metrics:  m,
		tracer:   trace.Tracer(cnst.TraceWS),
		upgrader: websocket.Upgrader{
			CheckOrigin:      checkOrigin(cors.AllowOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		maxFrameSize: cfg.MaxFrameSize,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handle is the gin entry point of the websocket endpoint
func (h *Handler) Handle(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP resolves the user identity and upgrades the connection. A
// handshake without a valid identity is refused before the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.logger.Warn("rejecting websocket handshake",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lang := h.i18n.LanguageFromRequest(r)
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}

	conn := newConnection(wsConn, userID, lang, h.writeTimeout)
	h.serve(conn)
}

func (h *Handler) serve(conn *Connection) {
	logger := h.logger.With(
		zap.Int64("user_id", conn.UserID()),
		zap.String("conn_id", conn.ID()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.establish(ctx, logger, conn)
	h.metrics.WSConnected()

	go h.keepalive(ctx, logger, conn)

	err := h.readLoop(ctx, logger, conn)
	h.close(logger, conn, err)
}

// establish registers the session and subscribes the user's rooms. Room
// loading is best effort.
func (h *Handler) establish(ctx context.Context, logger *zap.Logger, conn *Connection) {
	h.sessions.AddSession(conn.UserID(), conn)
	conn.setState(StateEstablished)
	logger.Info("websocket connection established", zap.String("lang", conn.lang))

	joined := 0
	for page := 0; ; page++ {
		rooms, err := h.chat.GetChatRooms(ctx, conn.UserID(), page, roomPageSize)
		if err != nil {
			logger.Error("failed to load chat rooms", zap.Int("page", page), zap.Error(err))
			break
		}
		for _, room := range rooms.Content {
			if err := h.sessions.JoinRoom(ctx, conn.UserID(), room.ID); err != nil {
				logger.Error("failed to join room", zap.Int64("room_id", room.ID), zap.Error(err))
				continue
			}
			joined++
		}
		if !rooms.HasNext() {
			break
		}
	}
	logger.Info("loaded chat rooms", zap.Int("rooms", joined))
}

func (h *Handler) keepalive(ctx context.Context, logger *zap.Logger, conn *Connection) {
	if h.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				logger.Debug("failed to ping websocket", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, logger *zap.Logger, conn *Connection) error {
	// oversized frames end the connection with close code 1009
	if h.maxFrameSize > 0 {
		conn.ws.SetReadLimit(h.maxFrameSize)
	}
	if h.pingInterval > 0 {
		pongWait := 2 * h.pingInterval
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		conn.ws.SetPongHandler(func(string) error {
			return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	conn.setState(StateActive)
	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}
		if h.pingInterval > 0 {
			_ = conn.ws.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		}

		switch messageType {
		case websocket.TextMessage:
			h.handleText(ctx, logger, conn, data)
		default:
			logger.Warn("unsupported websocket frame", zap.Int("message_type", messageType))
			h.metrics.FrameHandled("binary", cnst.CodeUnsupportedFrame)
			h.sendError(logger, conn, &FrameError{Code: cnst.CodeUnsupportedFrame})
		}
	}
}

func (h *Handler) handleText(ctx context.Context, logger *zap.Logger, conn *Connection, data []byte) {
	scope := h.tracer.Start(ctx, cnst.SpanWSFrame).WithAttrs(
		attribute.Int64(cnst.AttrUserID, conn.UserID()),
	)
	defer scope.End()

	frame, ferr := ParseFrame(data)
	if ferr == nil {
		scope.WithAttrs(attribute.String(cnst.AttrFrameType, frame.Type.String()))
		ferr = h.dispatch(scope.Ctx, logger, conn, frame)
	}
	if ferr != nil {
		scope.WithAttrs(attribute.String(cnst.AttrErrorCode, ferr.Code))
		logger.Warn("rejected client frame", zap.String("code", ferr.Code), zap.Any("detail", ferr.Data))
		h.metrics.FrameHandled(frameLabel(frame), ferr.Code)
		h.sendError(logger, conn, ferr)
		return
	}
	h.metrics.FrameHandled(frameLabel(frame), "ok")
}

func frameLabel(f *Frame) string {
	if f == nil {
		return "invalid"
	}
	return f.Type.String()
}

func (h *Handler) dispatch(ctx context.Context, logger *zap.Logger, conn *Connection, frame *Frame) *FrameError {
	switch frame.Type {
	case cnst.FrameSendMessage:
		req := frame.SendMessage
		if _, err := h.chat.SendMessage(ctx, req, conn.UserID()); err != nil {
			logger.Error("failed to send message",
				zap.Int64("room_id", req.ChatRoomID),
				zap.Error(err))
			return sendFailure(req, err)
		}
		return nil
	default:
		return &FrameError{Code: cnst.CodeUnknownMessageType, Data: map[string]any{"Type": frame.Type.String()}}
	}
}

func sendFailure(req *dto.SendMessageRequest, err error) *FrameError {
	switch {
	case errors.Is(err, chat.ErrNotMember):
		return &FrameError{Code: cnst.CodeNotRoomMember, RoomID: req.ChatRoomID}
	case errors.Is(err, chat.ErrInvalidMessage):
		return &FrameError{
			Code:   cnst.CodeInvalidMessageType,
			RoomID: req.ChatRoomID,
			Data:   map[string]any{"Value": string(req.Type)},
		}
	default:
		return &FrameError{Code: cnst.CodeMessageSendFailed, RoomID: req.ChatRoomID}
	}
}

func (h *Handler) sendError(logger *zap.Logger, conn *Connection, ferr *FrameError) {
	msg := h.i18n.Translate(ferr.Code, conn.lang, ferr.Data)
	data, err := json.Marshal(dto.NewErrorFrame(ferr.RoomID, msg, ferr.Code))
	if err != nil {
		logger.Error("failed to encode error frame", zap.Error(err))
		return
	}
	if err := conn.Send(context.Background(), data); err != nil {
		logger.Warn("failed to send error frame", zap.Error(err))
	}
}

// close deregisters the session. Clean disconnects and transport errors
// only differ in log severity.
func (h *Handler) close(logger *zap.Logger, conn *Connection, err error) {
	if isCleanClose(err) {
		conn.setState(StateClosing)
		logger.Debug("websocket closed by client", zap.Error(err))
	} else {
		conn.setState(StateError)
		logger.Warn("websocket transport error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	h.sessions.RemoveSession(ctx, conn.UserID(), conn)
	_ = conn.Close(ctx)
	conn.setState(StateClosed)

	h.metrics.WSDisconnected()
	logger.Info("websocket connection closed")
}

func isCleanClose(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
