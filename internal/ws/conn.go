package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amoylab/chatmesh/internal/session"
)

// State is the lifecycle state of a client connection
type State int32

const (
	StateConnecting State = iota
	StateEstablished
	StateActive
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var errConnClosed = errors.New("connection closed")

// Connection is a websocket client connection. Writes are serialized since
// room fan-out and error frames write from different goroutines.
type Connection struct {
	id           string
	userID       int64
	lang         string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	state   atomic.Int32
	closed  atomic.Bool
	once    sync.Once
}

var _ session.Conn = (*Connection)(nil)

func newConnection(ws *websocket.Conn, userID int64, lang string, writeTimeout time.Duration) *Connection {
	c := &Connection{
		id:           uuid.NewString(),
		userID:       userID,
		lang:         lang,
		ws:           ws,
		writeTimeout: writeTimeout,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID implements session.Conn.ID
func (c *Connection) ID() string {
	return c.id
}

// UserID returns the identity resolved at handshake
func (c *Connection) UserID() int64 {
	return c.userID
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) State {
	return State(c.state.Swap(int32(s)))
}

// Send implements session.Conn.Send
func (c *Connection) Send(_ context.Context, data []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// IsOpen implements session.Conn.IsOpen
func (c *Connection) IsOpen() bool {
	return !c.closed.Load()
}

// Close implements session.Conn.Close. A going-away close frame is sent
// before the socket is closed.
func (c *Connection) Close(_ context.Context) error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *Connection) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}
