package device

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Device commands sent to the browser.
const (
	cmdMicRequest      = "mic.request"
	cmdMicStop         = "mic.stop"
	cmdRecognizerStart = "recognizer.start"
	cmdRecognizerStop  = "recognizer.stop"
	cmdConnected       = "connected"
	cmdError           = "error"
)

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// socket serializes writes to a websocket connection.
type socket struct {
	conn      *websocket.Conn
	sessionID string

	mu     sync.Mutex
	closed bool
}

func newSocket(conn *websocket.Conn, sessionID string) *socket {
	return &socket{conn: conn, sessionID: sessionID}
}

func (s *socket) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *socket) command(typ string, data any) error {
	return s.writeJSON(outgoingMessage{Type: typ, SessionID: s.sessionID, Data: data})
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *socket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.conn.Close()
}
