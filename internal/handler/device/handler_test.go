package device

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	modelchat "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/blob"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/capture"
	chatService "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/chat"
)

type echoReplies struct{}

func (echoReplies) Reply(_ context.Context, _ persona.Persona, req modelchat.ReplyRequest) (string, error) {
	return "echo: " + req.Message, nil
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func setup(t *testing.T) (*chatService.Service, *blob.Store, *httptest.Server) {
	t.Helper()
	blobs := blob.NewStore("http://localhost/api/blobs", 0)
	chatSvc := chatService.NewService(persona.NewMemoryStore(persona.Seed()), chatService.Deps{
		Replies:      echoReplies{},
		Blobs:        blobs,
		Logger:       zerolog.Nop(),
		FlushTimeout: 2 * time.Second,
	})
	t.Cleanup(chatSvc.CloseAll)

	r := chi.NewRouter()
	New(chatSvc, zerolog.Nop()).RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return chatSvc, blobs, server
}

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readUntil(t, conn, cmdConnected)
	require.Contains(t, string(msg.Data), sessionID)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload := map[string]any{"type": typ}
	if data != nil {
		payload["data"] = data
	}
	require.NoError(t, conn.WriteJSON(payload))
}

// readUntil skips messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg.Type == typ {
			return msg
		}
	}
}

// hangUp closes conn and waits until the server has torn the connection down.
func hangUp(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	raw := conn.NetConn()
	raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := io.Copy(io.Discard, raw)
	require.NoError(t, err, "server did not close the connection")
}

// browser answers microphone commands the way the web client does: every
// request is granted and every stop is confirmed.
type browser struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newBrowser(conn *websocket.Conn) *browser {
	conn.SetReadDeadline(time.Time{})
	b := &browser{conn: conn}
	go b.run()
	return b
}

func (b *browser) run() {
	for {
		var msg wireMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case cmdMicRequest:
			var req micRequest
			json.Unmarshal(msg.Data, &req)
			b.send("mic.granted", req)
		case cmdMicStop:
			b.send("mic.stopped", nil)
		}
	}
}

func (b *browser) send(typ string, data any) error {
	payload := map[string]any{"type": typ}
	if data != nil {
		payload["data"] = data
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.WriteJSON(payload)
}

func TestUnknownSessionRejected(t *testing.T) {
	_, _, server := setup(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTextMessageProducesEvents(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "message", map[string]string{"text": "привет"})

	readUntil(t, conn, "chat.loading")
	var reply struct {
		Message modelchat.ChatMessage `json:"message"`
	}
	for {
		msg := readUntil(t, conn, "chat.message")
		require.NoError(t, json.Unmarshal(msg.Data, &reply))
		if reply.Message.Role == modelchat.RoleAssistant {
			break
		}
	}
	require.Equal(t, "echo: привет", reply.Message.Content)
}

func TestVoiceRecordingOverSocket(t *testing.T) {
	chatSvc, blobs, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "hello", map[string]bool{"speech": false})
	send(t, conn, "record.start", map[string]float64{"x": 10})

	readUntil(t, conn, cmdMicRequest)
	send(t, conn, "mic.granted", nil)
	readUntil(t, conn, "recording.started")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}))
	send(t, conn, "record.stop", nil)
	readUntil(t, conn, cmdMicStop)
	send(t, conn, "mic.stopped", nil)

	var appended struct {
		Message modelchat.ChatMessage `json:"message"`
	}
	msg := readUntil(t, conn, "chat.message")
	require.NoError(t, json.Unmarshal(msg.Data, &appended))
	require.Equal(t, modelchat.RoleUser, appended.Message.Role)
	require.Equal(t, session.Persona().VoicePlaceholder, appended.Message.Content)
	require.NotEmpty(t, appended.Message.AudioURL)
	require.Equal(t, 1, blobs.Len())
}

func TestMicrophoneDeniedReturnsToIdle(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "record.start", map[string]float64{"x": 0})
	readUntil(t, conn, cmdMicRequest)
	send(t, conn, "mic.denied", nil)

	require.Eventually(t, func() bool {
		return session.RecordingState() == capture.StateIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownMessageTypeReportsError(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "maks")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "dance", nil)

	msg := readUntil(t, conn, cmdError)
	require.Contains(t, string(msg.Data), "unknown message type")
}

func TestVideoCloseEmitsEvent(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "video.close", nil)
	readUntil(t, conn, "avatar.closed")
}

func TestStartStopBackToBackLeavesRecorderIdle(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	b := newBrowser(dial(t, server, session.ID()))
	for i := 0; i < 50; i++ {
		require.NoError(t, b.send("record.start", map[string]float64{"x": 10}))
		require.NoError(t, b.send("record.stop", nil))
	}

	require.Eventually(t, func() bool {
		return session.RecordingState() == capture.StateIdle
	}, 2*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool {
		return session.RecordingState() != capture.StateIdle
	}, 300*time.Millisecond, 10*time.Millisecond, "a released press must not start recording later")

	// the microphone is still usable afterwards
	require.NoError(t, b.send("record.start", map[string]float64{"x": 10}))
	require.Eventually(t, func() bool {
		return session.RecordingState() == capture.StateRecording
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.send("record.stop", nil))
	require.Eventually(t, func() bool {
		return session.RecordingState() == capture.StateIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectKeepsNewerMicrophone(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	older := dial(t, server, session.ID())
	newer := dial(t, server, session.ID())
	hangUp(t, older)

	send(t, newer, "record.start", map[string]float64{"x": 0})
	readUntil(t, newer, cmdMicRequest)
	send(t, newer, "mic.granted", nil)
	readUntil(t, newer, "recording.started")
}

func TestCancelWhileAcquiringReleasesLateGrant(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "record.start", map[string]float64{"x": 0})
	readUntil(t, conn, cmdMicRequest)
	send(t, conn, "record.cancel", nil)
	readUntil(t, conn, "recording.cancelled")
	require.Equal(t, capture.StateIdle, session.RecordingState())

	// the browser opened the microphone anyway
	send(t, conn, "mic.granted", nil)
	readUntil(t, conn, cmdMicStop)
	send(t, conn, "mic.stopped", nil)

	send(t, conn, "record.start", map[string]float64{"x": 0})
	readUntil(t, conn, cmdMicRequest)
	send(t, conn, "mic.granted", nil)
	readUntil(t, conn, "recording.started")
}

func TestSecondStartKeepsSwipeOrigin(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "record.start", map[string]float64{"x": 200})
	readUntil(t, conn, cmdMicRequest)
	send(t, conn, "mic.granted", nil)
	readUntil(t, conn, "recording.started")

	send(t, conn, "record.start", map[string]float64{"x": 0})
	send(t, conn, "pointer.move", map[string]float64{"x": 150})
	msg := readUntil(t, conn, "recording.cancel_hint")
	require.JSONEq(t, `{"active":true}`, string(msg.Data))
	require.Equal(t, capture.StateRecording, session.RecordingState())
}

func TestStaleGrantDoesNotAnswerNewerRequest(t *testing.T) {
	chatSvc, _, server := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "alisa")
	require.NoError(t, err)

	conn := dial(t, server, session.ID())
	send(t, conn, "record.start", map[string]float64{"x": 0})
	var first micRequest
	require.NoError(t, json.Unmarshal(readUntil(t, conn, cmdMicRequest).Data, &first))
	send(t, conn, "record.cancel", nil)
	readUntil(t, conn, "recording.cancelled")

	send(t, conn, "record.start", map[string]float64{"x": 0})
	var second micRequest
	require.NoError(t, json.Unmarshal(readUntil(t, conn, cmdMicRequest).Data, &second))
	require.NotEqual(t, first.ID, second.ID)

	send(t, conn, "mic.granted", first)
	readUntil(t, conn, cmdMicStop)
	require.Equal(t, capture.StateAcquiring, session.RecordingState())

	send(t, conn, "mic.granted", second)
	readUntil(t, conn, "recording.started")
}
