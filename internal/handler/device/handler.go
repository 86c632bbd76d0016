package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/bus"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/capture"
	chatService "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/pkg/utils"
)

// Handler 设备WebSocket处理器：浏览器麦克风、语音识别与会话事件
type Handler struct {
	chatSvc  *chatService.Service
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New 创建设备处理器
func New(chatSvc *chatService.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.With().Str("component", "device").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type helloData struct {
	Speech bool `json:"speech"`
}

type textData struct {
	Text string `json:"text"`
}

type pointerData struct {
	X float64 `json:"x"`
}

type transcriptData struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// connection is one browser tab bound to a session id.
type connection struct {
	h          *Handler
	sessionID  string
	sock       *socket
	mic        *remoteMicrophone
	recognizer *remoteRecognizer
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sock := newSocket(ws, sessionID)
	logger := h.logger.With().Str("session", sessionID).Logger()
	c := &connection{
		h:          h,
		sessionID:  sessionID,
		sock:       sock,
		mic:        newRemoteMicrophone(sock, ctx.Done(), logger),
		recognizer: newRemoteRecognizer(sock),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.serve(ws)
}

func (c *connection) serve(ws *websocket.Conn) {
	unsubscribe := c.h.chatSvc.Bus().Subscribe(c.sessionID, func(event bus.Event) {
		if err := c.sock.writeJSON(event); err != nil {
			c.logger.Debug().Err(err).Str("event", string(event.Type)).Msg("event not delivered")
		}
	})

	// 在收到hello之前只提供麦克风
	if err := c.h.chatSvc.AttachDevices(c.sessionID, c.mic, capture.Unavailable()); err != nil {
		unsubscribe()
		c.sock.close()
		c.cancel()
		return
	}

	defer func() {
		unsubscribe()
		c.h.chatSvc.DetachDevices(c.sessionID, c.mic)
		c.cancel()
		c.mic.shutdown()
		c.recognizer.finish()
		c.sock.close()
		c.wg.Wait()
		c.logger.Info().Msg("device disconnected")
	}()

	ws.SetReadLimit(1 << 20)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(1)
	go c.pingLoop()

	c.sock.command(cmdConnected, map[string]string{"sessionId": c.sessionID})
	c.logger.Info().Msg("device connected")

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.mic.audio(data)
		case websocket.TextMessage:
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("invalid message")
				continue
			}
			if err := c.dispatch(msg); err != nil {
				c.sendError(err.Error())
			}
		}
	}
}

func (c *connection) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.sock.ping(); err != nil {
				return
			}
		}
	}
}

func (c *connection) dispatch(msg inboundMessage) error {
	switch msg.Type {
	case "hello":
		var hello helloData
		if err := decodeData(msg.Data, &hello); err != nil {
			return err
		}
		capability := capture.Unavailable()
		if hello.Speech {
			capability = capture.Available(c.recognizer)
		}
		return c.h.chatSvc.AttachDevices(c.sessionID, c.mic, capability)

	case "mic.granted", "mic.denied":
		var req micRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		if msg.Type == "mic.granted" {
			c.mic.granted(req.ID)
		} else {
			c.mic.denied(req.ID)
		}
	case "mic.stopped":
		c.mic.stopped()

	case "transcript":
		var t transcriptData
		if err := decodeData(msg.Data, &t); err != nil {
			return err
		}
		c.recognizer.transcript(t.Text, t.Final)
	case "recognizer.stopped":
		c.recognizer.finish()

	case "message":
		var text textData
		if err := decodeData(msg.Data, &text); err != nil {
			return err
		}
		return c.withSession(func(s *chatService.Session) {
			c.async(func() {
				if err := s.SendText(c.ctx, text.Text); err != nil {
					c.sendError(err.Error())
				}
			})
		})

	case "record.start":
		var p pointerData
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		return c.withSession(func(s *chatService.Session) {
			if acquire := s.BeginRecording(p.X); acquire != nil {
				c.async(acquire)
			}
		})
	case "pointer.move":
		var p pointerData
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		return c.withSession(func(s *chatService.Session) {
			s.PointerMove(p.X)
		})
	case "record.stop":
		return c.withSession(func(s *chatService.Session) {
			deliver := s.FinishRecording()
			if deliver == nil {
				return
			}
			c.async(func() {
				if err := deliver(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Debug().Err(err).Msg("voice message not sent")
				}
			})
		})
	case "record.cancel":
		return c.withSession(func(s *chatService.Session) {
			s.CancelRecording()
		})

	case "video.close":
		return c.withSession(func(s *chatService.Session) {
			s.CloseVideo()
		})

	default:
		return errors.New("unknown message type: " + msg.Type)
	}
	return nil
}

// withSession resolves the current session; a persona switch replaces it
// under the same id.
func (c *connection) withSession(fn func(*chatService.Session)) error {
	session, err := c.h.chatSvc.GetSession(c.sessionID)
	if err != nil {
		return err
	}
	fn(session)
	return nil
}

// async runs work that may block on the reply cycle or the browser. Recorder
// state changes happen on the read loop before async is called, so commands
// take effect in the order they arrive.
func (c *connection) async(fn func()) {
	go fn()
}

func (c *connection) sendError(message string) {
	c.sock.command(cmdError, map[string]string{"message": message})
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("invalid message data")
	}
	return nil
}
