package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/bus"
	chatService "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/pkg/utils"
)

const (
	defaultHeartbeat = 15 * time.Second
	eventBuffer      = 64
)

// Handler streams session events to the browser via Server-Sent Events
type Handler struct {
	chatSvc   *chatService.Service
	logger    zerolog.Logger
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, logger zerolog.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, logger: logger, heartbeat: defaultHeartbeat}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

type readyPayload struct {
	SessionID string `json:"sessionId"`
	PersonaID string `json:"personaId"`
}

// handleEvents 订阅会话事件并以SSE推送，直到客户端断开
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// the bus delivers synchronously, so a slow client must never block a session
	events := make(chan bus.Event, eventBuffer)
	unsubscribe := h.chatSvc.Bus().Subscribe(sessionID, func(e bus.Event) {
		select {
		case events <- e:
		default:
			h.logger.Warn().Str("session", sessionID).Str("event", string(e.Type)).Msg("sse client too slow, event dropped")
		}
	})
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log := h.logger.With().Str("session", sessionID).Logger()
	log.Debug().Msg("opening event stream")

	if err := utils.SendSSEEvent(w, flusher, "ready", readyPayload{
		SessionID: sessionID,
		PersonaID: session.Persona().ID,
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("closing event stream")
			return
		case e := <-events:
			if err := utils.SendSSEEvent(w, flusher, string(e.Type), e); err != nil {
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
