package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	chatService "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleCloseSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
	r.Post("/sessions/{sessionID}/persona", h.handleSwitchPersona)
	r.Post("/sessions/{sessionID}/video/close", h.handleCloseVideo)
	r.Post("/sessions/{sessionID}/voice", h.handleVoice)
}

type sessionView struct {
	ID        string             `json:"id"`
	PersonaID string             `json:"personaId"`
	CreatedAt time.Time          `json:"createdAt"`
	Persona   persona.Persona    `json:"persona"`
	History   []chat.ChatMessage `json:"history"`
}

func newSessionView(s *chatService.Session) sessionView {
	info := s.Info()
	return sessionView{
		ID:        info.ID,
		PersonaID: info.PersonaID,
		CreatedAt: info.CreatedAt,
		Persona:   s.Persona(),
		History:   s.History(),
	}
}

type personaRequest struct {
	PersonaID string `json:"personaId"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload personaRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.PersonaID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, newSessionView(session))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionView(session))
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.CloseSession(chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": session.History()})
}

// handleSendMessage 发送消息；回复通过事件流推送，请求在回复周期结束后返回
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := session.SendText(r.Context(), payload.Message); err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]any{"history": session.History()})
}

func (h *Handler) handleSwitchPersona(w http.ResponseWriter, r *http.Request) {
	var payload personaRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.chatSvc.SwitchPersona(r.Context(), chi.URLParam(r, "sessionID"), payload.PersonaID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionView(session))
}

func (h *Handler) handleCloseVideo(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	session.CloseVideo()
	w.WriteHeader(http.StatusNoContent)
}

// handleVoice 合成回复中的语音片段
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
		Mood string `json:"mood"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	resp, ok := session.SynthesizeVoice(r.Context(), payload.Text, emotion.Normalize(payload.Mood))
	if !ok {
		utils.RespondError(w, http.StatusBadGateway, "voice unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*chatService.Session, bool) {
	session, err := h.chatSvc.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return session, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrPersonaNotFound),
		errors.Is(err, chatService.ErrPersonaRequired),
		errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrSessionClosed):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
