package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
	chatService "github.com/zhouzirui/vettalaw/backend/internal/service/chat"
	"github.com/zhouzirui/vettalaw/backend/internal/storage"
	"github.com/zhouzirui/vettalaw/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// New 创建聊天处理器。allowOrigin 为 nil 时不校验 WebSocket 来源。
func New(chatSvc *chatService.Service, allowOrigin func(origin string) bool) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/history", h.handleHistory)
		r.Post("/quick", h.handleQuick)
		r.Delete("/clear", h.handleClear)
		r.Get("/ws", h.handleWebSocket)
	})
}

// turnPayload 与前端的请求格式一致；history 仅为兼容而接收。
type turnPayload struct {
	CurrentMessage string        `json:"currentMessage"`
	History        []historyTurn `json:"history,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p turnPayload) request() chatService.TurnRequest {
	req := chatService.TurnRequest{Message: p.CurrentMessage}
	for _, t := range p.History {
		req.History = append(req.History, chat.Turn{Role: chat.Role(t.Role), Content: t.Content})
	}
	return req
}

type turnResponse struct {
	Reply     string `json:"reply"`
	Persisted *bool  `json:"persisted,omitempty"`
}

func newTurnResponse(res chatService.TurnResult) turnResponse {
	resp := turnResponse{Reply: res.Reply}
	if !res.Persisted {
		persisted := false
		resp.Persisted = &persisted
	}
	return resp
}

type historyResponse struct {
	Messages []chat.Turn `json:"messages"`
}

type clearResponse struct {
	Status       string `json:"status"`
	DeletedCount int64  `json:"deleted_count"`
	Message      string `json:"message"`
}

// handleQuick 执行一次完整的对话回合
func (h *Handler) handleQuick(w http.ResponseWriter, r *http.Request) {
	var payload turnPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.chatSvc.Turn(r.Context(), payload.request())
	if err != nil {
		status, message := errorStatus(err, "failed to process message")
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, newTurnResponse(res))
}

// handleHistory 返回完整的对话记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := h.chatSvc.History(r.Context())
	if err != nil {
		status, message := errorStatus(err, "failed to load chat history")
		utils.RespondError(w, status, message)
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	utils.RespondJSON(w, http.StatusOK, historyResponse{Messages: turns})
}

// handleClear 清空对话记录
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.chatSvc.Clear(r.Context())
	if err != nil {
		status, message := errorStatus(err, "failed to clear chat history")
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, clearResponse{
		Status:       "success",
		DeletedCount: deleted,
		Message:      "Chat history cleared successfully",
	})
}

// errorStatus maps service errors to a status code and a client-safe message.
func errorStatus(err error, storageMessage string) (int, string) {
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case storage.IsStorageError(err):
		log.Error().Err(err).Msg(storageMessage)
		return http.StatusInternalServerError, storageMessage
	default:
		log.Error().Err(err).Msg("unexpected chat error")
		return http.StatusInternalServerError, "internal error"
	}
}
