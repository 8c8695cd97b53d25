package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/ai"
	"pdfchat/internal/app"
	"pdfchat/internal/transport/http/response"
	"pdfchat/internal/vectorstore/qdrant"
)

type ChatHandler struct {
	chatService *app.ChatService
	ragService  *app.RAGService
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type RenameSessionRequest struct {
	Title string `json:"title" binding:"required,max=256"`
}

func NewChatHandler(chatService *app.ChatService, ragService *app.RAGService) *ChatHandler {
	return &ChatHandler{chatService: chatService, ragService: ragService}
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.chatService.ListSessions()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	sessionID, err := parseUintParam(c, "id")
	if err != nil || sessionID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	messages, err := h.chatService.GetHistory(c.Request.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, app.ErrSessionNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get messages failed")
		}
		return
	}
	response.OK(c, gin.H{
		"title":    h.chatService.GetSessionTitle(sessionID),
		"messages": messages,
	})
}

// Ask handles one conversational turn against the session's document.
func (h *ChatHandler) Ask(c *gin.Context) {
	sessionID, err := parseUintParam(c, "id")
	if err != nil || sessionID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Ask(c.Request.Context(), app.AskInput{
		SessionID: sessionID,
		Question:  req.Question,
	})
	if err != nil {
		writeAskError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *ChatHandler) RenameSession(c *gin.Context) {
	sessionID, err := parseUintParam(c, "id")
	if err != nil || sessionID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}
	var req RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	if err := h.chatService.RenameSession(c.Request.Context(), sessionID, req.Title); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "rename session failed")
		}
		return
	}
	response.OK(c, gin.H{"id": sessionID, "title": req.Title})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID, err := parseUintParam(c, "id")
	if err != nil || sessionID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}

	if err := h.chatService.DeleteSession(c.Request.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		case errors.Is(err, qdrant.ErrUnavailable):
			response.Error(c, http.StatusServiceUnavailable, response.CodeIndexUnavailable, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete session failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func writeAskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, qdrant.ErrUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeIndexUnavailable, err.Error())
	case errors.Is(err, ai.ErrGeneration), errors.Is(err, ai.ErrEmbedding):
		response.Error(c, http.StatusBadGateway, response.CodeGenerationFailed, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ask failed")
	}
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	s := c.Param(key)
	u, err := strconv.ParseUint(s, 10, 64)
	return uint(u), err
}
