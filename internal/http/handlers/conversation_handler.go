package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahmadabdelnby/freelance-backend/internal/http/handlers/common"
	"github.com/ahmadabdelnby/freelance-backend/internal/service"
)

// ConversationHandler обслуживает переписку.
type ConversationHandler struct {
	chat *service.ChatService
}

// NewConversationHandler создаёт хэндлер переписки.
func NewConversationHandler(chat *service.ChatService) *ConversationHandler {
	return &ConversationHandler{chat: chat}
}

type createConversationRequest struct {
	ParticipantID uuid.UUID  `json:"participant_id" binding:"required"`
	JobID         *uuid.UUID `json:"job_id"`
	ProposalID    *uuid.UUID `json:"proposal_id"`
}

// Create обрабатывает POST /api/conversations.
func (h *ConversationHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req createConversationRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conv, err := h.chat.GetOrCreateConversation(c.Request.Context(), userID, req.ParticipantID, req.JobID, req.ProposalID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, conv)
}

// List обрабатывает GET /api/conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	convs, err := h.chat.ListConversations(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"conversations": convs})
}

// ListMessages обрабатывает GET /api/conversations/:id/messages.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	conversationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	messages, err := h.chat.ListMessages(c.Request.Context(), userID, conversationID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments"`
}

// SendMessage обрабатывает POST /api/conversations/:id/messages.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	conversationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req sendMessageRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), userID, conversationID, req.Content, req.Attachments)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage обрабатывает PUT /api/messages/:id.
func (h *ConversationHandler) EditMessage(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	messageID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req editMessageRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.EditMessage(c.Request.Context(), userID, messageID, req.Content)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, msg)
}

// DeleteMessage обрабатывает DELETE /api/messages/:id.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	messageID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.chat.DeleteMessage(c.Request.Context(), userID, messageID); err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondSuccess(c, http.StatusOK, "сообщение удалено", nil)
}

// MarkRead обрабатывает POST /api/conversations/:id/read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	conversationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	n, err := h.chat.MarkRead(c.Request.Context(), userID, conversationID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"marked": n})
}

// CountUnread обрабатывает GET /api/conversations/:id/unread-count.
func (h *ConversationHandler) CountUnread(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	conversationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	count, err := h.chat.CountUnread(c.Request.Context(), userID, conversationID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondJSON(c, http.StatusOK, gin.H{"count": count})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// SetArchived обрабатывает POST /api/conversations/:id/archive.
func (h *ConversationHandler) SetArchived(c *gin.Context) {
	h.toggle(c, h.chat.SetArchived, "архивация обновлена")
}

// SetMuted обрабатывает POST /api/conversations/:id/mute.
func (h *ConversationHandler) SetMuted(c *gin.Context) {
	h.toggle(c, h.chat.SetMuted, "уведомления обновлены")
}

func (h *ConversationHandler) toggle(c *gin.Context, fn func(ctx context.Context, userID, conversationID uuid.UUID, on bool) error, message string) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	conversationID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req toggleRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := fn(c.Request.Context(), userID, conversationID, req.Enabled); err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondSuccess(c, http.StatusOK, message, nil)
}
