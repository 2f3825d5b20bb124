package handler

import (
	"errors"
	"net/http"

	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/internal/policy"
	"github.com/betalkative/betalk/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ChatHandler handles chat-related HTTP endpoints
type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// respondError maps the service error taxonomy onto HTTP codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotMember),
		errors.Is(err, policy.ErrNotAuthor),
		errors.Is(err, policy.ErrNotPermitted),
		errors.Is(err, policy.ErrNotMember),
		errors.Is(err, policy.ErrEditExpired):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrSelfConversation),
		errors.Is(err, policy.ErrEmptyEdit),
		errors.Is(err, policy.ErrNotEditable):
		status = http.StatusBadRequest
	}
	c.JSON(status, model.ErrorResponse{Error: err.Error()})
}

// GetOrCreateDirect godoc
// @Summary Get or create direct conversation
// @Description Open the direct chat with a user, creating it on first contact.
// @Tags Conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.DirectConversationRequest true "Partner ID"
// @Success 200 {object} model.Conversation
// @Failure 400 {object} model.ErrorResponse
// @Router /conversations/direct [post]
func (h *ChatHandler) GetOrCreateDirect(c *gin.Context) {
	var req model.DirectConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	conv, created, err := h.chatService.GetOrCreateDirect(userID, req.ReceiverID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

// CreateGroup godoc
// @Summary Create a group conversation
// @Tags Conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.CreateGroupRequest true "Create group request"
// @Success 201 {object} model.Conversation
// @Router /conversations/groups [post]
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req model.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	conv, err := h.chatService.CreateGroup(userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// AddMembers godoc
// @Summary Add members to a group
// @Tags Conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param body body model.AddMembersRequest true "Member IDs"
// @Success 200 {object} model.Conversation
// @Router /conversations/{id}/members [post]
func (h *ChatHandler) AddMembers(c *gin.Context) {
	var req model.AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	conv, err := h.chatService.AddMembers(c.Param("id"), userID, req.MemberIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// LeaveConversation godoc
// @Summary Leave a group conversation
// @Tags Conversations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {object} model.SuccessResponse
// @Router /conversations/{id}/leave [post]
func (h *ChatHandler) LeaveConversation(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	if err := h.chatService.LeaveConversation(c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Left conversation"})
}

// GetInbox godoc
// @Summary Get the merged conversation list
// @Description Direct and group conversations in one list, newest activity first, with unread and tagged counters.
// @Tags Conversations
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.InboxEntry
// @Router /conversations [get]
func (h *ChatHandler) GetInbox(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)

	entries, err := h.chatService.GetInbox(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to get conversations"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetConversation godoc
// @Summary Get a specific conversation
// @Tags Conversations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {object} model.Conversation
// @Router /conversations/{id} [get]
func (h *ChatHandler) GetConversation(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	conv, err := h.chatService.GetConversation(c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// SendMessage godoc
// @Summary Send a message to a conversation
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param body body model.SendMessageRequest true "Send message request"
// @Success 201 {object} model.Message
// @Router /conversations/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	msg, err := h.chatService.SendMessage(userID, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetMessages godoc
// @Summary Get the messages of a conversation
// @Description Full timeline in canonical order, excluding messages deleted for the caller.
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {array} model.Message
// @Router /conversations/{id}/messages [get]
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	messages, err := h.chatService.GetMessages(c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// EditMessage godoc
// @Summary Edit a message
// @Description Author only, within ten minutes of sending. The timestamp never changes.
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Param body body model.EditMessageRequest true "New text"
// @Success 200 {object} model.Message
// @Router /conversations/{id}/messages/{messageId} [patch]
func (h *ChatHandler) EditMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid message ID"})
		return
	}

	var req model.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	msg, err := h.chatService.EditMessage(userID, c.Param("id"), messageID, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage godoc
// @Summary Delete a message
// @Description Scope "me" hides the message for the caller; "everyone" removes it for all members (author or group admin).
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Param body body model.DeleteMessageRequest true "Deletion scope"
// @Success 200 {object} model.SuccessResponse
// @Router /conversations/{id}/messages/{messageId} [delete]
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid message ID"})
		return
	}

	var req model.DeleteMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	if err := h.chatService.DeleteMessage(userID, c.Param("id"), messageID, req.Scope); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Message deleted"})
}

// MarkAsRead godoc
// @Summary Mark messages in a conversation as read
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param body body model.MarkReadRequest true "Message IDs"
// @Success 200 {object} model.SuccessResponse
// @Router /conversations/{id}/read [post]
func (h *ChatHandler) MarkAsRead(c *gin.Context) {
	var req model.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	userID := c.MustGet("user_id").(uuid.UUID)
	if err := h.chatService.MarkRead(userID, c.Param("id"), req.MessageIDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Messages marked as read"})
}

// ClearConversation godoc
// @Summary Clear a conversation
// @Description Permanently removes every message and blanks the inbox preview.
// @Tags Conversations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {object} model.SuccessResponse
// @Router /conversations/{id}/clear [post]
func (h *ChatHandler) ClearConversation(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	if err := h.chatService.ClearConversation(userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Conversation cleared"})
}
