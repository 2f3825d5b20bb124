package repository

import (
	"time"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationRepository handles database operations for Conversation
type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create creates a new conversation with members
func (r *ConversationRepository) Create(conv *model.Conversation) error {
	return r.db.Create(conv).Error
}

// FindByID finds a conversation by ID with members
func (r *ConversationRepository) FindByID(id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.
		Preload("Members.User").
		Where("id = ?", id).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindDirect looks up the direct conversation between two users by its
// deterministic id.
func (r *ConversationRepository) FindDirect(userID1, userID2 uuid.UUID) (*model.Conversation, error) {
	return r.FindByID(model.DirectConversationID(userID1, userID2))
}

// GetUserConversations returns all conversations for a user, newest activity first
func (r *ConversationRepository) GetUserConversations(userID uuid.UUID) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.
		Joins("JOIN conversation_members ON conversation_members.conversation_id = conversations.id").
		Where("conversation_members.user_id = ?", userID).
		Preload("Members.User").
		Order("conversations.last_message_at DESC").
		Find(&conversations).Error
	return conversations, err
}

// AddMember adds a user to a conversation
func (r *ConversationRepository) AddMember(member *model.ConversationMember) error {
	return r.db.Create(member).Error
}

// RemoveMember removes a member from a conversation
func (r *ConversationRepository) RemoveMember(conversationID string, userID uuid.UUID) error {
	return r.db.
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&model.ConversationMember{}).Error
}

// IsMember checks if a user is a member of a conversation
func (r *ConversationRepository) IsMember(conversationID string, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

// IsAdmin checks if a user is an admin of a conversation
func (r *ConversationRepository) IsAdmin(conversationID string, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND role = ?", conversationID, userID, model.MemberRoleAdmin).
		Count(&count).Error
	return count > 0, err
}

// GetMemberIDs returns all member user IDs for a conversation
func (r *ConversationRepository) GetMemberIDs(conversationID string) ([]uuid.UUID, error) {
	var memberIDs []uuid.UUID
	err := r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &memberIDs).Error
	return memberIDs, err
}

// SetLastMessage refreshes the denormalized inbox preview on the conversation row.
func (r *ConversationRepository) SetLastMessage(conversationID string, text string, senderID uuid.UUID, at time.Time) error {
	return r.db.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_text":      text,
			"last_message_sender_id": senderID,
			"last_message_at":        at,
		}).Error
}

// ClearLastMessage blanks the preview, used when the last message is deleted
// or the chat is cleared.
func (r *ConversationRepository) ClearLastMessage(conversationID string) error {
	return r.db.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_text":      "",
			"last_message_sender_id": nil,
			"last_message_at":        nil,
		}).Error
}
