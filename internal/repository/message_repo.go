package repository

import (
	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository handles database operations for Message
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a new message
func (r *MessageRepository) Create(msg *model.Message) error {
	return r.db.Create(msg).Error
}

// FindByID finds a message by ID with its read/deletion sets materialized
func (r *MessageRepository) FindByID(id uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := r.db.
		Preload("Sender").
		Preload("Receipts").
		Preload("Deletions").
		Where("id = ?", id).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	materialize(&msg)
	return &msg, nil
}

// GetConversationMessages returns the conversation's messages in canonical
// order: ascending timestamp, ties broken by id.
func (r *MessageRepository) GetConversationMessages(conversationID string) ([]model.Message, error) {
	messages := []model.Message{}
	err := r.db.
		Preload("Sender").
		Preload("Receipts").
		Preload("Deletions").
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i := range messages {
		materialize(&messages[i])
	}
	return messages, nil
}

// GetLastMessage returns the most recent message in a conversation
func (r *MessageRepository) GetLastMessage(conversationID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.
		Preload("Sender").
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateText applies an edit: new text, edited flag set, timestamp untouched.
func (r *MessageRepository) UpdateText(id uuid.UUID, text string) error {
	return r.db.Model(&model.Message{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"text":   text,
			"edited": true,
		}).Error
}

// Delete hard-deletes a message for everyone. Receipt and deletion rows go
// with it via the cascade.
func (r *MessageRepository) Delete(id uuid.UUID) error {
	return r.db.Where("id = ?", id).Delete(&model.Message{}).Error
}

// DeleteAll hard-deletes every message in a conversation ("clear chat").
func (r *MessageRepository) DeleteAll(conversationID string) error {
	return r.db.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error
}

// AddDeletedFor hides a message for one user. Inserting with DO NOTHING makes
// repeated deletes idempotent.
func (r *MessageRepository) AddDeletedFor(messageID, userID uuid.UUID) error {
	deletion := model.MessageDeletion{MessageID: messageID, UserID: userID}
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&deletion).Error
}

// MarkRead inserts read receipts for a batch of messages in one transaction.
// The union is monotonic and commutative: rows only ever get added, and a
// conflicting insert is a no-op, so concurrent and repeated marking converge.
func (r *MessageRepository) MarkRead(messageIDs []uuid.UUID, userID uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	receipts := make([]model.ReadReceipt, 0, len(messageIDs))
	for _, id := range messageIDs {
		receipts = append(receipts, model.ReadReceipt{MessageID: id, UserID: userID})
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts).Error
	})
}

// materialize copies the receipt and deletion rows into the message's flat
// ReadBy/DeletedFor sets.
func materialize(msg *model.Message) {
	msg.ReadBy = make([]uuid.UUID, 0, len(msg.Receipts))
	for _, rec := range msg.Receipts {
		msg.ReadBy = append(msg.ReadBy, rec.UserID)
	}
	msg.DeletedFor = make([]uuid.UUID, 0, len(msg.Deletions))
	for _, del := range msg.Deletions {
		msg.DeletedFor = append(msg.DeletedFor, del.UserID)
	}
}
