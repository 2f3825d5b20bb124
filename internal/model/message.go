package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MediaKind classifies an attachment by how clients should render it
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
	MediaKindFile  MediaKind = "file"
)

// Mention is one resolved @-token, bound at send time. Both the raw token and
// the resolved user id are frozen on the message; later display-name changes
// never retarget old mentions.
type Mention struct {
	Raw    string    `json:"raw"`
	UserID uuid.UUID `json:"user_id"`
}

// ReplySnapshot is an embedded copy of the replied-to message, captured at
// send time. It is a value, not a reference: deleting the target leaves the
// snapshot intact.
type ReplySnapshot struct {
	MessageID  uuid.UUID `json:"message_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
}

// Message represents a chat message
type Message struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"size:100;index;not null"`
	SenderID       uuid.UUID `json:"sender_id" gorm:"type:uuid;index;not null"`
	// ClientSeq is the sender-local send sequence. Together with SenderID and
	// ConversationID it correlates provisional and relay-delivered copies with
	// the canonical record.
	ClientSeq      int64          `json:"client_seq,omitempty" gorm:"default:0"`
	Text           string         `json:"text,omitempty" gorm:"type:text"`
	AttachmentURL  string         `json:"attachment_url,omitempty" gorm:"size:1000"`
	AttachmentKind MediaKind      `json:"attachment_kind,omitempty" gorm:"size:20"`
	Edited         bool           `json:"edited" gorm:"default:false"`
	ReplyTo        *ReplySnapshot `json:"reply_to,omitempty" gorm:"serializer:json"`
	Mentions       []Mention      `json:"mentions,omitempty" gorm:"serializer:json"`
	TaggedUsers    []uuid.UUID    `json:"tagged_users,omitempty" gorm:"serializer:json"`
	CreatedAt      time.Time      `json:"timestamp"`
	UpdatedAt      time.Time      `json:"-"`

	// ReadBy and DeletedFor are materialized from the receipt and deletion
	// rows by the repository; they are never written through this struct.
	ReadBy     []uuid.UUID `json:"read_by" gorm:"-"`
	DeletedFor []uuid.UUID `json:"-" gorm:"-"`

	// Relations
	Sender    User              `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
	Receipts  []ReadReceipt     `json:"-" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	Deletions []MessageDeletion `json:"-" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns the id in Go so the model also works on databases
// without a uuid-generating default.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// CorrelationKey builds the reconciliation key for a send.
func CorrelationKey(senderID uuid.UUID, conversationID string, clientSeq int64) string {
	return fmt.Sprintf("%s|%s|%d", senderID, conversationID, clientSeq)
}

// Key returns the message's correlation key, or "" for messages without a
// client sequence (seeded or system-generated).
func (m *Message) Key() string {
	if m.ClientSeq == 0 {
		return ""
	}
	return CorrelationKey(m.SenderID, m.ConversationID, m.ClientSeq)
}

// VisibleTo reports whether the user has not deleted the message for themselves.
func (m *Message) VisibleTo(userID uuid.UUID) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return false
		}
	}
	return true
}

// IsReadBy reports whether the user appears in the message's read set.
func (m *Message) IsReadBy(userID uuid.UUID) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Tags reports whether the message notifies the user: the user is in the
// frozen tagged set, or the message replies to one of the user's own.
func (m *Message) Tags(userID uuid.UUID) bool {
	for _, id := range m.TaggedUsers {
		if id == userID {
			return true
		}
	}
	return m.ReplyTo != nil && m.ReplyTo.SenderID == userID
}

// Before reports canonical ordering: ascending server timestamp, ties broken
// by id so every replica converges on the same sequence.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}

// PreviewText is the denormalized inbox preview for this message.
func (m *Message) PreviewText() string {
	if m.Text != "" {
		return m.Text
	}
	switch m.AttachmentKind {
	case MediaKindAudio:
		return "Voice message"
	case MediaKindImage:
		return "Photo"
	case MediaKindVideo:
		return "Video"
	case MediaKindFile:
		return "File"
	}
	return ""
}

// ReadReceipt records that a user has read a message. Rows are insert-only,
// so the read set only grows and concurrent marking is idempotent.
type ReadReceipt struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	MessageID uuid.UUID `json:"message_id" gorm:"type:uuid;uniqueIndex:idx_receipt_msg_user;not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_receipt_msg_user;not null"`
	ReadAt    time.Time `json:"read_at"`
}

func (r *ReadReceipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ReadAt.IsZero() {
		r.ReadAt = time.Now()
	}
	return nil
}

// MessageDeletion records a per-user soft delete ("delete for me"). Rows are
// insert-only; the hidden set never shrinks.
type MessageDeletion struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	MessageID uuid.UUID `json:"message_id" gorm:"type:uuid;uniqueIndex:idx_deletion_msg_user;not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_deletion_msg_user;not null"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (d *MessageDeletion) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DeletedAt.IsZero() {
		d.DeletedAt = time.Now()
	}
	return nil
}
