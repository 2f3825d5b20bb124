package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationKind defines whether the conversation is direct or group
type ConversationKind string

const (
	ConversationKindDirect ConversationKind = "direct"
	ConversationKindGroup  ConversationKind = "group"
)

// DirectConversationID derives the deterministic id of a direct conversation:
// the two member ids sorted and joined with "_". Both members derive the same
// id independently, so a direct conversation needs no lookup to address.
func DirectConversationID(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Conversation represents a chat conversation (direct or group)
type Conversation struct {
	ID        string           `json:"id" gorm:"size:100;primaryKey"`
	Kind      ConversationKind `json:"kind" gorm:"type:varchar(20);default:'direct'"`
	Name      string           `json:"name,omitempty" gorm:"size:100"`   // group name, empty for direct
	Avatar    string           `json:"avatar,omitempty" gorm:"size:500"` // group avatar
	CreatorID *uuid.UUID       `json:"creator_id,omitempty" gorm:"type:uuid"`

	// Denormalized last-message preview, maintained on every send, edit and
	// delete so the inbox never joins into the messages table.
	LastMessageText     string     `json:"last_message_text,omitempty" gorm:"size:500"`
	LastMessageSenderID *uuid.UUID `json:"last_message_sender_id,omitempty" gorm:"type:uuid"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Members []ConversationMember `json:"members,omitempty" gorm:"foreignKey:ConversationID"`
}

// BeforeCreate assigns a fresh uuid id for group conversations; direct
// conversations arrive with their deterministic id already set.
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsMember reports whether the user belongs to the conversation.
// Members must be preloaded.
func (c *Conversation) IsMember(userID uuid.UUID) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user is an admin of the conversation.
func (c *Conversation) IsAdmin(userID uuid.UUID) bool {
	for _, m := range c.Members {
		if m.UserID == userID && m.Role == MemberRoleAdmin {
			return true
		}
	}
	return false
}

// MemberIDs returns the ids of all members.
func (c *Conversation) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// OtherMember returns the counterpart in a direct conversation, nil for groups
// or when the user is not a member.
func (c *Conversation) OtherMember(userID uuid.UUID) *ConversationMember {
	if c.Kind != ConversationKindDirect {
		return nil
	}
	for i := range c.Members {
		if c.Members[i].UserID != userID {
			return &c.Members[i]
		}
	}
	return nil
}

// MemberRole defines the role of a member in a conversation
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// ConversationMember represents a user's membership in a conversation
type ConversationMember struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID string     `json:"conversation_id" gorm:"size:100;uniqueIndex:idx_conv_user;not null"`
	UserID         uuid.UUID  `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_conv_user;not null"`
	Role           MemberRole `json:"role" gorm:"type:varchar(20);default:'member'"`
	JoinedAt       time.Time  `json:"joined_at"`

	// Relations
	User User `json:"user" gorm:"foreignKey:UserID"`
}

func (m *ConversationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	return nil
}
