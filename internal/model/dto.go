package model

import "github.com/google/uuid"

// ========== Auth DTOs ==========

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UpdateProfileRequest struct {
	Name   string `json:"name" binding:"max=100"`
	Avatar string `json:"avatar" binding:"max=500"`
}

type RegisterDeviceRequest struct {
	FCMToken   string `json:"fcm_token" binding:"required"`
	DeviceType string `json:"device_type" binding:"required"`
}

// ========== Conversation DTOs ==========

type CreateGroupRequest struct {
	Name      string      `json:"name" binding:"required,min=1,max=100"`
	Avatar    string      `json:"avatar" binding:"max=500"`
	MemberIDs []uuid.UUID `json:"member_ids" binding:"required,min=1"`
}

type DirectConversationRequest struct {
	ReceiverID uuid.UUID `json:"receiver_id" binding:"required"`
}

type AddMembersRequest struct {
	MemberIDs []uuid.UUID `json:"member_ids" binding:"required,min=1"`
}

// ========== Message DTOs ==========

type SendMessageRequest struct {
	// ClientSeq correlates the caller's provisional copy with the canonical
	// record and with relay-delivered duplicates.
	ClientSeq      int64      `json:"client_seq" binding:"required,min=1"`
	Text           string     `json:"text" binding:"required_without=AttachmentURL"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	AttachmentKind MediaKind  `json:"attachment_kind,omitempty" binding:"omitempty,oneof=image video audio file"`
	ReplyToID      *uuid.UUID `json:"reply_to_id,omitempty"`
}

type EditMessageRequest struct {
	Text string `json:"text" binding:"required,min=1"`
}

type DeleteMessageRequest struct {
	// Scope is "me" (hide for the caller only) or "everyone" (hard delete).
	Scope string `json:"scope" binding:"required,oneof=me everyone"`
}

type MarkReadRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids" binding:"required,min=1"`
}

// ========== Inbox DTOs ==========

// InboxEntry is one row of the merged conversation list.
type InboxEntry struct {
	ConversationID string           `json:"conversation_id"`
	Kind           ConversationKind `json:"kind"`
	Name           string           `json:"name"`
	Avatar         string           `json:"avatar,omitempty"`
	Preview        string           `json:"preview"`
	LastActivity   string           `json:"last_activity"` // relative, e.g. "5m ago"
	LastActivityAt int64            `json:"last_activity_at,omitempty"`
	UnreadCount    int              `json:"unread_count"`
	TaggedCount    int              `json:"tagged_count"`
}

// ========== WebSocket Event DTOs ==========

type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocket event types
const (
	WSEventOpenView          = "open_view"
	WSEventCloseView         = "close_view"
	WSEventViewUpdate        = "view_update"
	WSEventRetryMessage      = "retry_message"
	WSEventNewMessage        = "new_message"
	WSEventMessageEdited     = "message_edited"
	WSEventMessageDeleted    = "message_deleted"
	WSEventMessageDeletedFor = "message_deleted_for_me"
	WSEventMessageRead       = "message_read"
	WSEventTyping            = "typing"
	WSEventStopTyping        = "stop_typing"
	WSEventOnline            = "online"
	WSEventOffline           = "offline"
	WSEventCallOffer         = "call_offer"
	WSEventCallAnswer        = "call_answer"
	WSEventCallICE           = "call_ice_candidate"
	WSEventCallHangup        = "call_hangup"
)

type TypingEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Name           string    `json:"name"`
}

type OnlineEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
}

type MessageReadEvent struct {
	ConversationID string      `json:"conversation_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
	UserID         uuid.UUID   `json:"user_id"`
}

type MessageDeletedEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	// ForUserID is set for per-user deletes; zero for delete-for-everyone.
	ForUserID uuid.UUID `json:"for_user_id,omitempty"`
}

type MessageEditedEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Text           string    `json:"text"`
}

// ========== Call Signaling DTOs ==========
//
// Signaling payloads are forwarded opaque; SDP and candidates are never parsed.

type CallOfferEvent struct {
	From           uuid.UUID   `json:"from"`
	To             uuid.UUID   `json:"to"`
	ConversationID string      `json:"conversation_id"`
	SDP            interface{} `json:"sdp"`
	CallType       string      `json:"call_type"` // "audio" or "video"
}

type CallAnswerEvent struct {
	From           uuid.UUID   `json:"from"`
	To             uuid.UUID   `json:"to"`
	ConversationID string      `json:"conversation_id"`
	SDP            interface{} `json:"sdp"`
}

type ICECandidateEvent struct {
	From           uuid.UUID   `json:"from"`
	To             uuid.UUID   `json:"to"`
	ConversationID string      `json:"conversation_id"`
	Candidate      interface{} `json:"candidate"`
}

// ========== Upload DTOs ==========

type UploadResponse struct {
	URL      string    `json:"url"`
	Kind     MediaKind `json:"kind"`
	FileName string    `json:"file_name"`
	FileSize int64     `json:"file_size"`
	MimeType string    `json:"mime_type"`
}

// ========== Common ==========

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
