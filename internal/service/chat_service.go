package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/betalkative/betalk/internal/inbox"
	"github.com/betalkative/betalk/internal/mention"
	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/internal/policy"
	"github.com/betalkative/betalk/internal/readstate"
	"github.com/betalkative/betalk/internal/relay"
	"github.com/betalkative/betalk/internal/repository"
	"github.com/betalkative/betalk/internal/store"
	msgsync "github.com/betalkative/betalk/internal/sync"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotMember            = errors.New("you are not a member of this conversation")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyMessage         = errors.New("message has no text or attachment")
	ErrSelfConversation     = errors.New("cannot open a direct conversation with yourself")
)

// PushNotifier delivers push notifications for messages that arrive while the
// recipient has no open view.
type PushNotifier interface {
	NotifyUsers(userIDs []uuid.UUID, title, body string, data map[string]string)
}

// ChatService orchestrates message delivery: durable writes through the
// store, best-effort fan-out through the relay, pushes for offline members.
type ChatService struct {
	convRepo *repository.ConversationRepository
	userRepo *repository.UserRepository
	store    store.Store
	relay    relay.Relay
	tracker  *readstate.Tracker
	notifier PushNotifier

	reconcileWindow time.Duration
}

func NewChatService(
	convRepo *repository.ConversationRepository,
	userRepo *repository.UserRepository,
	st store.Store,
	rl relay.Relay,
	notifier PushNotifier,
) *ChatService {
	return &ChatService{
		convRepo:        convRepo,
		userRepo:        userRepo,
		store:           st,
		relay:           rl,
		tracker:         readstate.NewTracker(),
		notifier:        notifier,
		reconcileWindow: msgsync.DefaultReconcileWindow,
	}
}

// SetReconcileWindow overrides how long open views wait for send confirmation.
func (s *ChatService) SetReconcileWindow(d time.Duration) {
	s.reconcileWindow = d
}

// OpenView opens a synchronized view of a conversation for one user: a live
// merged timeline fed by the store subscription and the relay room.
func (s *ChatService) OpenView(ctx context.Context, userID uuid.UUID, convID string) (*msgsync.Synchronizer, error) {
	conv, err := s.memberConversation(convID, userID)
	if err != nil {
		return nil, err
	}

	roster := make([]model.User, 0, len(conv.Members))
	var userName string
	for _, m := range conv.Members {
		roster = append(roster, m.User)
		if m.UserID == userID {
			userName = m.User.Name
		}
	}

	return msgsync.New(ctx, msgsync.Config{
		ConversationID:  convID,
		UserID:          userID,
		UserName:        userName,
		Roster:          roster,
		Store:           s.store,
		Relay:           s.relay,
		ReconcileWindow: s.reconcileWindow,
	})
}

// Tracker exposes the memoized read-state tracker for view consumers.
func (s *ChatService) Tracker() *readstate.Tracker {
	return s.tracker
}

// memberConversation loads a conversation and enforces membership.
func (s *ChatService) memberConversation(convID string, userID uuid.UUID) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.IsMember(userID) {
		return nil, ErrNotMember
	}
	return conv, nil
}

// GetOrCreateDirect returns the direct conversation between two users,
// creating it under its deterministic id on first contact.
func (s *ChatService) GetOrCreateDirect(myID, partnerID uuid.UUID) (*model.Conversation, bool, error) {
	if myID == partnerID {
		return nil, false, ErrSelfConversation
	}

	convID := model.DirectConversationID(myID, partnerID)
	conv, err := s.convRepo.FindByID(convID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	if _, err := s.userRepo.FindByID(partnerID); err != nil {
		return nil, false, fmt.Errorf("partner lookup: %w", err)
	}

	conv = &model.Conversation{
		ID:   convID,
		Kind: model.ConversationKindDirect,
		Members: []model.ConversationMember{
			{UserID: myID, Role: model.MemberRoleMember},
			{UserID: partnerID, Role: model.MemberRoleMember},
		},
	}
	if err := s.convRepo.Create(conv); err != nil {
		return nil, false, fmt.Errorf("create direct conversation: %w", err)
	}

	conv, err = s.convRepo.FindByID(convID)
	return conv, true, err
}

// CreateGroup creates a group conversation with the creator as admin.
func (s *ChatService) CreateGroup(creatorID uuid.UUID, req model.CreateGroupRequest) (*model.Conversation, error) {
	members := []model.ConversationMember{
		{UserID: creatorID, Role: model.MemberRoleAdmin},
	}
	for _, memberID := range req.MemberIDs {
		if memberID == creatorID {
			continue
		}
		members = append(members, model.ConversationMember{
			UserID: memberID,
			Role:   model.MemberRoleMember,
		})
	}

	conv := &model.Conversation{
		Kind:      model.ConversationKindGroup,
		Name:      req.Name,
		Avatar:    req.Avatar,
		CreatorID: &creatorID,
		Members:   members,
	}
	if err := s.convRepo.Create(conv); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return s.convRepo.FindByID(conv.ID)
}

// AddMembers adds users to a group. Admin only.
func (s *ChatService) AddMembers(convID string, actorID uuid.UUID, memberIDs []uuid.UUID) (*model.Conversation, error) {
	conv, err := s.memberConversation(convID, actorID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != model.ConversationKindGroup || !conv.IsAdmin(actorID) {
		return nil, policy.ErrNotPermitted
	}
	for _, id := range memberIDs {
		if conv.IsMember(id) {
			continue
		}
		member := &model.ConversationMember{
			ConversationID: convID,
			UserID:         id,
			Role:           model.MemberRoleMember,
		}
		if err := s.convRepo.AddMember(member); err != nil {
			return nil, err
		}
	}
	return s.convRepo.FindByID(convID)
}

// LeaveConversation removes the user from a group.
func (s *ChatService) LeaveConversation(convID string, userID uuid.UUID) error {
	conv, err := s.memberConversation(convID, userID)
	if err != nil {
		return err
	}
	if conv.Kind != model.ConversationKindGroup {
		return policy.ErrNotPermitted
	}
	return s.convRepo.RemoveMember(convID, userID)
}

// GetConversation returns a conversation the user belongs to.
func (s *ChatService) GetConversation(convID string, userID uuid.UUID) (*model.Conversation, error) {
	return s.memberConversation(convID, userID)
}

// GetMessages returns the conversation timeline visible to the user, in
// canonical order.
func (s *ChatService) GetMessages(convID string, userID uuid.UUID) ([]model.Message, error) {
	if _, err := s.memberConversation(convID, userID); err != nil {
		return nil, err
	}
	messages, err := s.store.Messages(convID)
	if err != nil {
		return nil, err
	}
	visible := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.VisibleTo(userID) {
			visible = append(visible, msg)
		}
	}
	return visible, nil
}

// SendMessage runs the durable half of the send path: freeze the reply
// snapshot, resolve mentions, persist, then fan out. The relay emit is
// best-effort; a dead relay never fails the send.
func (s *ChatService) SendMessage(senderID uuid.UUID, convID string, req model.SendMessageRequest) (*model.Message, error) {
	conv, err := s.memberConversation(convID, senderID)
	if err != nil {
		return nil, err
	}
	if req.Text == "" && req.AttachmentURL == "" {
		return nil, ErrEmptyMessage
	}

	msg := &model.Message{
		ConversationID: convID,
		SenderID:       senderID,
		ClientSeq:      req.ClientSeq,
		Text:           req.Text,
		AttachmentURL:  req.AttachmentURL,
		AttachmentKind: req.AttachmentKind,
		CreatedAt:      time.Now(),
	}
	for _, m := range conv.Members {
		if m.UserID == senderID {
			msg.Sender = m.User
			break
		}
	}

	var replied *model.Message
	if req.ReplyToID != nil {
		replied, err = s.findMessage(convID, *req.ReplyToID)
		if err != nil {
			return nil, err
		}
		msg.ReplyTo = &model.ReplySnapshot{
			MessageID:  replied.ID,
			SenderID:   replied.SenderID,
			SenderName: replied.Sender.Name,
			Text:       replied.Text,
		}
	}

	roster := make([]model.User, 0, len(conv.Members))
	for _, m := range conv.Members {
		roster = append(roster, m.User)
	}
	msg.Mentions = mention.Resolve(req.Text, roster)
	msg.TaggedUsers = mention.TaggedUsers(msg.Mentions, replied)

	if err := s.store.CreateMessage(msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.emit(convID, model.WSEventNewMessage, msg)
	s.push(conv, msg)
	return msg, nil
}

// EditMessage applies an in-place edit within the policy window. The server
// timestamp never moves; only text and the edited flag change.
func (s *ChatService) EditMessage(userID uuid.UUID, convID string, messageID uuid.UUID, text string) (*model.Message, error) {
	if _, err := s.memberConversation(convID, userID); err != nil {
		return nil, err
	}
	msg, err := s.findMessage(convID, messageID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanEdit(msg, userID, text, time.Now()); err != nil {
		return nil, err
	}
	if err := s.store.EditMessage(convID, messageID, text); err != nil {
		return nil, fmt.Errorf("persist edit: %w", err)
	}

	s.emit(convID, model.WSEventMessageEdited, model.MessageEditedEvent{
		ConversationID: convID,
		MessageID:      messageID,
		Text:           text,
	})
	msg.Text = text
	msg.Edited = true
	return msg, nil
}

// DeleteMessage removes a message in one of two scopes. "me" hides it for the
// caller only; "everyone" hard-deletes it. The delete-for-everyone relay
// event goes out ahead of the store confirmation so open views react at once.
func (s *ChatService) DeleteMessage(userID uuid.UUID, convID string, messageID uuid.UUID, scope string) error {
	conv, err := s.memberConversation(convID, userID)
	if err != nil {
		return err
	}
	msg, err := s.findMessage(convID, messageID)
	if err != nil {
		return err
	}

	switch scope {
	case "everyone":
		if err := policy.CanDeleteForEveryone(msg, conv, userID); err != nil {
			return err
		}
		s.emit(convID, model.WSEventMessageDeleted, model.MessageDeletedEvent{
			ConversationID: convID,
			MessageID:      messageID,
		})
		if err := s.store.DeleteMessage(convID, messageID); err != nil {
			return fmt.Errorf("persist delete: %w", err)
		}
		return nil
	default:
		if err := policy.CanDeleteForMe(conv, userID); err != nil {
			return err
		}
		if err := s.store.DeleteMessageFor(convID, messageID, userID); err != nil {
			return fmt.Errorf("persist delete-for-me: %w", err)
		}
		s.emit(convID, model.WSEventMessageDeletedFor, model.MessageDeletedEvent{
			ConversationID: convID,
			MessageID:      messageID,
			ForUserID:      userID,
		})
		return nil
	}
}

// MarkRead records read receipts for a batch of messages in one atomic,
// idempotent write.
func (s *ChatService) MarkRead(userID uuid.UUID, convID string, messageIDs []uuid.UUID) error {
	if _, err := s.memberConversation(convID, userID); err != nil {
		return err
	}
	if err := s.store.MarkRead(convID, messageIDs, userID); err != nil {
		return fmt.Errorf("persist receipts: %w", err)
	}
	s.emit(convID, model.WSEventMessageRead, model.MessageReadEvent{
		ConversationID: convID,
		MessageIDs:     messageIDs,
		UserID:         userID,
	})
	return nil
}

// ClearConversation hard-deletes every message and blanks the preview.
func (s *ChatService) ClearConversation(userID uuid.UUID, convID string) error {
	if _, err := s.memberConversation(convID, userID); err != nil {
		return err
	}
	return s.store.ClearConversation(convID)
}

// GetInbox builds the merged conversation list with derived counters.
func (s *ChatService) GetInbox(userID uuid.UUID) ([]model.InboxEntry, error) {
	conversations, err := s.convRepo.GetUserConversations(userID)
	if err != nil {
		return nil, err
	}

	counts := func(convID string) readstate.Counts {
		messages, err := s.store.Messages(convID)
		if err != nil {
			return readstate.Counts{}
		}
		return readstate.Derive(messages, userID)
	}
	return inbox.Build(conversations, userID, counts, time.Now()), nil
}

// GetConversationMemberIDs returns all member IDs for a conversation.
func (s *ChatService) GetConversationMemberIDs(convID string) ([]uuid.UUID, error) {
	return s.convRepo.GetMemberIDs(convID)
}

func (s *ChatService) findMessage(convID string, messageID uuid.UUID) (*model.Message, error) {
	messages, err := s.store.Messages(convID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].ID == messageID {
			return &messages[i], nil
		}
	}
	return nil, ErrMessageNotFound
}

// emit publishes a relay event, degrading silently when the relay is down.
func (s *ChatService) emit(convID string, eventType string, payload interface{}) {
	if s.relay == nil {
		return
	}
	event, err := relay.NewEvent(eventType, payload)
	if err != nil {
		return
	}
	if err := s.relay.Emit(context.Background(), convID, event); err != nil {
		log.Printf("⚠️ Chat: relay emit %s failed: %v", eventType, err)
	}
}

// push notifies the other members' devices about a new message.
func (s *ChatService) push(conv *model.Conversation, msg *model.Message) {
	if s.notifier == nil {
		return
	}
	recipients := []uuid.UUID{}
	for _, m := range conv.Members {
		if m.UserID != msg.SenderID {
			recipients = append(recipients, m.UserID)
		}
	}
	if len(recipients) == 0 {
		return
	}

	title := msg.Sender.Name
	if title == "" {
		title = "New message"
	}
	if conv.Kind == model.ConversationKindGroup && conv.Name != "" {
		title = conv.Name
	}

	go s.notifier.NotifyUsers(recipients, title, inbox.TruncatePreview(msg.PreviewText()), map[string]string{
		"conversation_id": conv.ID,
		"message_id":      msg.ID.String(),
	})
}
