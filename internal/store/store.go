// Package store is the durable side of message delivery. It wraps the GORM
// repositories and adds snapshot subscriptions: after every committed
// mutation, each subscriber of the affected conversation receives the full
// re-read message list in canonical order. Subscribers always see complete,
// ordered snapshots, never deltas.
package store

import (
	"sync"

	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/internal/repository"
	"github.com/google/uuid"
)

// Store is the persisted conversation store consumed by the synchronizer.
type Store interface {
	// Subscribe registers for snapshot updates on a conversation. The current
	// snapshot is delivered immediately.
	Subscribe(conversationID string) (*Subscription, error)

	Messages(conversationID string) ([]model.Message, error)
	CreateMessage(msg *model.Message) error
	EditMessage(conversationID string, messageID uuid.UUID, text string) error
	DeleteMessage(conversationID string, messageID uuid.UUID) error
	DeleteMessageFor(conversationID string, messageID, userID uuid.UUID) error
	MarkRead(conversationID string, messageIDs []uuid.UUID, userID uuid.UUID) error
	ClearConversation(conversationID string) error
}

// Subscription delivers conversation snapshots. The channel is buffered with
// capacity one and older snapshots are dropped when a newer one arrives, so a
// slow consumer only ever misses intermediate states, never the latest.
type Subscription struct {
	C chan []model.Message

	closeFn func()
	once    sync.Once
}

// NewSubscription builds a subscription with a custom teardown, for Store
// implementations other than GormStore.
func NewSubscription(onClose func()) *Subscription {
	return &Subscription{C: make(chan []model.Message, 1), closeFn: onClose}
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
		close(s.C)
	})
}

// GormStore implements Store on the repository layer.
type GormStore struct {
	messages      *repository.MessageRepository
	conversations *repository.ConversationRepository

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewGormStore(messages *repository.MessageRepository, conversations *repository.ConversationRepository) *GormStore {
	return &GormStore{
		messages:      messages,
		conversations: conversations,
		subs:          make(map[string]map[*Subscription]struct{}),
	}
}

func (s *GormStore) Subscribe(conversationID string) (*Subscription, error) {
	snapshot, err := s.messages.GetConversationMessages(conversationID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{C: make(chan []model.Message, 1)}
	sub.closeFn = func() { s.unsubscribe(conversationID, sub) }

	s.mu.Lock()
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[*Subscription]struct{})
	}
	s.subs[conversationID][sub] = struct{}{}
	s.mu.Unlock()

	sub.C <- snapshot
	return sub, nil
}

func (s *GormStore) unsubscribe(conversationID string, sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[conversationID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, conversationID)
		}
	}
}

// notify re-reads the conversation and fans the snapshot out to every
// subscriber, replacing any undelivered older snapshot.
func (s *GormStore) notify(conversationID string) {
	s.mu.RLock()
	n := len(s.subs[conversationID])
	s.mu.RUnlock()
	if n == 0 {
		return
	}

	snapshot, err := s.messages.GetConversationMessages(conversationID)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs[conversationID] {
		select {
		case sub.C <- snapshot:
		default:
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- snapshot:
			default:
			}
		}
	}
}

func (s *GormStore) Messages(conversationID string) ([]model.Message, error) {
	return s.messages.GetConversationMessages(conversationID)
}

func (s *GormStore) CreateMessage(msg *model.Message) error {
	if err := s.messages.Create(msg); err != nil {
		return err
	}
	// Preview upkeep is best-effort; the message itself is already durable.
	_ = s.conversations.SetLastMessage(msg.ConversationID, msg.PreviewText(), msg.SenderID, msg.CreatedAt)
	s.notify(msg.ConversationID)
	return nil
}

func (s *GormStore) EditMessage(conversationID string, messageID uuid.UUID, text string) error {
	if err := s.messages.UpdateText(messageID, text); err != nil {
		return err
	}
	s.refreshPreview(conversationID)
	s.notify(conversationID)
	return nil
}

func (s *GormStore) DeleteMessage(conversationID string, messageID uuid.UUID) error {
	if err := s.messages.Delete(messageID); err != nil {
		return err
	}
	s.refreshPreview(conversationID)
	s.notify(conversationID)
	return nil
}

func (s *GormStore) DeleteMessageFor(conversationID string, messageID, userID uuid.UUID) error {
	if err := s.messages.AddDeletedFor(messageID, userID); err != nil {
		return err
	}
	s.notify(conversationID)
	return nil
}

func (s *GormStore) MarkRead(conversationID string, messageIDs []uuid.UUID, userID uuid.UUID) error {
	if err := s.messages.MarkRead(messageIDs, userID); err != nil {
		return err
	}
	s.notify(conversationID)
	return nil
}

func (s *GormStore) ClearConversation(conversationID string) error {
	if err := s.messages.DeleteAll(conversationID); err != nil {
		return err
	}
	_ = s.conversations.ClearLastMessage(conversationID)
	s.notify(conversationID)
	return nil
}

// refreshPreview recomputes the denormalized preview after an edit or delete.
func (s *GormStore) refreshPreview(conversationID string) {
	last, err := s.messages.GetLastMessage(conversationID)
	if err != nil {
		_ = s.conversations.ClearLastMessage(conversationID)
		return
	}
	_ = s.conversations.SetLastMessage(conversationID, last.PreviewText(), last.SenderID, last.CreatedAt)
}
