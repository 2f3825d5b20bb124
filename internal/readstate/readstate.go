// Package readstate derives per-user unread and tagged counters from a
// message list. The counters are never stored; they are recomputed from the
// visible messages and memoized per timeline generation.
package readstate

import (
	"sync"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
)

// Counts is the derived notification state of one conversation for one user.
type Counts struct {
	// Unread: visible messages from others the user has not read.
	Unread int
	// Tagged: unread messages that mention the user or reply to one of the
	// user's own. Always a subset of Unread.
	Tagged int
}

// Derive computes the counters over one message list. Messages the user has
// deleted for themselves never count.
func Derive(messages []model.Message, userID uuid.UUID) Counts {
	var c Counts
	for i := range messages {
		msg := &messages[i]
		if !msg.VisibleTo(userID) {
			continue
		}
		if msg.SenderID == userID || msg.IsReadBy(userID) {
			continue
		}
		c.Unread++
		if msg.Tags(userID) {
			c.Tagged++
		}
	}
	return c
}

type cacheKey struct {
	conversationID string
	userID         uuid.UUID
}

type cacheEntry struct {
	generation uint64
	counts     Counts
}

// Tracker memoizes Derive per (conversation, user) keyed by the timeline
// generation, so repeated reads between updates cost a map lookup.
type Tracker struct {
	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

func NewTracker() *Tracker {
	return &Tracker{cache: make(map[cacheKey]cacheEntry)}
}

// Counts returns the counters for the given generation, recomputing only when
// the generation moved on.
func (t *Tracker) Counts(conversationID string, userID uuid.UUID, generation uint64, messages []model.Message) Counts {
	key := cacheKey{conversationID: conversationID, userID: userID}

	t.mu.Lock()
	if entry, ok := t.cache[key]; ok && entry.generation == generation {
		t.mu.Unlock()
		return entry.counts
	}
	t.mu.Unlock()

	counts := Derive(messages, userID)

	t.mu.Lock()
	t.cache[key] = cacheEntry{generation: generation, counts: counts}
	t.mu.Unlock()
	return counts
}

// Forget drops the cached state of one conversation view.
func (t *Tracker) Forget(conversationID string, userID uuid.UUID) {
	t.mu.Lock()
	delete(t.cache, cacheKey{conversationID: conversationID, userID: userID})
	t.mu.Unlock()
}
