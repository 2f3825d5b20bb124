package readstate

import (
	"testing"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	me := uuid.New()
	other := uuid.New()

	messages := []model.Message{
		// My own message never counts.
		{ID: uuid.New(), SenderID: me},
		// Unread from someone else.
		{ID: uuid.New(), SenderID: other},
		// Unread and tags me.
		{ID: uuid.New(), SenderID: other, TaggedUsers: []uuid.UUID{me}},
		// Unread reply to one of mine.
		{ID: uuid.New(), SenderID: other, ReplyTo: &model.ReplySnapshot{SenderID: me}},
		// Already read.
		{ID: uuid.New(), SenderID: other, ReadBy: []uuid.UUID{me}},
		// Deleted for me.
		{ID: uuid.New(), SenderID: other, DeletedFor: []uuid.UUID{me}},
	}

	c := Derive(messages, me)
	assert.Equal(t, 3, c.Unread)
	assert.Equal(t, 2, c.Tagged)
}

func TestDeriveTaggedIsSubsetOfUnread(t *testing.T) {
	me := uuid.New()
	other := uuid.New()

	// Tagged but already read: contributes to neither counter.
	messages := []model.Message{
		{ID: uuid.New(), SenderID: other, TaggedUsers: []uuid.UUID{me}, ReadBy: []uuid.UUID{me}},
	}

	c := Derive(messages, me)
	assert.Equal(t, Counts{}, c)
}

func TestTrackerMemoizesPerGeneration(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	tracker := NewTracker()

	messages := []model.Message{{ID: uuid.New(), SenderID: other}}

	c := tracker.Counts("conv", me, 1, messages)
	assert.Equal(t, 1, c.Unread)

	// Same generation: the cached result is returned even if the input changed.
	c = tracker.Counts("conv", me, 1, nil)
	assert.Equal(t, 1, c.Unread)

	// New generation recomputes.
	c = tracker.Counts("conv", me, 2, nil)
	assert.Equal(t, 0, c.Unread)
}

func TestTrackerForget(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	tracker := NewTracker()

	messages := []model.Message{{ID: uuid.New(), SenderID: other}}
	_ = tracker.Counts("conv", me, 1, messages)

	tracker.Forget("conv", me)

	// After Forget the same generation recomputes from scratch.
	c := tracker.Counts("conv", me, 1, nil)
	assert.Equal(t, 0, c.Unread)
}
