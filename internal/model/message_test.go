package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationKey(t *testing.T) {
	sender := uuid.New()
	msg := &Message{SenderID: sender, ConversationID: "conv-1", ClientSeq: 7}

	assert.Equal(t, CorrelationKey(sender, "conv-1", 7), msg.Key())

	// Messages without a client sequence have no key.
	seeded := &Message{SenderID: sender, ConversationID: "conv-1"}
	assert.Empty(t, seeded.Key())
}

func TestMessageBefore(t *testing.T) {
	early := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	late := early.Add(time.Second)

	a := &Message{ID: uuid.New(), CreatedAt: early}
	b := &Message{ID: uuid.New(), CreatedAt: late}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))

	// Equal timestamps fall back to id ordering, so every replica agrees.
	c := &Message{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), CreatedAt: early}
	d := &Message{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), CreatedAt: early}
	assert.True(t, c.Before(d))
	assert.False(t, d.Before(c))
}

func TestMessageTags(t *testing.T) {
	me := uuid.New()
	other := uuid.New()

	tagged := &Message{TaggedUsers: []uuid.UUID{me}}
	assert.True(t, tagged.Tags(me))
	assert.False(t, tagged.Tags(other))

	reply := &Message{ReplyTo: &ReplySnapshot{SenderID: me}}
	assert.True(t, reply.Tags(me))
	assert.False(t, reply.Tags(other))
}

func TestMessagePreviewText(t *testing.T) {
	assert.Equal(t, "hello", (&Message{Text: "hello"}).PreviewText())
	assert.Equal(t, "Voice message", (&Message{AttachmentKind: MediaKindAudio}).PreviewText())
	assert.Equal(t, "Photo", (&Message{AttachmentKind: MediaKindImage}).PreviewText())
	assert.Equal(t, "Video", (&Message{AttachmentKind: MediaKindVideo}).PreviewText())
	assert.Equal(t, "File", (&Message{AttachmentKind: MediaKindFile}).PreviewText())

	// Text wins over attachment kind.
	assert.Equal(t, "cap", (&Message{Text: "cap", AttachmentKind: MediaKindImage}).PreviewText())
}

func TestDirectConversationID(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	// Both sides derive the same id regardless of argument order.
	assert.Equal(t, DirectConversationID(a, b), DirectConversationID(b, a))
	assert.NotEqual(t, DirectConversationID(a, b), DirectConversationID(a, uuid.New()))
}
