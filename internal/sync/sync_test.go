package sync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/internal/relay"
	"github.com/betalkative/betalk/internal/store"
	msgsync "github.com/betalkative/betalk/internal/sync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with controllable write behavior.
type fakeStore struct {
	mu   sync.Mutex
	msgs []model.Message
	subs map[*store.Subscription]bool

	createErr  error
	createGate chan struct{}

	markedRead chan []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:       make(map[*store.Subscription]bool),
		markedRead: make(chan []uuid.UUID, 4),
	}
}

func (f *fakeStore) Subscribe(conversationID string) (*store.Subscription, error) {
	sub := store.NewSubscription(nil)
	f.mu.Lock()
	f.subs[sub] = true
	snapshot := append([]model.Message(nil), f.msgs...)
	f.mu.Unlock()
	sub.C <- snapshot
	return sub, nil
}

// push fans the current message list out to every subscriber, latest wins.
func (f *fakeStore) push() {
	f.mu.Lock()
	snapshot := append([]model.Message(nil), f.msgs...)
	subs := make([]*store.Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.C <- snapshot:
		default:
			select {
			case <-sub.C:
			default:
			}
			sub.C <- snapshot
		}
	}
}

func (f *fakeStore) setMessages(msgs []model.Message) {
	f.mu.Lock()
	f.msgs = append([]model.Message(nil), msgs...)
	f.mu.Unlock()
}

func (f *fakeStore) Messages(conversationID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.msgs...), nil
}

func (f *fakeStore) CreateMessage(msg *model.Message) error {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.msgs = append(f.msgs, *msg)
	return nil
}

func (f *fakeStore) EditMessage(conversationID string, messageID uuid.UUID, text string) error {
	return nil
}

func (f *fakeStore) DeleteMessage(conversationID string, messageID uuid.UUID) error {
	return nil
}

func (f *fakeStore) DeleteMessageFor(conversationID string, messageID, userID uuid.UUID) error {
	return nil
}

func (f *fakeStore) MarkRead(conversationID string, messageIDs []uuid.UUID, userID uuid.UUID) error {
	f.markedRead <- messageIDs
	return nil
}

func (f *fakeStore) ClearConversation(conversationID string) error { return nil }

// fakeRelay records emits and exposes the joined room for event injection.
type fakeRelay struct {
	mu      sync.Mutex
	room    *relay.Room
	emitted []relay.Event
	joinErr error
}

func (f *fakeRelay) Emit(ctx context.Context, roomID string, event relay.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, event)
	return nil
}

func (f *fakeRelay) Join(ctx context.Context, roomID string) (*relay.Room, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room = relay.NewRoom(roomID, nil)
	return f.room, nil
}

func (f *fakeRelay) inject(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	event, err := relay.NewEvent(eventType, payload)
	require.NoError(t, err)
	f.mu.Lock()
	room := f.room
	f.mu.Unlock()
	require.NotNil(t, room)
	room.C <- event
}

func openView(t *testing.T, st store.Store, rl relay.Relay, userID uuid.UUID, roster []model.User, window time.Duration) *msgsync.Synchronizer {
	t.Helper()
	s, err := msgsync.New(context.Background(), msgsync.Config{
		ConversationID:  "conv-1",
		UserID:          userID,
		Roster:          roster,
		Store:           st,
		Relay:           rl,
		ReconcileWindow: window,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitForUpdate(t *testing.T, s *msgsync.Synchronizer, pred func(msgsync.Update) bool) msgsync.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-s.Updates():
			require.True(t, ok, "updates channel closed while waiting")
			if pred(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for timeline update")
		}
	}
}

func statusOf(u msgsync.Update, text string) (msgsync.Status, bool) {
	for _, e := range u.Entries {
		if e.Message.Text == text {
			return e.Status, true
		}
	}
	return "", false
}

func hasStatus(text string, want msgsync.Status) func(msgsync.Update) bool {
	return func(u msgsync.Update) bool {
		got, ok := statusOf(u, text)
		return ok && got == want
	}
}

func TestSendConfirmsThroughStore(t *testing.T) {
	me := uuid.New()
	st := newFakeStore()
	st.createGate = make(chan struct{})
	rl := &fakeRelay{}

	s := openView(t, st, rl, me, nil, 0)

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "hello"}))

	// Echoed immediately, before the durable write completes.
	waitForUpdate(t, s, hasStatus("hello", msgsync.StatusProvisional))

	close(st.createGate)
	waitForUpdate(t, s, hasStatus("hello", msgsync.StatusCanonical))
}

func TestSendEmptyRejected(t *testing.T) {
	s := openView(t, newFakeStore(), &fakeRelay{}, uuid.New(), nil, 0)
	assert.ErrorIs(t, s.Send(msgsync.SendRequest{}), msgsync.ErrEmptyMessage)
}

func TestRelayEchoPromotesProvisional(t *testing.T) {
	me := uuid.New()
	st := newFakeStore()
	st.createGate = make(chan struct{})
	rl := &fakeRelay{}

	s := openView(t, st, rl, me, nil, 0)

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "fast path"}))
	u := waitForUpdate(t, s, hasStatus("fast path", msgsync.StatusProvisional))

	// The relay loops our own event back before the store confirms.
	var echoed model.Message
	for _, e := range u.Entries {
		if e.Message.Text == "fast path" {
			echoed = e.Message
		}
	}
	rl.inject(t, model.WSEventNewMessage, echoed)

	u = waitForUpdate(t, s, hasStatus("fast path", msgsync.StatusRelayed))
	// Still rendered exactly once.
	count := 0
	for _, e := range u.Entries {
		if e.Message.Text == "fast path" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	close(st.createGate)
	waitForUpdate(t, s, hasStatus("fast path", msgsync.StatusCanonical))
}

func TestWriteFailureThenRetry(t *testing.T) {
	me := uuid.New()
	st := newFakeStore()
	st.createErr = errors.New("db down")
	rl := &fakeRelay{}

	s := openView(t, st, rl, me, nil, 0)

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "doomed"}))
	u := waitForUpdate(t, s, hasStatus("doomed", msgsync.StatusFailed))

	var failed model.Message
	for _, e := range u.Entries {
		if e.Message.Text == "doomed" {
			failed = e.Message
		}
	}

	// Retrying a non-failed key is rejected.
	assert.ErrorIs(t, s.Retry("no-such-key"), msgsync.ErrNotFailed)

	st.mu.Lock()
	st.createErr = nil
	st.mu.Unlock()

	require.NoError(t, s.Retry(failed.Key()))
	waitForUpdate(t, s, hasStatus("doomed", msgsync.StatusCanonical))
}

func TestReconcileWindowExpires(t *testing.T) {
	me := uuid.New()
	st := newFakeStore()
	st.createGate = make(chan struct{}) // write never completes
	rl := &fakeRelay{}

	s := openView(t, st, rl, me, nil, 50*time.Millisecond)

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "stuck"}))
	waitForUpdate(t, s, hasStatus("stuck", msgsync.StatusFailed))
	close(st.createGate)
}

func TestRelayMessageFromOtherUserThenSnapshot(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	s := openView(t, st, rl, me, nil, 0)

	incoming := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       other,
		ClientSeq:      1,
		Text:           "hi there",
		CreatedAt:      time.Now(),
	}
	rl.inject(t, model.WSEventNewMessage, incoming)
	waitForUpdate(t, s, hasStatus("hi there", msgsync.StatusRelayed))

	// The store catches up; the relayed entry becomes canonical, not a duplicate.
	st.setMessages([]model.Message{incoming})
	st.push()
	u := waitForUpdate(t, s, hasStatus("hi there", msgsync.StatusCanonical))
	assert.Len(t, u.Entries, 1)
}

func TestRelayedEntrySurvivesStaleSnapshot(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	s := openView(t, st, rl, me, nil, 0)

	incoming := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       other,
		ClientSeq:      1,
		Text:           "ahead of store",
		CreatedAt:      time.Now(),
	}
	rl.inject(t, model.WSEventNewMessage, incoming)
	waitForUpdate(t, s, hasStatus("ahead of store", msgsync.StatusRelayed))

	// A snapshot that does not contain the relayed message yet must not evict it.
	st.push()
	u := waitForUpdate(t, s, func(u msgsync.Update) bool { return true })
	_, ok := statusOf(u, "ahead of store")
	assert.True(t, ok)
}

func TestDeleteForEveryoneRemovesAndSuppresses(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       other,
		Text:           "to be deleted",
		CreatedAt:      time.Now(),
	}
	st.setMessages([]model.Message{msg})

	s := openView(t, st, rl, me, nil, 0)
	waitForUpdate(t, s, hasStatus("to be deleted", msgsync.StatusCanonical))

	rl.inject(t, model.WSEventMessageDeleted, model.MessageDeletedEvent{
		ConversationID: "conv-1",
		MessageID:      msg.ID,
	})
	waitForUpdate(t, s, func(u msgsync.Update) bool {
		_, ok := statusOf(u, "to be deleted")
		return !ok
	})

	// A stale snapshot still containing the message must not resurrect it.
	st.push()
	u := waitForUpdate(t, s, func(u msgsync.Update) bool { return true })
	_, ok := statusOf(u, "to be deleted")
	assert.False(t, ok)
}

func TestDeleteForMeScoping(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       other,
		Text:           "hidden for them",
		CreatedAt:      time.Now(),
	}
	st.setMessages([]model.Message{msg})

	s := openView(t, st, rl, me, nil, 0)
	waitForUpdate(t, s, hasStatus("hidden for them", msgsync.StatusCanonical))

	// A delete-for-me event aimed at another user leaves this view intact.
	rl.inject(t, model.WSEventMessageDeletedFor, model.MessageDeletedEvent{
		ConversationID: "conv-1",
		MessageID:      msg.ID,
		ForUserID:      other,
	})
	// One aimed at this user hides the message.
	rl.inject(t, model.WSEventMessageDeletedFor, model.MessageDeletedEvent{
		ConversationID: "conv-1",
		MessageID:      msg.ID,
		ForUserID:      me,
	})
	waitForUpdate(t, s, func(u msgsync.Update) bool {
		_, ok := statusOf(u, "hidden for them")
		return !ok
	})
}

func TestEditAppliesInPlace(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       other,
		Text:           "typoed",
		CreatedAt:      time.Now(),
	}
	st.setMessages([]model.Message{msg})

	s := openView(t, st, rl, me, nil, 0)
	waitForUpdate(t, s, hasStatus("typoed", msgsync.StatusCanonical))

	rl.inject(t, model.WSEventMessageEdited, model.MessageEditedEvent{
		ConversationID: "conv-1",
		MessageID:      msg.ID,
		Text:           "fixed",
	})
	u := waitForUpdate(t, s, hasStatus("fixed", msgsync.StatusCanonical))
	for _, e := range u.Entries {
		if e.Message.Text == "fixed" {
			assert.True(t, e.Message.Edited)
		}
	}
}

func TestMarkReadBatchesUnread(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	mine := model.Message{ID: uuid.New(), ConversationID: "conv-1", SenderID: me, Text: "mine", CreatedAt: time.Now()}
	unread := model.Message{ID: uuid.New(), ConversationID: "conv-1", SenderID: other, Text: "unread", CreatedAt: time.Now()}
	read := model.Message{ID: uuid.New(), ConversationID: "conv-1", SenderID: other, Text: "read", CreatedAt: time.Now(), ReadBy: []uuid.UUID{me}}
	st.setMessages([]model.Message{mine, unread, read})

	s := openView(t, st, rl, me, nil, 0)
	waitForUpdate(t, s, hasStatus("read", msgsync.StatusCanonical))

	require.NoError(t, s.MarkRead())

	select {
	case ids := <-st.markedRead:
		assert.Equal(t, []uuid.UUID{unread.ID}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mark-read")
	}
}

func TestMentionsFrozenAtSend(t *testing.T) {
	me := uuid.New()
	alice := model.User{ID: uuid.New(), Name: "Alice"}
	st := newFakeStore()
	rl := &fakeRelay{}

	s := openView(t, st, rl, me, []model.User{alice}, 0)

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "ping @Alice"}))
	u := waitForUpdate(t, s, hasStatus("ping @Alice", msgsync.StatusCanonical))

	for _, e := range u.Entries {
		if e.Message.Text == "ping @Alice" {
			require.Len(t, e.Message.Mentions, 1)
			assert.Equal(t, alice.ID, e.Message.Mentions[0].UserID)
			assert.Equal(t, []uuid.UUID{alice.ID}, e.Message.TaggedUsers)
		}
	}
}

func TestOrderingConverges(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first := model.Message{ID: uuid.New(), ConversationID: "conv-1", SenderID: other, Text: "first", CreatedAt: base}
	second := model.Message{ID: uuid.New(), ConversationID: "conv-1", SenderID: other, Text: "second", CreatedAt: base.Add(time.Second)}
	// Delivered out of order.
	st.setMessages([]model.Message{second, first})

	s := openView(t, st, rl, me, nil, 0)
	u := waitForUpdate(t, s, hasStatus("second", msgsync.StatusCanonical))

	require.Len(t, u.Entries, 2)
	assert.Equal(t, "first", u.Entries[0].Message.Text)
	assert.Equal(t, "second", u.Entries[1].Message.Text)
}

func TestUnconfirmedSendsTailInSendOrder(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	st.createGate = make(chan struct{})
	rl := &fakeRelay{}

	placed := model.Message{ID: uuid.New(), ConversationID: "conv-1", SenderID: other, Text: "placed", CreatedAt: time.Now()}
	st.setMessages([]model.Message{placed})

	s := openView(t, st, rl, me, nil, 0)
	waitForUpdate(t, s, hasStatus("placed", msgsync.StatusCanonical))

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "out-1"}))
	require.NoError(t, s.Send(msgsync.SendRequest{Text: "out-2"}))

	u := waitForUpdate(t, s, func(u msgsync.Update) bool { return len(u.Entries) == 3 })
	assert.Equal(t, "placed", u.Entries[0].Message.Text)
	assert.Equal(t, "out-1", u.Entries[1].Message.Text)
	assert.Equal(t, "out-2", u.Entries[2].Message.Text)
	close(st.createGate)
}

func TestSendAfterReopenKeepsOlderMessages(t *testing.T) {
	me := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	// Persisted by an earlier view session of the same user; its sequence
	// number is live in the store forever.
	old := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       me,
		ClientSeq:      1,
		Text:           "from last session",
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	st.setMessages([]model.Message{old})

	s := openView(t, st, rl, me, nil, 0)
	waitForUpdate(t, s, hasStatus("from last session", msgsync.StatusCanonical))

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "fresh"}))
	waitForUpdate(t, s, hasStatus("fresh", msgsync.StatusCanonical))

	// The next full snapshot carries both records; neither may be folded
	// into the other.
	st.push()
	u := waitForUpdate(t, s, func(u msgsync.Update) bool { return len(u.Entries) == 2 })
	_, ok := statusOf(u, "from last session")
	assert.True(t, ok)
	_, ok = statusOf(u, "fresh")
	assert.True(t, ok)
}

func TestRelayMessageWithReusedSeqStillArrives(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{}

	old := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       other,
		ClientSeq:      1,
		Text:           "older",
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	st.setMessages([]model.Message{old})

	s := openView(t, st, rl, me, nil, 0)
	waitForUpdate(t, s, hasStatus("older", msgsync.StatusCanonical))

	// The peer reconnected and its sequence restarted at 1.
	fresh := model.Message{
		ID:             uuid.New(),
		ConversationID: "conv-1",
		SenderID:       other,
		ClientSeq:      1,
		Text:           "newer",
		CreatedAt:      time.Now(),
	}
	rl.inject(t, model.WSEventNewMessage, fresh)

	u := waitForUpdate(t, s, hasStatus("newer", msgsync.StatusRelayed))
	_, ok := statusOf(u, "older")
	assert.True(t, ok)
	assert.Len(t, u.Entries, 2)
}

func TestRelayUnavailableDegradesToStoreOnly(t *testing.T) {
	me := uuid.New()
	st := newFakeStore()
	rl := &fakeRelay{joinErr: relay.ErrUnavailable}

	s := openView(t, st, rl, me, nil, 0)

	require.NoError(t, s.Send(msgsync.SendRequest{Text: "still works"}))
	waitForUpdate(t, s, hasStatus("still works", msgsync.StatusCanonical))
}

func TestCloseStopsUpdatesAndRejectsSends(t *testing.T) {
	s := openView(t, newFakeStore(), &fakeRelay{}, uuid.New(), nil, 0)

	s.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Updates():
			if !ok {
				assert.ErrorIs(t, s.Send(msgsync.SendRequest{Text: "late"}), msgsync.ErrClosed)
				return
			}
		case <-deadline:
			t.Fatal("updates channel never closed")
		}
	}
}
