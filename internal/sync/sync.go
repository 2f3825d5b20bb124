// Package sync reconciles the two delivery paths of a conversation view. The
// durable store and the best-effort relay deliver the same messages at
// different times and in different shapes; the synchronizer merges both into
// one consistent timeline per open view, tracking each outgoing message from
// provisional echo through relay confirmation to its canonical record, or to
// failure when the reconcile window expires.
package sync

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sort"
	gosync "sync"
	"time"

	"github.com/betalkative/betalk/internal/mention"
	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/internal/relay"
	"github.com/betalkative/betalk/internal/store"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a timeline entry.
type Status string

const (
	// StatusProvisional: echoed locally, durable write still in flight.
	StatusProvisional Status = "provisional"
	// StatusRelayed: seen on the relay, durable confirmation still pending.
	StatusRelayed Status = "relayed"
	// StatusCanonical: the durable record. Terminal.
	StatusCanonical Status = "canonical"
	// StatusFailed: not confirmed within the reconcile window. Retry is manual.
	StatusFailed Status = "failed"
)

// Entry is one message in the merged timeline.
type Entry struct {
	Message model.Message
	Status  Status
}

// Update is a full snapshot of the merged timeline, newest generation last
// wins. Consumers must not mutate the entries.
type Update struct {
	Generation uint64
	Entries    []Entry
}

// DefaultReconcileWindow bounds how long an outgoing message may stay
// unconfirmed before it is marked failed.
const DefaultReconcileWindow = 5 * time.Second

var (
	ErrEmptyMessage = errors.New("message has no text or attachment")
	ErrClosed       = errors.New("synchronizer closed")
	ErrNotFailed    = errors.New("entry is not in a retryable state")
)

// SendRequest describes one outgoing message.
type SendRequest struct {
	Text           string
	AttachmentURL  string
	AttachmentKind model.MediaKind
	ReplyToID      *uuid.UUID
}

// Config wires one synchronizer to its conversation view.
type Config struct {
	ConversationID string
	UserID         uuid.UUID
	UserName       string
	// Roster is the member list mentions resolve against.
	Roster          []model.User
	Store           store.Store
	Relay           relay.Relay
	ReconcileWindow time.Duration
}

type entry struct {
	msg    model.Message
	status Status
	// placed entries carry an authoritative timestamp and sort canonically;
	// unplaced entries are the local outgoing tail in send order.
	placed bool
	seq    int64
	timer  *time.Timer
}

// loop input events
type (
	sendCmd struct {
		req  SendRequest
		resp chan error
	}
	retryCmd struct {
		key  string
		resp chan error
	}
	markReadCmd  struct{}
	snapshotEvt  struct{ messages []model.Message }
	relayEvt     struct{ event relay.Event }
	writeDoneEvt struct {
		key string
		msg *model.Message
		err error
	}
	windowEvt struct{ key string }
)

// Synchronizer owns the merged timeline of one open conversation view. All
// state lives in a single goroutine; the exported methods only post events.
type Synchronizer struct {
	cfg       Config
	sub       *store.Subscription
	room      *relay.Room
	inbox     chan interface{}
	updates   chan Update
	done      chan struct{}
	closeOnce gosync.Once

	// loop-owned
	// byKey indexes only this view's unconfirmed sends; canonical records
	// are tracked by id alone.
	byKey      map[string]*entry
	byID       map[uuid.UUID]*entry
	hidden     map[uuid.UUID]bool
	removed    map[uuid.UUID]bool
	nextSeq    int64
	generation uint64
}

// New opens a synchronizer: one store subscription, one relay room, one
// reducer goroutine. A dead relay degrades to store-only delivery.
func New(ctx context.Context, cfg Config) (*Synchronizer, error) {
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = DefaultReconcileWindow
	}

	sub, err := cfg.Store.Subscribe(cfg.ConversationID)
	if err != nil {
		return nil, err
	}

	var room *relay.Room
	if cfg.Relay != nil {
		room, err = cfg.Relay.Join(ctx, cfg.ConversationID)
		if err != nil {
			if !errors.Is(err, relay.ErrUnavailable) {
				sub.Close()
				return nil, err
			}
			log.Printf("⚠️ Sync: relay unavailable for %s, store-only delivery", cfg.ConversationID)
			room = nil
		}
	}

	s := &Synchronizer{
		cfg:     cfg,
		sub:     sub,
		room:    room,
		inbox:   make(chan interface{}, 64),
		updates: make(chan Update, 1),
		done:    make(chan struct{}),
		byKey:   make(map[string]*entry),
		byID:    make(map[uuid.UUID]*entry),
		hidden:  make(map[uuid.UUID]bool),
		removed: make(map[uuid.UUID]bool),
		// random base: correlation keys stay unique across view sessions,
		// so a fresh send never matches a persisted record from an old one
		nextSeq: rand.Int63(),
	}

	go s.loop()
	return s, nil
}

// Updates delivers timeline snapshots. Capacity one, latest wins: a slow
// consumer skips intermediate generations, never sees a stale one last.
func (s *Synchronizer) Updates() <-chan Update {
	return s.updates
}

// Send validates, echoes a provisional entry, starts the durable write and
// fires the relay emit. It returns once the provisional entry is placed in
// the timeline; confirmation arrives through Updates.
func (s *Synchronizer) Send(req SendRequest) error {
	if req.Text == "" && req.AttachmentURL == "" {
		return ErrEmptyMessage
	}
	resp := make(chan error, 1)
	if err := s.post(sendCmd{req: req, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

// Retry re-attempts a failed send under its original correlation key.
func (s *Synchronizer) Retry(key string) error {
	resp := make(chan error, 1)
	if err := s.post(retryCmd{key: key, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

// MarkRead marks every currently visible unread message as read by this user,
// in one batch. Repeat calls are no-ops once receipts exist.
func (s *Synchronizer) MarkRead() error {
	return s.post(markReadCmd{})
}

// Close tears the view down: store subscription closed, relay room left,
// reducer stopped. In-flight writes complete but their results are dropped.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Synchronizer) post(evt interface{}) error {
	select {
	case s.inbox <- evt:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Synchronizer) loop() {
	defer func() {
		s.sub.Close()
		if s.room != nil {
			s.room.Leave()
		}
		for _, e := range s.byKey {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
		close(s.updates)
	}()

	var roomC chan relay.Event
	if s.room != nil {
		roomC = s.room.C
	}

	for {
		select {
		case <-s.done:
			return
		case messages, ok := <-s.sub.C:
			if !ok {
				return
			}
			s.reduceSnapshot(messages)
			s.publish()
		case event, ok := <-roomC:
			if !ok {
				roomC = nil
				continue
			}
			if s.reduceRelay(event) {
				s.publish()
			}
		case evt := <-s.inbox:
			if s.reduce(evt) {
				s.publish()
			}
		}
	}
}

func (s *Synchronizer) reduce(evt interface{}) bool {
	switch e := evt.(type) {
	case sendCmd:
		e.resp <- s.reduceSend(e.req)
		return true
	case retryCmd:
		e.resp <- s.reduceRetry(e.key)
		return true
	case markReadCmd:
		s.reduceMarkRead()
		return false
	case writeDoneEvt:
		return s.reduceWriteDone(e)
	case windowEvt:
		return s.reduceWindow(e.key)
	}
	return false
}

// reduceSend builds the message, echoes it provisionally and starts both
// delivery paths.
func (s *Synchronizer) reduceSend(req SendRequest) error {
	s.nextSeq++
	seq := s.nextSeq

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: s.cfg.ConversationID,
		SenderID:       s.cfg.UserID,
		ClientSeq:      seq,
		Text:           req.Text,
		AttachmentURL:  req.AttachmentURL,
		AttachmentKind: req.AttachmentKind,
		CreatedAt:      time.Now(),
	}

	if req.ReplyToID != nil {
		if target, ok := s.byID[*req.ReplyToID]; ok {
			msg.ReplyTo = &model.ReplySnapshot{
				MessageID:  target.msg.ID,
				SenderID:   target.msg.SenderID,
				SenderName: target.msg.Sender.Name,
				Text:       target.msg.Text,
			}
		}
	}

	msg.Mentions = mention.Resolve(req.Text, s.cfg.Roster)
	var replied *model.Message
	if req.ReplyToID != nil {
		if target, ok := s.byID[*req.ReplyToID]; ok {
			replied = &target.msg
		}
	}
	msg.TaggedUsers = mention.TaggedUsers(msg.Mentions, replied)

	key := msg.Key()
	ent := &entry{msg: msg, status: StatusProvisional, seq: seq}
	s.byKey[key] = ent
	s.byID[msg.ID] = ent

	s.startWindow(ent)
	s.dispatch(msg)
	return nil
}

// reduceRetry re-dispatches a failed entry under the same key; the store and
// relay both deduplicate on it.
func (s *Synchronizer) reduceRetry(key string) error {
	ent, ok := s.byKey[key]
	if !ok || ent.status != StatusFailed {
		return ErrNotFailed
	}
	ent.status = StatusProvisional
	s.startWindow(ent)
	s.dispatch(ent.msg)
	return nil
}

// dispatch runs the durable write concurrently and fires the relay emit.
// Neither path blocks the reducer.
func (s *Synchronizer) dispatch(msg model.Message) {
	key := msg.Key()

	go func() {
		write := msg
		err := s.cfg.Store.CreateMessage(&write)
		select {
		case s.inbox <- writeDoneEvt{key: key, msg: &write, err: err}:
		case <-s.done:
		}
	}()

	if s.cfg.Relay != nil {
		go func() {
			event, err := relay.NewEvent(model.WSEventNewMessage, msg)
			if err != nil {
				return
			}
			if err := s.cfg.Relay.Emit(context.Background(), s.cfg.ConversationID, event); err != nil {
				log.Printf("⚠️ Sync: relay emit failed for %s: %v", key, err)
			}
		}()
	}
}

func (s *Synchronizer) startWindow(ent *entry) {
	if ent.timer != nil {
		ent.timer.Stop()
	}
	key := ent.msg.Key()
	ent.timer = time.AfterFunc(s.cfg.ReconcileWindow, func() {
		select {
		case s.inbox <- windowEvt{key: key}:
		case <-s.done:
		}
	})
}

func (s *Synchronizer) reduceWriteDone(evt writeDoneEvt) bool {
	ent, ok := s.byKey[evt.key]
	if !ok || ent.status == StatusCanonical {
		return false
	}
	if evt.err != nil {
		log.Printf("❌ Sync: durable write failed for %s: %v", evt.key, evt.err)
		return s.fail(ent)
	}
	s.resolve(ent, *evt.msg)
	return true
}

func (s *Synchronizer) reduceWindow(key string) bool {
	ent, ok := s.byKey[key]
	if !ok || ent.status == StatusCanonical || ent.status == StatusFailed {
		return false
	}
	return s.fail(ent)
}

func (s *Synchronizer) fail(ent *entry) bool {
	ent.status = StatusFailed
	if ent.timer != nil {
		ent.timer.Stop()
		ent.timer = nil
	}
	return true
}

// resolve adopts the canonical record for a pending entry: server identity
// and timestamp replace the provisional ones and the entry moves into the
// sorted region.
func (s *Synchronizer) resolve(ent *entry, canonical model.Message) {
	if ent.timer != nil {
		ent.timer.Stop()
		ent.timer = nil
	}
	if key := ent.msg.Key(); key != "" && s.byKey[key] == ent {
		delete(s.byKey, key)
	}
	delete(s.byID, ent.msg.ID)
	ent.msg = canonical
	ent.status = StatusCanonical
	ent.placed = true
	s.byID[canonical.ID] = ent
}

// reduceSnapshot folds an authoritative store snapshot into the timeline.
func (s *Synchronizer) reduceSnapshot(messages []model.Message) {
	present := make(map[uuid.UUID]bool, len(messages))

	for _, msg := range messages {
		if s.removed[msg.ID] || s.hidden[msg.ID] || !msg.VisibleTo(s.cfg.UserID) {
			continue
		}
		present[msg.ID] = true

		if key := msg.Key(); key != "" {
			if ent, ok := s.byKey[key]; ok {
				s.resolve(ent, msg)
				continue
			}
		}
		if ent, ok := s.byID[msg.ID]; ok {
			s.resolve(ent, msg)
			continue
		}
		ent := &entry{msg: msg, status: StatusCanonical, placed: true}
		s.byID[msg.ID] = ent
	}

	// Canonical entries missing from the snapshot were deleted for everyone.
	// Relayed placed entries stay until the store catches up.
	for id, ent := range s.byID {
		if ent.status == StatusCanonical && !present[id] {
			s.drop(ent)
		}
	}
}

// reduceRelay folds one relay event in. Returns whether the timeline changed.
func (s *Synchronizer) reduceRelay(event relay.Event) bool {
	switch event.Type {
	case model.WSEventNewMessage:
		var msg model.Message
		if err := event.Decode(&msg); err != nil {
			return false
		}
		return s.reduceRelayMessage(msg)

	case model.WSEventMessageDeleted:
		var payload model.MessageDeletedEvent
		if err := event.Decode(&payload); err != nil {
			return false
		}
		s.removed[payload.MessageID] = true
		if ent, ok := s.byID[payload.MessageID]; ok {
			s.drop(ent)
			return true
		}
		return false

	case model.WSEventMessageDeletedFor:
		var payload model.MessageDeletedEvent
		if err := event.Decode(&payload); err != nil {
			return false
		}
		if payload.ForUserID != s.cfg.UserID {
			return false
		}
		s.hidden[payload.MessageID] = true
		if ent, ok := s.byID[payload.MessageID]; ok {
			s.drop(ent)
			return true
		}
		return false

	case model.WSEventMessageEdited:
		var payload model.MessageEditedEvent
		if err := event.Decode(&payload); err != nil {
			return false
		}
		if ent, ok := s.byID[payload.MessageID]; ok {
			ent.msg.Text = payload.Text
			ent.msg.Edited = true
			return true
		}
		return false
	}
	return false
}

func (s *Synchronizer) reduceRelayMessage(msg model.Message) bool {
	if s.removed[msg.ID] || s.hidden[msg.ID] || !msg.VisibleTo(s.cfg.UserID) {
		return false
	}

	if key := msg.Key(); key != "" {
		if ent, ok := s.byKey[key]; ok {
			// Relay echo of a send already tracked here; never rendered twice.
			if ent.status == StatusProvisional {
				ent.status = StatusRelayed
				return true
			}
			return false
		}
	}
	if _, ok := s.byID[msg.ID]; ok {
		return false
	}

	ent := &entry{msg: msg, status: StatusRelayed, placed: true}
	s.byID[msg.ID] = ent
	return true
}

func (s *Synchronizer) reduceMarkRead() {
	ids := []uuid.UUID{}
	for _, ent := range s.byID {
		if ent.status != StatusCanonical {
			continue
		}
		if ent.msg.SenderID == s.cfg.UserID || ent.msg.IsReadBy(s.cfg.UserID) {
			continue
		}
		ids = append(ids, ent.msg.ID)
	}
	if len(ids) == 0 {
		return
	}
	go func() {
		if err := s.cfg.Store.MarkRead(s.cfg.ConversationID, ids, s.cfg.UserID); err != nil {
			log.Printf("⚠️ Sync: mark-read failed for %s: %v", s.cfg.ConversationID, err)
		}
	}()
}

func (s *Synchronizer) drop(ent *entry) {
	if ent.timer != nil {
		ent.timer.Stop()
	}
	delete(s.byID, ent.msg.ID)
	if key := ent.msg.Key(); key != "" && s.byKey[key] == ent {
		delete(s.byKey, key)
	}
}

// publish assembles the ordered timeline and hands it to the consumer,
// replacing any undelivered older generation.
func (s *Synchronizer) publish() {
	placed := []*entry{}
	tail := []*entry{}
	for _, ent := range s.byID {
		if ent.placed {
			placed = append(placed, ent)
		} else {
			tail = append(tail, ent)
		}
	}
	sort.Slice(placed, func(i, j int) bool {
		return placed[i].msg.Before(&placed[j].msg)
	})
	sort.Slice(tail, func(i, j int) bool {
		return tail[i].seq < tail[j].seq
	})

	entries := make([]Entry, 0, len(placed)+len(tail))
	for _, ent := range placed {
		entries = append(entries, Entry{Message: ent.msg, Status: ent.status})
	}
	for _, ent := range tail {
		entries = append(entries, Entry{Message: ent.msg, Status: ent.status})
	}

	s.generation++
	update := Update{Generation: s.generation, Entries: entries}

	select {
	case s.updates <- update:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- update:
		default:
		}
	}
}
