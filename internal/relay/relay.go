// Package relay is the best-effort side of message delivery: room-scoped
// pub/sub over Redis channels. Events published to a room reach whoever is
// subscribed at that moment; there is no persistence, no replay and no
// delivery guarantee. Durable state lives in the store, the relay only
// shortens the path.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable reports that the relay backend is unreachable. Callers are
// expected to degrade to store-driven delivery, not to fail the operation.
var ErrUnavailable = errors.New("relay unavailable")

// Event is one relay message. Payloads stay raw JSON so the relay never
// depends on their shape.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals a payload into a relay event.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal relay payload: %w", err)
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Relay delivers events to rooms.
type Relay interface {
	// Emit publishes to a room, fire-and-forget for absent subscribers.
	Emit(ctx context.Context, roomID string, event Event) error
	// Join subscribes to a room's events until the room is left.
	Join(ctx context.Context, roomID string) (*Room, error)
}

// Room is one live subscription. Events arrive on C; Leave tears the
// subscription down and closes C.
type Room struct {
	C chan Event

	id    string
	leave func()
	once  sync.Once
}

// NewRoom builds a room with a custom teardown, for Relay implementations
// other than RedisRelay.
func NewRoom(id string, onLeave func()) *Room {
	if onLeave == nil {
		onLeave = func() {}
	}
	return &Room{C: make(chan Event, 16), id: id, leave: onLeave}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Leave unsubscribes. Safe to call more than once.
func (r *Room) Leave() {
	r.once.Do(r.leave)
}

// channelName maps a room id onto its Redis channel.
func channelName(roomID string) string {
	return "relay:room:" + roomID
}

// RedisRelay implements Relay on Redis pub/sub. Each joined room holds one
// PubSub subscription with a pump goroutine decoding into the room channel.
type RedisRelay struct {
	rdb *redis.Client
}

func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{rdb: rdb}
}

func (r *RedisRelay) Emit(ctx context.Context, roomID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal relay event: %w", err)
	}
	if err := r.rdb.Publish(ctx, channelName(roomID), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisRelay) Join(ctx context.Context, roomID string) (*Room, error) {
	pubsub := r.rdb.Subscribe(ctx, channelName(roomID))

	// Force the SUBSCRIBE round trip so a dead backend surfaces here instead
	// of as a silent room.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	room := &Room{
		C:  make(chan Event, 16),
		id: roomID,
		leave: func() {
			_ = pubsub.Close()
		},
	}

	go func() {
		defer close(room.C)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("⚠️ Relay: dropping malformed event in room %s: %v", roomID, err)
				continue
			}
			select {
			case room.C <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return room, nil
}
