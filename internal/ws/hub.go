package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// userChannel carries user-targeted events (presence, typing, call
// signaling) across instances. Conversation traffic travels through relay
// rooms instead and never passes through this channel.
const userChannel = "betalk:user-events"

// Hub tracks the WebSocket connections of this instance and delivers
// user-targeted events, fanning them out through Redis so every instance can
// reach every user.
type Hub struct {
	// userID -> connections; one user can hold several tabs/devices
	clients map[uuid.UUID]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	rdb *redis.Client

	// invoked when a user's first connection opens or last one closes
	onStatusChange func(userID uuid.UUID, online bool)
}

func NewHub(rdb *redis.Client, onStatusChange func(userID uuid.UUID, online bool)) *Hub {
	return &Hub{
		clients:        make(map[uuid.UUID]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		rdb:            rdb,
		onStatusChange: onStatusChange,
	}
}

// Run starts the hub's event loop and the cross-instance subscriber.
func (h *Hub) Run(ctx context.Context) {
	go h.subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register queues a client for registration with the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.UserID]; !ok {
		h.clients[client.UserID] = make(map[*Client]bool)
		if h.onStatusChange != nil {
			go h.onStatusChange(client.UserID, true)
		}
		h.publish(&TargetedEvent{
			Event: &model.WSEvent{
				Type:    model.WSEventOnline,
				Payload: model.OnlineEvent{UserID: client.UserID, IsOnline: true},
			},
		})
	}
	h.clients[client.UserID][client] = true
	log.Printf("✅ Client connected: %s (connections: %d)", client.UserID, len(h.clients[client.UserID]))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.UserID]; ok {
		// the delivery path may already have dropped this client for a
		// full send buffer; only close the channel once
		if _, active := clients[client]; active {
			delete(clients, client)
			close(client.send)
		}

		if len(clients) == 0 {
			delete(h.clients, client.UserID)
			if h.onStatusChange != nil {
				go h.onStatusChange(client.UserID, false)
			}
			h.publish(&TargetedEvent{
				Event: &model.WSEvent{
					Type:    model.WSEventOffline,
					Payload: model.OnlineEvent{UserID: client.UserID, IsOnline: false},
				},
			})
		}
	}
	log.Printf("❌ Client disconnected: %s", client.UserID)
}

// SendToUser delivers an event to all of a user's connections, on any instance.
func (h *Hub) SendToUser(userID uuid.UUID, event *model.WSEvent) {
	h.publish(&TargetedEvent{TargetUserID: userID, Event: event})
}

// SendToUsers delivers an event to several users.
func (h *Hub) SendToUsers(userIDs []uuid.UUID, event *model.WSEvent) {
	for _, userID := range userIDs {
		h.SendToUser(userID, event)
	}
}

func (h *Hub) deliverLocal(userID uuid.UUID, event *model.WSEvent) {
	// full lock: dropping a congested client mutates the set
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[userID]
	if !ok {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}
	for client := range clients {
		select {
		case client.send <- data:
		default:
			// send buffer full, drop the connection
			close(client.send)
			delete(clients, client)
		}
	}
}

func (h *Hub) broadcastLocal(event *model.WSEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}
	for _, clients := range h.clients {
		for client := range clients {
			select {
			case client.send <- data:
			default:
				close(client.send)
				delete(clients, client)
			}
		}
	}
}

// IsUserOnline checks whether a user has an active connection on this instance.
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// TargetedEvent wraps an event with its target for cross-instance delivery.
// A nil target means broadcast.
type TargetedEvent struct {
	TargetUserID uuid.UUID      `json:"target_user_id,omitempty"`
	Event        *model.WSEvent `json:"event"`
}

func (h *Hub) publish(data *TargetedEvent) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("Error marshaling for Redis: %v", err)
		return
	}
	if err := h.rdb.Publish(context.Background(), userChannel, jsonData).Err(); err != nil {
		log.Printf("Error publishing to Redis: %v", err)
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, userChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	log.Println("📡 User-event subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			var targeted TargetedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &targeted); err != nil {
				log.Printf("Error unmarshaling user event: %v", err)
				continue
			}
			if targeted.Event == nil {
				continue
			}
			if targeted.TargetUserID != uuid.Nil {
				h.deliverLocal(targeted.TargetUserID, targeted.Event)
			} else {
				h.broadcastLocal(targeted.Event)
			}
		}
	}
}
