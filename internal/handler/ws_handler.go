package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/betalkative/betalk/internal/model"
	"github.com/betalkative/betalk/internal/service"
	msgsync "github.com/betalkative/betalk/internal/sync"
	"github.com/betalkative/betalk/internal/ws"
	"github.com/betalkative/betalk/pkg/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, validate origin
	},
}

// viewSession is one open conversation view on one connection. It owns the
// synchronizer and the goroutine forwarding its updates to the client.
type viewSession struct {
	conversationID string
	view           *msgsync.Synchronizer
	cancel         context.CancelFunc
}

// WSHandler handles WebSocket connections. Each connection can hold any
// number of open views; closing the connection tears all of them down.
type WSHandler struct {
	hub         *ws.Hub
	chatService *service.ChatService
	jwtManager  *auth.JWTManager

	mu       sync.Mutex
	sessions map[*ws.Client]map[string]*viewSession
}

func NewWSHandler(hub *ws.Hub, chatService *service.ChatService, jwtManager *auth.JWTManager) *WSHandler {
	return &WSHandler{
		hub:         hub,
		chatService: chatService,
		jwtManager:  jwtManager,
		sessions:    make(map[*ws.Client]map[string]*viewSession),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket and manages the connection.
// Client connects with: ws://host/ws?token=<jwt_token>
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// WebSocket clients can't set the Authorization header
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtManager.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, claims.UserID, claims.Name)
	h.hub.Register(client)

	log.Printf("✅ WS Connected: UserID=%s Name=%s", claims.UserID, claims.Name)

	go client.WritePump()
	go client.ReadPump(h.handleWSMessage, h.closeAllViews)
}

func (h *WSHandler) handleWSMessage(client *ws.Client, event model.WSEvent) {
	switch event.Type {
	case model.WSEventOpenView:
		h.handleOpenView(client, event)
	case model.WSEventCloseView:
		h.handleCloseView(client, event)
	case model.WSEventNewMessage:
		h.handleSend(client, event)
	case model.WSEventRetryMessage:
		h.handleRetry(client, event)
	case model.WSEventMessageRead:
		h.handleMarkRead(client, event)
	case model.WSEventTyping, model.WSEventStopTyping:
		h.handleTyping(client, event)
	case model.WSEventCallOffer, model.WSEventCallAnswer, model.WSEventCallICE, model.WSEventCallHangup:
		h.handleCallSignaling(client, event)
	default:
		log.Printf("Unknown WebSocket event type: %s", event.Type)
	}
}

func decodePayload(event model.WSEvent, v interface{}) error {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// handleOpenView opens a synchronized view and starts streaming its merged
// timeline back to the client, with derived counters per generation.
func (h *WSHandler) handleOpenView(client *ws.Client, event model.WSEvent) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decodePayload(event, &payload); err != nil || payload.ConversationID == "" {
		return
	}

	h.mu.Lock()
	if views, ok := h.sessions[client]; ok {
		if _, open := views[payload.ConversationID]; open {
			h.mu.Unlock()
			return
		}
	}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	view, err := h.chatService.OpenView(ctx, client.UserID, payload.ConversationID)
	if err != nil {
		cancel()
		log.Printf("Error opening view %s for %s: %v", payload.ConversationID, client.UserID, err)
		return
	}

	session := &viewSession{
		conversationID: payload.ConversationID,
		view:           view,
		cancel:         cancel,
	}

	h.mu.Lock()
	if h.sessions[client] == nil {
		h.sessions[client] = make(map[string]*viewSession)
	}
	h.sessions[client][payload.ConversationID] = session
	h.mu.Unlock()

	go h.streamView(client, session)

	// Opening a conversation marks what is currently visible as read.
	_ = view.MarkRead()
}

// sendRetryInterval paces re-attempts against a full connection buffer.
const sendRetryInterval = 50 * time.Millisecond

// streamView forwards timeline generations to the client until the view closes.
func (h *WSHandler) streamView(client *ws.Client, session *viewSession) {
	tracker := h.chatService.Tracker()
	forwardLatest(session.view.Updates(), func(update msgsync.Update) bool {
		messages := make([]model.Message, 0, len(update.Entries))
		for _, e := range update.Entries {
			messages = append(messages, e.Message)
		}
		counts := tracker.Counts(session.conversationID, client.UserID, update.Generation, messages)

		return client.Send(&model.WSEvent{
			Type: model.WSEventViewUpdate,
			Payload: gin.H{
				"conversation_id": session.conversationID,
				"generation":      update.Generation,
				"entries":         update.Entries,
				"unread_count":    counts.Unread,
				"tagged_count":    counts.Tagged,
			},
		})
	})
}

// forwardLatest pushes every update through send until the channel closes.
// A refused send is retried, swapping in any newer generation that arrives
// meanwhile, so a congested connection converges on the latest timeline
// instead of skipping it.
func forwardLatest(updates <-chan msgsync.Update, send func(msgsync.Update) bool) {
	for update := range updates {
		for !send(update) {
			select {
			case newer, ok := <-updates:
				if !ok {
					return
				}
				update = newer
			case <-time.After(sendRetryInterval):
			}
		}
	}
}

func (h *WSHandler) handleCloseView(client *ws.Client, event model.WSEvent) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decodePayload(event, &payload); err != nil {
		return
	}

	h.mu.Lock()
	session := h.takeSession(client, payload.ConversationID)
	h.mu.Unlock()
	if session != nil {
		h.closeSession(client, session)
	}
}

// handleSend routes an outgoing message through the open view when there is
// one, so the sender gets the provisional/failed lifecycle; without a view it
// falls back to the plain durable send.
func (h *WSHandler) handleSend(client *ws.Client, event model.WSEvent) {
	var payload struct {
		ConversationID string          `json:"conversation_id"`
		ClientSeq      int64           `json:"client_seq"`
		Text           string          `json:"text"`
		AttachmentURL  string          `json:"attachment_url"`
		AttachmentKind model.MediaKind `json:"attachment_kind"`
		ReplyToID      *uuid.UUID      `json:"reply_to_id"`
	}
	if err := decodePayload(event, &payload); err != nil {
		return
	}

	h.mu.Lock()
	session := h.sessions[client][payload.ConversationID]
	h.mu.Unlock()

	if session != nil {
		if err := session.view.Send(msgsync.SendRequest{
			Text:           payload.Text,
			AttachmentURL:  payload.AttachmentURL,
			AttachmentKind: payload.AttachmentKind,
			ReplyToID:      payload.ReplyToID,
		}); err != nil {
			log.Printf("Error sending via view: %v", err)
		}
		return
	}

	if _, err := h.chatService.SendMessage(client.UserID, payload.ConversationID, model.SendMessageRequest{
		ClientSeq:      payload.ClientSeq,
		Text:           payload.Text,
		AttachmentURL:  payload.AttachmentURL,
		AttachmentKind: payload.AttachmentKind,
		ReplyToID:      payload.ReplyToID,
	}); err != nil {
		log.Printf("Error saving message: %v", err)
	}
}

func (h *WSHandler) handleRetry(client *ws.Client, event model.WSEvent) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
		Key            string `json:"key"`
	}
	if err := decodePayload(event, &payload); err != nil {
		return
	}

	h.mu.Lock()
	session := h.sessions[client][payload.ConversationID]
	h.mu.Unlock()
	if session == nil {
		return
	}
	if err := session.view.Retry(payload.Key); err != nil {
		log.Printf("Retry %s rejected: %v", payload.Key, err)
	}
}

func (h *WSHandler) handleMarkRead(client *ws.Client, event model.WSEvent) {
	var payload struct {
		ConversationID string      `json:"conversation_id"`
		MessageIDs     []uuid.UUID `json:"message_ids"`
	}
	if err := decodePayload(event, &payload); err != nil {
		return
	}

	h.mu.Lock()
	session := h.sessions[client][payload.ConversationID]
	h.mu.Unlock()

	if session != nil && len(payload.MessageIDs) == 0 {
		_ = session.view.MarkRead()
		return
	}
	if err := h.chatService.MarkRead(client.UserID, payload.ConversationID, payload.MessageIDs); err != nil {
		log.Printf("Error marking read: %v", err)
	}
}

// handleTyping forwards typing indicators to the other conversation members.
func (h *WSHandler) handleTyping(client *ws.Client, event model.WSEvent) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decodePayload(event, &payload); err != nil {
		return
	}

	memberIDs, _ := h.chatService.GetConversationMemberIDs(payload.ConversationID)

	typingEvent := &model.WSEvent{
		Type: event.Type,
		Payload: model.TypingEvent{
			ConversationID: payload.ConversationID,
			UserID:         client.UserID,
			Name:           client.Name,
		},
	}
	for _, memberID := range memberIDs {
		if memberID != client.UserID {
			h.hub.SendToUser(memberID, typingEvent)
		}
	}
}

// handleCallSignaling forwards signaling events opaque to the target user.
// SDP and ICE payloads are never inspected.
func (h *WSHandler) handleCallSignaling(client *ws.Client, event model.WSEvent) {
	var payload struct {
		To uuid.UUID `json:"to"`
	}
	if err := decodePayload(event, &payload); err != nil {
		log.Printf("Error parsing call signaling payload: %v", err)
		return
	}
	h.hub.SendToUser(payload.To, &event)
}

// takeSession removes and returns a session. Caller holds h.mu.
func (h *WSHandler) takeSession(client *ws.Client, conversationID string) *viewSession {
	views, ok := h.sessions[client]
	if !ok {
		return nil
	}
	session := views[conversationID]
	delete(views, conversationID)
	if len(views) == 0 {
		delete(h.sessions, client)
	}
	return session
}

func (h *WSHandler) closeSession(client *ws.Client, session *viewSession) {
	session.view.Close()
	session.cancel()
	h.chatService.Tracker().Forget(session.conversationID, client.UserID)
}

// closeAllViews runs when a connection drops; every open view goes with it.
func (h *WSHandler) closeAllViews(client *ws.Client) {
	h.mu.Lock()
	views := h.sessions[client]
	delete(h.sessions, client)
	h.mu.Unlock()

	for _, session := range views {
		h.closeSession(client, session)
	}
}
