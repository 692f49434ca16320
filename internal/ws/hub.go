package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ahmadabdelnby/freelance-backend/internal/goroutine"
	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
	"github.com/ahmadabdelnby/freelance-backend/internal/metrics"
)

// MessageSink принимает сообщения чата, пришедшие по WebSocket.
// Реализуется сервисом чата; хаб не знает о его внутренностях.
type MessageSink interface {
	SendFromSocket(ctx context.Context, senderID, conversationID uuid.UUID, content string) error
}

// PresenceListener получает события подключения пользователя
// (используется для отметки доставленных сообщений).
type PresenceListener interface {
	UserConnected(ctx context.Context, userID uuid.UUID)
}

// Hub управляет всеми WebSocket клиентами: по набору соединений на
// пользователя плюс комнаты диалогов для событий typing/new_message.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	rooms      map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	sink       MessageSink
	presence   PresenceListener
	ctx        context.Context
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

// NewHub создаёт новый хаб.
func NewHub(ctx context.Context) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		rooms:      make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 32),
		ctx:        ctx,
	}
}

// SetMessageSink устанавливает получателя сообщений чата.
func (h *Hub) SetMessageSink(sink MessageSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// SetPresenceListener устанавливает слушателя подключений.
func (h *Hub) SetPresenceListener(listener PresenceListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = listener
}

// Run запускает главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		case <-h.ctx.Done():
			return
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// IsOnline сообщает, есть ли у пользователя хотя бы одно живое соединение.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// OnlineUsers возвращает идентификаторы всех подключённых пользователей.
func (h *Hub) OnlineUsers() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]uuid.UUID, 0, len(h.clients))
	for id := range h.clients {
		users = append(users, id)
	}
	return users
}

// BroadcastToUser отправляет событие всем соединениям пользователя.
// Отправка best-effort: отсутствие соединений не является ошибкой.
func (h *Hub) BroadcastToUser(userID uuid.UUID, event string, data any) error {
	raw, err := marshalEvent(event, data)
	if err != nil {
		return err
	}
	h.broadcast <- message{userID: userID, payload: raw}
	return nil
}

// BroadcastToConversation отправляет событие всем участникам комнаты диалога,
// кроме отправителя (если except не uuid.Nil).
func (h *Hub) BroadcastToConversation(conversationID uuid.UUID, event string, data any, except uuid.UUID) error {
	raw, err := marshalEvent(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[conversationID] {
		if except != uuid.Nil && client.userID == except {
			continue
		}
		client.trySend(raw)
	}
	return nil
}

// broadcastAll отправляет событие всем подключённым клиентам (presence).
func (h *Hub) broadcastAll(event string, data any) {
	raw, err := marshalEvent(event, data)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.clients {
		for client := range conns {
			client.trySend(raw)
		}
	}
}

// joinRoom подключает клиента к комнате диалога.
func (h *Hub) joinRoom(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Client]struct{})
	}
	h.rooms[conversationID][client] = struct{}{}
	client.roomsJoined[conversationID] = struct{}{}
}

// leaveRoom отключает клиента от комнаты диалога.
func (h *Hub) leaveRoom(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(client, conversationID)
}

func (h *Hub) removeFromRoom(client *Client, conversationID uuid.UUID) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(client.roomsJoined, conversationID)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	firstConn := len(h.clients[client.userID]) == 0
	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
	presence := h.presence
	h.mu.Unlock()

	metrics.WSConnections.Inc()

	if firstConn {
		h.broadcastAll("user_online", map[string]any{"user_id": client.userID})
		if presence != nil {
			goroutine.SafeGo(func() {
				presence.UserConnected(h.ctx, client.userID)
			})
		}
	}

	// Новому соединению сразу сообщаем, кто в сети.
	if raw, err := marshalEvent("online_users", map[string]any{"user_ids": h.OnlineUsers()}); err == nil {
		client.trySend(raw)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	lastConn := false
	if conns, ok := h.clients[client.userID]; ok {
		if _, present := conns[client]; present {
			delete(conns, client)
			metrics.WSConnections.Dec()
		}
		if len(conns) == 0 {
			delete(h.clients, client.userID)
			lastConn = true
		}
	}
	for conversationID := range client.roomsJoined {
		h.removeFromRoom(client, conversationID)
	}
	h.mu.Unlock()

	if lastConn {
		h.broadcastAll("user_offline", map[string]any{"user_id": client.userID})
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		client.trySend(payload)
	}
}

// handleIncoming разбирает событие, пришедшее от клиента.
func (h *Hub) handleIncoming(client *Client, raw []byte) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		logger.WithComponent("ws").WithError(err).Debug("не удалось разобрать входящее сообщение")
		return
	}

	switch envelope.Type {
	case "join_conversation":
		var data struct {
			ConversationID uuid.UUID `json:"conversation_id"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err == nil && data.ConversationID != uuid.Nil {
			h.joinRoom(client, data.ConversationID)
		}
	case "leave_conversation":
		var data struct {
			ConversationID uuid.UUID `json:"conversation_id"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err == nil && data.ConversationID != uuid.Nil {
			h.leaveRoom(client, data.ConversationID)
		}
	case "typing":
		var data struct {
			ConversationID uuid.UUID `json:"conversation_id"`
			IsTyping       bool      `json:"is_typing"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err == nil && data.ConversationID != uuid.Nil {
			_ = h.BroadcastToConversation(data.ConversationID, "user_typing", map[string]any{
				"conversation_id": data.ConversationID,
				"user_id":         client.userID,
				"is_typing":       data.IsTyping,
			}, client.userID)
		}
	case "send_message":
		var data struct {
			ConversationID uuid.UUID `json:"conversation_id"`
			Content        string    `json:"content"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err != nil || data.ConversationID == uuid.Nil {
			return
		}
		h.mu.RLock()
		sink := h.sink
		h.mu.RUnlock()
		if sink == nil {
			return
		}
		if err := sink.SendFromSocket(h.ctx, client.userID, data.ConversationID, data.Content); err != nil {
			if raw, mErr := marshalEvent("error", map[string]any{"message": err.Error()}); mErr == nil {
				client.trySend(raw)
			}
		}
	case "update_status":
		// Клиент сообщает о своей активности; ничего не храним,
		// присутствие определяется наличием соединений.
	default:
		logger.WithComponent("ws").WithField("type", envelope.Type).Debug("неизвестный тип события")
	}
}

func marshalEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(map[string]any{
		"type": event,
		"data": data,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}
	return raw, nil
}
