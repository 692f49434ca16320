package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(ctx)
	go hub.Run()
	return hub
}

func receiveEvent(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.send:
		var event map[string]any
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("событие не пришло")
		return nil
	}
}

// registerAndSync регистрирует клиента и дожидается приветственного
// online_users, после которого регистрация точно обработана хабом.
func registerAndSync(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.Register(c)
	for {
		event := receiveEvent(t, c)
		if event["type"] == "online_users" {
			return
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func TestHub_RegisterTracksPresence(t *testing.T) {
	hub := startHub(t)
	userID := uuid.New()
	client := NewClient(nil, hub, userID)

	assert.False(t, hub.IsOnline(userID))

	registerAndSync(t, hub, client)
	assert.True(t, hub.IsOnline(userID))
	assert.Contains(t, hub.OnlineUsers(), userID)

	hub.Unregister(client)
	assert.Eventually(t, func() bool { return !hub.IsOnline(userID) }, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastToUser_AllConnections(t *testing.T) {
	hub := startHub(t)
	userID := uuid.New()
	first := NewClient(nil, hub, userID)
	second := NewClient(nil, hub, userID)

	registerAndSync(t, hub, first)
	registerAndSync(t, hub, second)
	drain(first)
	drain(second)

	require.NoError(t, hub.BroadcastToUser(userID, "notification", map[string]any{"title": "тест"}))

	for _, c := range []*Client{first, second} {
		event := receiveEvent(t, c)
		assert.Equal(t, "notification", event["type"])
	}
}

func TestHub_ConversationRoomExceptSender(t *testing.T) {
	hub := startHub(t)
	sender := NewClient(nil, hub, uuid.New())
	recipient := NewClient(nil, hub, uuid.New())
	conversationID := uuid.New()

	registerAndSync(t, hub, sender)
	registerAndSync(t, hub, recipient)

	hub.joinRoom(sender, conversationID)
	hub.joinRoom(recipient, conversationID)
	drain(sender)
	drain(recipient)

	raw, err := json.Marshal(map[string]any{
		"type": "typing",
		"data": map[string]any{"conversation_id": conversationID, "is_typing": true},
	})
	require.NoError(t, err)
	hub.handleIncoming(sender, raw)

	// Входящий typing расходится по комнате как user_typing.
	event := receiveEvent(t, recipient)
	assert.Equal(t, "user_typing", event["type"])

	select {
	case <-sender.send:
		t.Fatal("отправитель не должен получать собственное событие")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_LeaveRoomStopsDelivery(t *testing.T) {
	hub := startHub(t)
	client := NewClient(nil, hub, uuid.New())
	conversationID := uuid.New()

	registerAndSync(t, hub, client)

	hub.joinRoom(client, conversationID)
	hub.leaveRoom(client, conversationID)
	drain(client)

	require.NoError(t, hub.BroadcastToConversation(conversationID, "new_message", map[string]any{}, uuid.Nil))

	select {
	case <-client.send:
		t.Fatal("после выхода из комнаты события приходить не должны")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_HandleIncoming_JoinConversation(t *testing.T) {
	hub := startHub(t)
	client := NewClient(nil, hub, uuid.New())
	conversationID := uuid.New()

	registerAndSync(t, hub, client)
	drain(client)

	raw, err := json.Marshal(map[string]any{
		"type": "join_conversation",
		"data": map[string]any{"conversation_id": conversationID},
	})
	require.NoError(t, err)
	hub.handleIncoming(client, raw)

	require.NoError(t, hub.BroadcastToConversation(conversationID, "new_message", map[string]any{}, uuid.Nil))
	event := receiveEvent(t, client)
	assert.Equal(t, "new_message", event["type"])
}
