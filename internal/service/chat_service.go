package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmadabdelnby/freelance-backend/internal/goroutine"
	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
	"github.com/ahmadabdelnby/freelance-backend/internal/metrics"
	"github.com/ahmadabdelnby/freelance-backend/internal/models"
	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
)

// Границы фильтра времени ответа: слишком быстрые ответы не показательны,
// слишком поздние — это возвращение к разговору, а не ответ.
const (
	responseDeltaMin = time.Minute
	responseDeltaMax = 1440 * time.Minute
)

// ChatRepository описывает зависимости сервиса чата от слоя хранилища.
type ChatRepository interface {
	GetOrCreate(ctx context.Context, userA, userB uuid.UUID, jobID, proposalID *uuid.UUID) (*models.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]models.Message, error)
	LastTwoMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	GetMessageByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error)
	MarkDelivered(ctx context.Context, recipientID uuid.UUID) error
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID uuid.UUID, muted bool) error
}

// ResponseTracker обновляет накопительное среднее время ответа пользователя.
type ResponseTracker interface {
	UpdateResponseAverage(ctx context.Context, userID uuid.UUID, deltaMinutes float64) error
}

// ChatHub — поверхность WebSocket хаба, нужная сервису чата.
type ChatHub interface {
	IsOnline(userID uuid.UUID) bool
	BroadcastToUser(userID uuid.UUID, event string, data any) error
	BroadcastToConversation(conversationID uuid.UUID, event string, data any, except uuid.UUID) error
}

// ChatService реализует переписку: отправку и редактирование сообщений,
// учёт доставки/прочтения и накопительное среднее время ответа.
type ChatService struct {
	repo       ChatRepository
	responses  ResponseTracker
	hub        ChatHub
	notifier   Notifier
	editWindow time.Duration
}

// NewChatService создаёт сервис чата.
func NewChatService(repo ChatRepository, responses ResponseTracker, hub ChatHub, notifier Notifier, editWindow time.Duration) *ChatService {
	return &ChatService{
		repo:       repo,
		responses:  responses,
		hub:        hub,
		notifier:   notifier,
		editWindow: editWindow,
	}
}

// GetOrCreateConversation возвращает (создавая при отсутствии) переписку
// между двумя пользователями.
func (s *ChatService) GetOrCreateConversation(ctx context.Context, userID, otherID uuid.UUID, jobID, proposalID *uuid.UUID) (*models.Conversation, error) {
	if otherID == uuid.Nil || otherID == userID {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный собеседник")
	}
	return s.repo.GetOrCreate(ctx, userID, otherID, jobID, proposalID)
}

// ListConversations возвращает переписки пользователя.
func (s *ChatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ListMessages возвращает страницу сообщений переписки.
func (s *ChatService) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, limit, offset int) ([]models.Message, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListMessages(ctx, conversationID, limit, offset)
}

// SendMessage отправляет сообщение в переписку. До вставки по предыдущему
// сообщению обновляется среднее время ответа отправителя; подряд идущие
// сообщения одного автора и выбросы (<1 мин, >24 ч) в выборку не попадают.
func (s *ChatService) SendMessage(ctx context.Context, senderID, conversationID uuid.UUID, content string, attachments []string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сообщение не может быть пустым")
	}

	conv, err := s.participantConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	recipientID := conv.OtherParticipant(senderID)

	s.trackResponseTime(ctx, senderID, conversationID)

	now := time.Now()
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    models.StringArray(attachments),
	}
	if s.hub != nil && s.hub.IsOnline(recipientID) {
		msg.IsDelivered = true
		msg.DeliveredAt = &now
	}

	if err := s.repo.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	bgCtx := context.WithoutCancel(ctx)
	saved := *msg
	goroutine.SafeGo(func() {
		if s.hub != nil {
			if err := s.hub.BroadcastToConversation(conversationID, "new_message", saved, senderID); err != nil {
				logger.WithComponent("chat").WithError(err).Debug("не удалось разослать сообщение в комнату")
			}
			if err := s.hub.BroadcastToUser(recipientID, "new_message", saved); err != nil {
				logger.WithComponent("chat").WithError(err).Debug("не удалось доставить сообщение получателю")
			}
		}

		if s.muted(conv, recipientID) {
			return
		}
		if err := s.notifier.Notify(bgCtx, &models.Notification{
			UserID:     recipientID,
			Type:       models.NotificationNewMessage,
			Title:      "Новое сообщение",
			Content:    truncate(saved.Content, 120),
			Category:   models.NotificationCategoryChat,
			Priority:   models.NotificationPriorityNormal,
			FromUserID: &saved.SenderID,
		}); err != nil {
			logger.WithComponent("chat").WithError(err).Warn("не удалось создать уведомление о сообщении")
		}
	})

	return msg, nil
}

// SendFromSocket принимает сообщение, пришедшее по WebSocket.
func (s *ChatService) SendFromSocket(ctx context.Context, senderID, conversationID uuid.UUID, content string) error {
	_, err := s.SendMessage(ctx, senderID, conversationID, content, nil)
	return err
}

// EditMessage изменяет текст своего сообщения в пределах окна редактирования.
func (s *ChatService) EditMessage(ctx context.Context, editorID, messageID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "сообщение не может быть пустым")
	}

	msg, err := s.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "сообщение не найдено")
		}
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, apperror.ErrForbidden
	}
	// Окно редактирования полуоткрытое: ровно на границе правка уже запрещена.
	if time.Since(msg.CreatedAt) >= s.editWindow {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "окно редактирования истекло")
	}

	if err := s.repo.UpdateMessageContent(ctx, messageID, content); err != nil {
		return nil, err
	}

	now := time.Now()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now

	if s.hub != nil {
		updated := *msg
		goroutine.SafeGo(func() {
			_ = s.hub.BroadcastToConversation(updated.ConversationID, "message_edited", updated, uuid.Nil)
		})
	}

	return msg, nil
}

// DeleteMessage удаляет своё сообщение.
func (s *ChatService) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "сообщение не найдено")
		}
		return err
	}
	if msg.SenderID != userID {
		return apperror.ErrForbidden
	}

	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	if s.hub != nil {
		conversationID := msg.ConversationID
		goroutine.SafeGo(func() {
			_ = s.hub.BroadcastToConversation(conversationID, "message_deleted", map[string]any{
				"message_id":      messageID,
				"conversation_id": conversationID,
			}, uuid.Nil)
		})
	}

	return nil
}

// MarkRead помечает входящие сообщения переписки прочитанными и сообщает
// об этом собеседнику.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	n, err := s.repo.MarkMessagesRead(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	if n > 0 && s.hub != nil {
		goroutine.SafeGo(func() {
			_ = s.hub.BroadcastToConversation(conversationID, "messages_read", map[string]any{
				"conversation_id": conversationID,
				"reader_id":       userID,
			}, userID)
		})
	}

	return n, nil
}

// CountUnread возвращает число непрочитанных сообщений переписки.
func (s *ChatService) CountUnread(ctx context.Context, userID, conversationID uuid.UUID) (int, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, conversationID, userID)
}

// SetArchived включает или выключает архивацию переписки для пользователя.
func (s *ChatService) SetArchived(ctx context.Context, userID, conversationID uuid.UUID, archived bool) error {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.repo.SetArchived(ctx, conversationID, userID, archived)
}

// SetMuted включает или выключает уведомления переписки для пользователя.
func (s *ChatService) SetMuted(ctx context.Context, userID, conversationID uuid.UUID, muted bool) error {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.repo.SetMuted(ctx, conversationID, userID, muted)
}

// UserConnected помечает доставленными сообщения, ожидавшие пользователя.
// Вызывается хабом при первом соединении пользователя.
func (s *ChatService) UserConnected(ctx context.Context, userID uuid.UUID) {
	if err := s.repo.MarkDelivered(ctx, userID); err != nil {
		logger.WithComponent("chat").WithError(err).
			WithField("user_id", userID).Warn("не удалось отметить доставку сообщений")
	}
}

// trackResponseTime обновляет среднее время ответа отправителя по интервалу
// между последним сообщением собеседника и этим ответом.
func (s *ChatService) trackResponseTime(ctx context.Context, senderID, conversationID uuid.UUID) {
	last, err := s.repo.LastTwoMessages(ctx, conversationID)
	if err != nil || len(last) == 0 {
		return
	}

	prev := last[0]
	if prev.SenderID == senderID {
		return
	}

	delta := time.Since(prev.CreatedAt)
	if delta < responseDeltaMin || delta > responseDeltaMax {
		return
	}

	if err := s.responses.UpdateResponseAverage(ctx, senderID, delta.Minutes()); err != nil {
		logger.WithComponent("chat").WithError(err).
			WithField("user_id", senderID).Warn("не удалось обновить среднее время ответа")
	}
}

func (s *ChatService) participantConversation(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, apperror.ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return conv, nil
}

func (s *ChatService) muted(conv *models.Conversation, userID uuid.UUID) bool {
	id := userID.String()
	for _, muted := range conv.MutedBy {
		if muted == id {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
