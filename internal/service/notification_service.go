package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ahmadabdelnby/freelance-backend/internal/goroutine"
	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
	"github.com/ahmadabdelnby/freelance-backend/internal/metrics"
	"github.com/ahmadabdelnby/freelance-backend/internal/models"
	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
)

// NotificationRepository описывает зависимости сервиса от слоя хранилища.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
	DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// EventPusher доставляет событие всем соединениям пользователя.
type EventPusher interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// NotificationService отвечает за уведомления: сначала запись в БД,
// затем best-effort доставка по WebSocket. Недоставленное уведомление
// пользователь всё равно увидит при следующем запросе списка.
type NotificationService struct {
	repo   NotificationRepository
	pusher EventPusher
}

// NewNotificationService создаёт сервис уведомлений.
func NewNotificationService(repo NotificationRepository, pusher EventPusher) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher}
}

// Notify сохраняет уведомление и асинхронно проталкивает его по WebSocket.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) error {
	if n.Category == "" {
		n.Category = models.NotificationCategorySystem
	}
	if n.Priority == "" {
		n.Priority = models.NotificationPriorityNormal
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	metrics.NotificationsCreated.Inc()

	if s.pusher != nil {
		saved := *n
		goroutine.SafeGo(func() {
			if err := s.pusher.BroadcastToUser(saved.UserID, "notification", saved); err != nil {
				logger.WithComponent("notification").WithError(err).Debug("не удалось протолкнуть уведомление")
			}
		})
	}

	return nil
}

// List возвращает страницу уведомлений пользователя.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

// MarkAsRead помечает уведомление прочитанным. Повторный вызов — no-op.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.MarkAsRead(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "уведомление не найдено")
		}
		return err
	}
	return nil
}

// MarkAllAsRead помечает прочитанными все уведомления пользователя.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// Delete удаляет уведомление владельца.
func (s *NotificationService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "уведомление не найдено")
		}
		return err
	}
	return nil
}

// DeleteAll удаляет все уведомления пользователя.
func (s *NotificationService) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.DeleteAll(ctx, userID)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
