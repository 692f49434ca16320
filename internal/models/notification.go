package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы уведомлений
const (
	NotificationContractCreated      = "contract_created"
	NotificationContractCompleted    = "contract_completed"
	NotificationContractCancelled    = "contract_cancelled"
	NotificationContractUpdated      = "contract_updated"
	NotificationDeliverableSubmitted = "deliverable_submitted"
	NotificationDeliverableAccepted  = "deliverable_accepted"
	NotificationDeliverableRejected  = "deliverable_rejected"
	NotificationPaymentReleased      = "payment_released"
	NotificationModificationRequest  = "modification_request"
	NotificationModificationResolved = "modification_resolved"
	NotificationNewMessage           = "new_message"
)

// Категории и приоритеты уведомлений
const (
	NotificationCategoryContract = "contract"
	NotificationCategoryPayment  = "payment"
	NotificationCategoryChat     = "chat"
	NotificationCategorySystem   = "system"

	NotificationPriorityLow    = "low"
	NotificationPriorityNormal = "normal"
	NotificationPriorityHigh   = "high"
)

// Notification описывает уведомление пользователя. Создаётся любым шагом
// воркфлоу; изменяется (прочитано/удалено) только владельцем.
type Notification struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Type       string     `db:"type" json:"type"`
	Title      string     `db:"title" json:"title"`
	Content    string     `db:"content" json:"content"`
	Link       *string    `db:"link" json:"link,omitempty"`
	Category   string     `db:"category" json:"category"`
	Priority   string     `db:"priority" json:"priority"`
	JobID      *uuid.UUID `db:"job_id" json:"job_id,omitempty"`
	ContractID *uuid.UUID `db:"contract_id" json:"contract_id,omitempty"`
	FromUserID *uuid.UUID `db:"from_user_id" json:"from_user_id,omitempty"`
	IsRead     bool       `db:"is_read" json:"is_read"`
	ReadAt     *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
