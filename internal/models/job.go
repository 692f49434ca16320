package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы заказа (внешняя подсистема, здесь только смена статуса при
// завершении/отмене контракта)
const (
	JobStatusOpen       = "open"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
)

// Job описывает заказ, по которому заключён контракт.
type Job struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClientID  uuid.UUID `db:"client_id" json:"client_id"`
	Title     string    `db:"title" json:"title"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
