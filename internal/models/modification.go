package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы модификации контракта
const (
	ModificationTypeBudget   = "budget"
	ModificationTypeDeadline = "deadline"
	ModificationTypeBoth     = "both"
)

// Статусы запроса на модификацию
const (
	ModificationStatusPending  = "pending"
	ModificationStatusApproved = "approved"
	ModificationStatusRejected = "rejected"
)

// ModificationRequest описывает запрос фрилансера на изменение бюджета и/или срока контракта.
// На контракт допускается не более одного запроса в статусе pending;
// после разрешения запись неизменяема.
type ModificationRequest struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	ContractID            uuid.UUID  `db:"contract_id" json:"contract_id"`
	RequestedBy           uuid.UUID  `db:"requested_by" json:"requested_by"`
	RequestedTo           uuid.UUID  `db:"requested_to" json:"requested_to"`
	ModificationType      string     `db:"modification_type" json:"modification_type"`
	CurrentBudget         float64    `db:"current_budget" json:"current_budget"`
	RequestedBudget       *float64   `db:"requested_budget" json:"requested_budget,omitempty"`
	CurrentDeliveryTime   *int       `db:"current_delivery_time" json:"current_delivery_time,omitempty"`
	RequestedDeliveryTime *int       `db:"requested_delivery_time" json:"requested_delivery_time,omitempty"`
	BudgetDifference      float64    `db:"budget_difference" json:"budget_difference"`
	Reason                string     `db:"reason" json:"reason"`
	Status                string     `db:"status" json:"status"`
	ResponseNote          *string    `db:"response_note" json:"response_note,omitempty"`
	ResolvedAt            *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}
