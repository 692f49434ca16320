package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы контракта
const (
	ContractStatusActive     = "active"
	ContractStatusPaused     = "paused"
	ContractStatusCompleted  = "completed"
	ContractStatusTerminated = "terminated"
)

// Типы бюджета
const (
	BudgetTypeFixed  = "fixed"
	BudgetTypeHourly = "hourly"
)

// Статусы deliverable
const (
	DeliverableStatusPendingReview     = "pending_review"
	DeliverableStatusAccepted          = "accepted"
	DeliverableStatusRevisionRequested = "revision_requested"
)

// Contract описывает контракт между клиентом и фрилансером по выигранному предложению.
type Contract struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	JobID               uuid.UUID  `db:"job_id" json:"job_id"`
	ClientID            uuid.UUID  `db:"client_id" json:"client_id"`
	FreelancerID        uuid.UUID  `db:"freelancer_id" json:"freelancer_id"`
	ProposalID          uuid.UUID  `db:"proposal_id" json:"proposal_id"`
	AgreedAmount        float64    `db:"agreed_amount" json:"agreed_amount"`
	BudgetType          string     `db:"budget_type" json:"budget_type"`
	Status              string     `db:"status" json:"status"`
	HoursWorked         float64    `db:"hours_worked" json:"hours_worked"`
	AgreedDeliveryTime  *int       `db:"agreed_delivery_time" json:"agreed_delivery_time,omitempty"`
	CalculatedDeadline  *time.Time `db:"calculated_deadline" json:"calculated_deadline,omitempty"`
	StartedAt           time.Time  `db:"started_at" json:"started_at"`
	DeliveredAt         *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CompletedAt         *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	TerminatedAt        *time.Time `db:"terminated_at" json:"terminated_at,omitempty"`
	TerminationReason   *string    `db:"termination_reason" json:"termination_reason,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	// Связанные данные (загружаются отдельно)
	Deliverables  []Deliverable         `json:"deliverables,omitempty"`
	AmountHistory []ContractAmountEntry `json:"amount_history,omitempty"`
}

// IsTerminal сообщает, находится ли контракт в конечном статусе.
// Конечные статусы являются стоками: ни сумма, ни deliverables,
// ни escrow после них не изменяются.
func (c *Contract) IsTerminal() bool {
	return c.Status == ContractStatusCompleted || c.Status == ContractStatusTerminated
}

// Deliverable описывает сдачу работы фрилансером по контракту.
// Хранится отдельной таблицей со своим id, а не вложенным массивом.
type Deliverable struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	ContractID   uuid.UUID   `db:"contract_id" json:"contract_id"`
	SubmittedBy  uuid.UUID   `db:"submitted_by" json:"submitted_by"`
	Description  string      `db:"description" json:"description"`
	Files        StringArray `db:"files" json:"files"`
	Status       string      `db:"status" json:"status"`
	RevisionNote *string     `db:"revision_note" json:"revision_note,omitempty"`
	SubmittedAt  time.Time   `db:"submitted_at" json:"submitted_at"`
	ReviewedAt   *time.Time  `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// ContractAmountEntry фиксирует изменение согласованной суммы контракта.
type ContractAmountEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ContractID uuid.UUID `db:"contract_id" json:"contract_id"`
	OldAmount  float64   `db:"old_amount" json:"old_amount"`
	NewAmount  float64   `db:"new_amount" json:"new_amount"`
	Reason     string    `db:"reason" json:"reason"`
	ChangedBy  uuid.UUID `db:"changed_by" json:"changed_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
