package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Статусы платежа/escrow
const (
	PaymentStatusPending   = "pending"
	PaymentStatusHeld      = "held"
	PaymentStatusCompleted = "completed"
	PaymentStatusReleased  = "released"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// Типы платежей
const (
	PaymentTypePayment    = "payment"
	PaymentTypeWithdrawal = "withdrawal"
	PaymentTypeRefund     = "refund"
	PaymentTypeEscrow     = "escrow"
)

// Payment описывает денежную запись: escrow по контракту, пополнение или вывод.
// Для контракта одновременно может существовать не более одной записи со статусом held.
type Payment struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ContractID    *uuid.UUID `db:"contract_id" json:"contract_id,omitempty"`
	PayerID       uuid.UUID  `db:"payer_id" json:"payer_id"`
	PayeeID       uuid.UUID  `db:"payee_id" json:"payee_id"`
	Amount        float64    `db:"amount" json:"amount"`
	PlatformFee   float64    `db:"platform_fee" json:"platform_fee"`
	NetAmount     float64    `db:"net_amount" json:"net_amount"`
	TotalAmount   float64    `db:"total_amount" json:"total_amount"`
	Status        string     `db:"status" json:"status"`
	Type          string     `db:"type" json:"type"`
	IsEscrow      bool       `db:"is_escrow" json:"is_escrow"`
	TransactionID *string    `db:"transaction_id" json:"transaction_id,omitempty"`
	Description   *string    `db:"description" json:"description,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ReleasedAt    *time.Time `db:"released_at" json:"released_at,omitempty"`
}

// Recalculate пересчитывает комиссию и производные суммы после изменения amount.
// Инварианты: net_amount = amount - platform_fee, total_amount = amount + platform_fee.
func (p *Payment) Recalculate(feeRate float64) {
	p.PlatformFee = RoundMoney(p.Amount * feeRate)
	p.NetAmount = RoundMoney(p.Amount - p.PlatformFee)
	p.TotalAmount = RoundMoney(p.Amount + p.PlatformFee)
}

// RoundMoney округляет денежную сумму до двух знаков.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
