package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahmadabdelnby/freelance-backend/internal/gateway"
	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
	"github.com/ahmadabdelnby/freelance-backend/internal/metrics"
	"github.com/ahmadabdelnby/freelance-backend/internal/models"
	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
)

// EscrowRepository описывает зависимости PaymentService от хранилища платежей.
type EscrowRepository interface {
	OpenEscrow(ctx context.Context, contractID, clientID, freelancerID uuid.UUID, amount, feeRate float64) (*models.Payment, error)
	AdjustEscrow(ctx context.Context, contractID uuid.UUID, delta, feeRate float64) (*models.Payment, error)
	ReleaseEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error)
	RefundEscrow(ctx context.Context, contractID uuid.UUID, reason string) (*models.Payment, error)
	GetEscrowByContractID(ctx context.Context, contractID uuid.UUID) (*models.Payment, error)
	CreateDeposit(ctx context.Context, userID uuid.UUID, amount float64, transactionID string) (*models.Payment, error)
	CreateWithdrawal(ctx context.Context, userID uuid.UUID, amount float64) (*models.Payment, error)
	FinishWithdrawal(ctx context.Context, paymentID uuid.UUID, success bool, transactionID string) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	FindStuckEscrows(ctx context.Context, limit int) ([]uuid.UUID, error)
	FindStuckRefunds(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// BalanceReader читает текущий баланс пользователя.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (float64, error)
}

// PaymentUserReader читает пользователя (нужен PayPal email для выплат).
type PaymentUserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// PaymentService реализует денежный контур: escrow по контрактам,
// пополнения и выводы через внешний платёжный шлюз, фоновую сверку.
type PaymentService struct {
	payments EscrowRepository
	ledger   BalanceReader
	users    PaymentUserReader
	gateway  gateway.PaymentGateway
	feeRate  float64
}

// NewPaymentService создаёт платёжный сервис.
func NewPaymentService(payments EscrowRepository, ledger BalanceReader, users PaymentUserReader, gw gateway.PaymentGateway, feeRate float64) *PaymentService {
	return &PaymentService{
		payments: payments,
		ledger:   ledger,
		users:    users,
		gateway:  gw,
		feeRate:  feeRate,
	}
}

// FeeRate возвращает действующую ставку комиссии платформы.
func (s *PaymentService) FeeRate() float64 {
	return s.feeRate
}

// OpenEscrow замораживает средства клиента под контракт.
func (s *PaymentService) OpenEscrow(ctx context.Context, contractID, clientID, freelancerID uuid.UUID, amount float64) (*models.Payment, error) {
	if amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}

	payment, err := s.payments.OpenEscrow(ctx, contractID, clientID, freelancerID, amount, s.feeRate)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientFunds):
			return nil, s.insufficientFunds(ctx, clientID, amount)
		case errors.Is(err, repository.ErrEscrowAlreadyHeld):
			return nil, apperror.New(apperror.ErrCodeConflict, "по контракту уже заморожены средства")
		}
		return nil, err
	}

	metrics.EscrowEvents.WithLabelValues("held").Inc()
	return payment, nil
}

// AdjustEscrow изменяет сумму живого escrow на delta с симметричным
// движением по балансу клиента.
func (s *PaymentService) AdjustEscrow(ctx context.Context, contractID uuid.UUID, delta float64) (*models.Payment, error) {
	if delta == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "изменение суммы не может быть нулевым")
	}

	escrow, err := s.payments.GetEscrowByContractID(ctx, contractID)
	if err == nil && escrow.Status == models.PaymentStatusHeld && escrow.Amount+delta <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма escrow должна остаться положительной")
	}

	payment, err := s.payments.AdjustEscrow(ctx, contractID, delta, s.feeRate)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientFunds):
			payerID := uuid.Nil
			if escrow != nil {
				payerID = escrow.PayerID
			}
			return nil, s.insufficientFunds(ctx, payerID, delta)
		case errors.Is(err, repository.ErrEscrowNotHeld):
			return nil, apperror.ErrEscrowNotHeld
		}
		return nil, err
	}

	metrics.EscrowEvents.WithLabelValues("adjusted").Inc()
	return payment, nil
}

// ReleaseEscrow выплачивает фрилансеру net_amount и закрывает escrow.
// Повторный вызов безопасен: второй release получает INVALID_STATE.
func (s *PaymentService) ReleaseEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.ReleaseEscrow(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrEscrowNotHeld) {
			return nil, apperror.ErrEscrowNotHeld
		}
		return nil, err
	}

	metrics.EscrowEvents.WithLabelValues("released").Inc()
	return payment, nil
}

// RefundEscrow возвращает клиенту полную сумму escrow.
func (s *PaymentService) RefundEscrow(ctx context.Context, contractID uuid.UUID, reason string) (*models.Payment, error) {
	payment, err := s.payments.RefundEscrow(ctx, contractID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrEscrowNotHeld) {
			return nil, apperror.ErrEscrowNotHeld
		}
		return nil, err
	}

	metrics.EscrowEvents.WithLabelValues("refunded").Inc()
	return payment, nil
}

// GetEscrow возвращает escrow запись контракта.
func (s *PaymentService) GetEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.GetEscrowByContractID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrEscrowNotFound) {
			return nil, apperror.ErrEscrowNotFound
		}
		return nil, err
	}
	return payment, nil
}

// GetBalance возвращает баланс пользователя.
func (s *PaymentService) GetBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, apperror.ErrUserNotFound
		}
		return 0, err
	}
	return balance, nil
}

// ListTransactions возвращает денежные записи пользователя.
func (s *PaymentService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.payments.ListByUser(ctx, userID, limit, offset)
}

// CreateTopUpOrder создаёт у провайдера ордер на пополнение баланса.
func (s *PaymentService) CreateTopUpOrder(ctx context.Context, userID uuid.UUID, amount float64) (orderID, approveURL string, err error) {
	if amount <= 0 {
		return "", "", apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	return s.gateway.CreateOrder(ctx, amount, "USD", fmt.Sprintf("Пополнение баланса пользователя %s", userID))
}

// CaptureTopUp подтверждает одобренный ордер и зачисляет средства.
func (s *PaymentService) CaptureTopUp(ctx context.Context, userID uuid.UUID, orderID string) (*models.Payment, error) {
	transactionID, amount, err := s.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.payments.CreateDeposit(ctx, userID, amount, transactionID)
}

// Withdraw выводит средства на PayPal аккаунт пользователя. Средства
// списываются сразу; при отказе провайдера запись закрывается как failed
// и списанное возвращается.
func (s *PaymentService) Withdraw(ctx context.Context, userID uuid.UUID, amount float64) (*models.Payment, error) {
	if amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}
	if user.PayPalEmail == nil || *user.PayPalEmail == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "не указан PayPal email для выплат")
	}

	payment, err := s.payments.CreateWithdrawal(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, s.insufficientFunds(ctx, userID, amount)
		}
		return nil, err
	}

	batchID, err := s.gateway.CreatePayout(ctx, *user.PayPalEmail, amount, "Вывод средств с площадки")
	if err != nil {
		if finishErr := s.payments.FinishWithdrawal(ctx, payment.ID, false, ""); finishErr != nil {
			logger.WithComponent("payment").WithError(finishErr).
				WithField("payment_id", payment.ID).Error("не удалось закрыть неудавшийся вывод")
		}
		return nil, err
	}

	if err := s.payments.FinishWithdrawal(ctx, payment.ID, true, batchID); err != nil {
		return nil, err
	}

	payment.Status = models.PaymentStatusCompleted
	payment.TransactionID = &batchID
	return payment, nil
}

// Reconcile один раз проходит по контрактам в конечном статусе с зависшим
// held escrow: завершённым повторяет release, расторгнутым — refund.
// Благодаря CAS повторный проход безопасен.
func (s *PaymentService) Reconcile(ctx context.Context) {
	log := logger.WithComponent("reconcile")

	contractIDs, err := s.payments.FindStuckEscrows(ctx, 100)
	if err != nil {
		log.WithError(err).Error("не удалось найти зависшие escrow")
		return
	}

	for _, contractID := range contractIDs {
		if _, err := s.payments.ReleaseEscrow(ctx, contractID); err != nil {
			if errors.Is(err, repository.ErrEscrowNotHeld) {
				continue
			}
			log.WithError(err).WithField("contract_id", contractID).Error("повторный release не удался")
			continue
		}
		metrics.EscrowEvents.WithLabelValues("reconciled").Inc()
		log.WithField("contract_id", contractID).Warn("зависший escrow выплачен фоновой сверкой")
	}

	refundIDs, err := s.payments.FindStuckRefunds(ctx, 100)
	if err != nil {
		log.WithError(err).Error("не удалось найти зависшие возвраты")
		return
	}

	for _, contractID := range refundIDs {
		if _, err := s.payments.RefundEscrow(ctx, contractID, "Возврат средств по расторгнутому контракту"); err != nil {
			if errors.Is(err, repository.ErrEscrowNotHeld) {
				continue
			}
			log.WithError(err).WithField("contract_id", contractID).Error("повторный refund не удался")
			continue
		}
		metrics.EscrowEvents.WithLabelValues("reconciled").Inc()
		log.WithField("contract_id", contractID).Warn("зависший escrow возвращён клиенту фоновой сверкой")
	}
}

// RunReconciliation запускает периодическую сверку до отмены контекста.
func (s *PaymentService) RunReconciliation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

// insufficientFunds собирает ошибку нехватки средств с актуальным балансом.
func (s *PaymentService) insufficientFunds(ctx context.Context, userID uuid.UUID, required float64) error {
	current := 0.0
	if userID != uuid.Nil {
		if balance, err := s.ledger.GetBalance(ctx, userID); err == nil {
			current = balance
		}
	}
	return apperror.InsufficientFunds(required, current)
}
