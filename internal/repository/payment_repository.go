package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ahmadabdelnby/freelance-backend/internal/models"
)

// PaymentRepository хранит денежные записи и выполняет движения средств.
// Каждая операция, меняющая escrow и баланс, выполняется в одной транзакции,
// а смена статуса escrow — условным UPDATE по ожидаемому статусу (CAS),
// поэтому гонка двух конкурентных release невозможна: второй получит
// ErrEscrowNotHeld и денег не переведёт.
type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, contract_id, payer_id, payee_id, amount, platform_fee, net_amount,
	total_amount, status, type, is_escrow, transaction_id, description, created_at, released_at`

// OpenEscrow списывает средства клиента и создаёт held запись для контракта.
// Повторное открытие для контракта с живым held escrow запрещено.
func (r *PaymentRepository) OpenEscrow(ctx context.Context, contractID, clientID, freelancerID uuid.UUID, amount, feeRate float64) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Защита от двойного финансирования
	var exists int
	err = tx.GetContext(ctx, &exists, `
		SELECT COUNT(*) FROM payments WHERE contract_id = $1 AND status = 'held'
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("payment repository: open escrow check %w", err)
	}
	if exists > 0 {
		return nil, ErrEscrowAlreadyHeld
	}

	// Списываем с клиента атомарно; ноль строк означает нехватку средств
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
	`, clientID, amount)
	if err != nil {
		return nil, fmt.Errorf("payment repository: open escrow debit %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInsufficientFunds
	}

	payment := &models.Payment{
		ContractID: &contractID,
		PayerID:    clientID,
		PayeeID:    freelancerID,
		Amount:     amount,
		Status:     models.PaymentStatusHeld,
		Type:       models.PaymentTypeEscrow,
		IsEscrow:   true,
	}
	payment.Recalculate(feeRate)

	err = tx.GetContext(ctx, payment, `
		INSERT INTO payments (contract_id, payer_id, payee_id, amount, platform_fee, net_amount, total_amount, status, type, is_escrow, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'held', 'escrow', TRUE, 'Заморозка средств по контракту')
		RETURNING `+paymentColumns,
		contractID, clientID, freelancerID, payment.Amount, payment.PlatformFee, payment.NetAmount, payment.TotalAmount)
	if err != nil {
		// Частичный уникальный индекс по (contract_id) WHERE status='held'
		// закрывает гонку двух конкурентных открытий
		if strings.Contains(err.Error(), "payments_one_held_per_contract") {
			return nil, ErrEscrowAlreadyHeld
		}
		return nil, fmt.Errorf("payment repository: open escrow insert %w", err)
	}

	return payment, tx.Commit()
}

// AdjustEscrow изменяет сумму held escrow на delta и выполняет симметричное
// движение по балансу клиента в той же транзакции: рост escrow списывает
// разницу с клиента, уменьшение возвращает её.
func (r *PaymentRepository) AdjustEscrow(ctx context.Context, contractID uuid.UUID, delta, feeRate float64) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		SELECT `+paymentColumns+` FROM payments
		WHERE contract_id = $1 AND status = 'held' FOR UPDATE
	`, contractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotHeld
		}
		return nil, fmt.Errorf("payment repository: adjust escrow select %w", err)
	}

	if delta > 0 {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET balance = balance - $2, updated_at = NOW()
			WHERE id = $1 AND balance >= $2
		`, payment.PayerID, delta)
		if err != nil {
			return nil, fmt.Errorf("payment repository: adjust escrow debit %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrInsufficientFunds
		}
	} else if delta < 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1
		`, payment.PayerID, -delta); err != nil {
			return nil, fmt.Errorf("payment repository: adjust escrow credit %w", err)
		}
	}

	payment.Amount = models.RoundMoney(payment.Amount + delta)
	payment.Recalculate(feeRate)

	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET amount = $2, platform_fee = $3, net_amount = $4, total_amount = $5
		WHERE id = $1 AND status = 'held'
	`, payment.ID, payment.Amount, payment.PlatformFee, payment.NetAmount, payment.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("payment repository: adjust escrow update %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrEscrowNotHeld
	}

	return &payment, tx.Commit()
}

// ReleaseEscrow переводит held escrow в released и начисляет фрилансеру
// net_amount (сумма минус комиссия платформы). Условный UPDATE по статусу
// гарантирует не более одного успешного release на контракт.
func (r *PaymentRepository) ReleaseEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		SELECT `+paymentColumns+` FROM payments
		WHERE contract_id = $1 AND status = 'held' FOR UPDATE
	`, contractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotHeld
		}
		return nil, fmt.Errorf("payment repository: release escrow select %w", err)
	}

	now := time.Now()
	transactionID := "rel_" + uuid.NewString()

	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = 'released', released_at = $2, transaction_id = $3
		WHERE id = $1 AND status = 'held'
	`, payment.ID, now, transactionID)
	if err != nil {
		return nil, fmt.Errorf("payment repository: release escrow update %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrEscrowNotHeld
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + $2, total_earnings = total_earnings + $2, updated_at = NOW()
		WHERE id = $1
	`, payment.PayeeID, payment.NetAmount); err != nil {
		return nil, fmt.Errorf("payment repository: release escrow credit %w", err)
	}

	payment.Status = models.PaymentStatusReleased
	payment.ReleasedAt = &now
	payment.TransactionID = &transactionID

	return &payment, tx.Commit()
}

// RefundEscrow переводит held escrow в refunded и возвращает клиенту полную сумму.
func (r *PaymentRepository) RefundEscrow(ctx context.Context, contractID uuid.UUID, reason string) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		SELECT `+paymentColumns+` FROM payments
		WHERE contract_id = $1 AND status = 'held' FOR UPDATE
	`, contractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotHeld
		}
		return nil, fmt.Errorf("payment repository: refund escrow select %w", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = 'refunded', released_at = $2, description = $3
		WHERE id = $1 AND status = 'held'
	`, payment.ID, now, reason)
	if err != nil {
		return nil, fmt.Errorf("payment repository: refund escrow update %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrEscrowNotHeld
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1
	`, payment.PayerID, payment.Amount); err != nil {
		return nil, fmt.Errorf("payment repository: refund escrow credit %w", err)
	}

	payment.Status = models.PaymentStatusRefunded
	payment.ReleasedAt = &now
	payment.Description = &reason

	return &payment, tx.Commit()
}

// GetEscrowByContractID возвращает escrow запись контракта (любой статус).
func (r *PaymentRepository) GetEscrowByContractID(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `
		SELECT `+paymentColumns+` FROM payments
		WHERE contract_id = $1 AND is_escrow = TRUE
		ORDER BY created_at DESC LIMIT 1
	`, contractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("payment repository: get escrow %w", err)
	}
	return &payment, nil
}

// CreateDeposit начисляет средства на баланс после успешного capture у провайдера.
func (r *PaymentRepository) CreateDeposit(ctx context.Context, userID uuid.UUID, amount float64, transactionID string) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1
	`, userID, amount); err != nil {
		return nil, fmt.Errorf("payment repository: deposit credit %w", err)
	}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		INSERT INTO payments (payer_id, payee_id, amount, platform_fee, net_amount, total_amount, status, type, transaction_id, description)
		VALUES ($1, $1, $2, 0, $2, $2, 'completed', 'payment', $3, 'Пополнение баланса')
		RETURNING `+paymentColumns,
		userID, amount, transactionID)
	if err != nil {
		return nil, fmt.Errorf("payment repository: deposit insert %w", err)
	}

	return &payment, tx.Commit()
}

// CreateWithdrawal списывает средства и создаёт pending запись на вывод.
func (r *PaymentRepository) CreateWithdrawal(ctx context.Context, userID uuid.UUID, amount float64) (*models.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
	`, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("payment repository: withdrawal debit %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInsufficientFunds
	}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		INSERT INTO payments (payer_id, payee_id, amount, platform_fee, net_amount, total_amount, status, type, description)
		VALUES ($1, $1, $2, 0, $2, $2, 'pending', 'withdrawal', 'Вывод средств')
		RETURNING `+paymentColumns,
		userID, amount)
	if err != nil {
		return nil, fmt.Errorf("payment repository: withdrawal insert %w", err)
	}

	return &payment, tx.Commit()
}

// FinishWithdrawal закрывает pending вывод: completed при успехе провайдера,
// failed с возвратом средств при неудаче.
func (r *PaymentRepository) FinishWithdrawal(ctx context.Context, paymentID uuid.UUID, success bool, transactionID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		SELECT `+paymentColumns+` FROM payments
		WHERE id = $1 AND type = 'withdrawal' AND status = 'pending' FOR UPDATE
	`, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEscrowNotFound
		}
		return fmt.Errorf("payment repository: finish withdrawal select %w", err)
	}

	if success {
		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET status = 'completed', transaction_id = $2, released_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, paymentID, transactionID)
		if err != nil {
			return fmt.Errorf("payment repository: finish withdrawal update %w", err)
		}
		return tx.Commit()
	}

	// Неудача провайдера: возвращаем списанное
	if _, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = 'failed' WHERE id = $1 AND status = 'pending'
	`, paymentID); err != nil {
		return fmt.Errorf("payment repository: finish withdrawal fail %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1
	`, payment.PayerID, payment.Amount); err != nil {
		return fmt.Errorf("payment repository: finish withdrawal refund %w", err)
	}

	return tx.Commit()
}

// ListByUser возвращает денежные записи пользователя.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT `+paymentColumns+` FROM payments
		WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return payments, err
}

// FindStuckEscrows возвращает id контрактов, завершённых, но с escrow всё ещё
// в held — результат сбоя release на этапе завершения. Используется фоновой
// сверкой для повторного release.
func (r *PaymentRepository) FindStuckEscrows(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT c.id FROM contracts c
		JOIN payments p ON p.contract_id = c.id AND p.status = 'held'
		WHERE c.status = 'completed'
		LIMIT $1
	`, limit)
	return ids, err
}

// FindStuckRefunds возвращает id расторгнутых контрактов, у которых escrow
// остался в held — возврат клиенту при расторжении не прошёл. Фоновая сверка
// повторяет refund по ним.
func (r *PaymentRepository) FindStuckRefunds(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT c.id FROM contracts c
		JOIN payments p ON p.contract_id = c.id AND p.status = 'held'
		WHERE c.status = 'terminated'
		LIMIT $1
	`, limit)
	return ids, err
}
