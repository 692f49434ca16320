package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LedgerRepository владеет всеми изменениями баланса пользователя.
// Каждое изменение выражено относительным инкрементом в одном SQL выражении —
// никаких fetch-modify-store циклов для денежных полей.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetBalance возвращает текущий баланс пользователя.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	var balance float64
	err := r.db.GetContext(ctx, &balance, `SELECT balance FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("ledger repository: get balance %w", err)
	}
	return balance, nil
}

// Credit атомарно увеличивает баланс пользователя.
// При withEarnings дополнительно увеличивается total_earnings (выплата фрилансеру).
func (r *LedgerRepository) Credit(ctx context.Context, userID uuid.UUID, amount float64, withEarnings bool) error {
	query := `UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1`
	if withEarnings {
		query = `UPDATE users SET balance = balance + $2, total_earnings = total_earnings + $2, updated_at = NOW() WHERE id = $1`
	}

	res, err := r.db.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: credit %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Debit атомарно списывает сумму с баланса. Условие balance >= amount
// выполняется в том же выражении: ноль затронутых строк означает либо
// отсутствие пользователя, либо нехватку средств.
func (r *LedgerRepository) Debit(ctx context.Context, userID uuid.UUID, amount float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: debit %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// IncrementCompletedJobs увеличивает счётчики завершённых работ у обеих сторон.
func (r *LedgerRepository) IncrementCompletedJobs(ctx context.Context, freelancerID, clientID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE users SET completed_jobs = completed_jobs + 1, updated_at = NOW() WHERE id = $1
	`, freelancerID); err != nil {
		return fmt.Errorf("ledger repository: increment freelancer counter %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE users SET completed_jobs_as_client = completed_jobs_as_client + 1, updated_at = NOW() WHERE id = $1
	`, clientID); err != nil {
		return fmt.Errorf("ledger repository: increment client counter %w", err)
	}
	return nil
}

// UpdateResponseAverage обновляет накопительное среднее время ответа одним
// выражением: newAvg = round((oldAvg*oldCount + delta) / (oldCount + 1)).
func (r *LedgerRepository) UpdateResponseAverage(ctx context.Context, userID uuid.UUID, deltaMinutes float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			avg_response_minutes = ROUND((avg_response_minutes * response_samples + $2) / (response_samples + 1)),
			response_samples = response_samples + 1,
			updated_at = NOW()
		WHERE id = $1
	`, userID, deltaMinutes)
	if err != nil {
		return fmt.Errorf("ledger repository: update response average %w", err)
	}
	return nil
}
