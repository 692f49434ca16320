package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ahmadabdelnby/freelance-backend/internal/models"
)

// ContractRepository хранит контракты, их deliverables и историю сумм.
// Все переходы статуса выполняются условным UPDATE по ожидаемому статусу,
// поэтому два конкурентных перехода не могут пройти guard одновременно.
type ContractRepository struct {
	db *sqlx.DB
}

func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create сохраняет новый контракт в статусе active.
func (r *ContractRepository) Create(ctx context.Context, contract *models.Contract) error {
	query := `
		INSERT INTO contracts (job_id, client_id, freelancer_id, proposal_id, agreed_amount, budget_type, agreed_delivery_time, calculated_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, status, hours_worked, started_at, created_at, updated_at
	`
	if err := r.db.GetContext(ctx, contract, query,
		contract.JobID, contract.ClientID, contract.FreelancerID, contract.ProposalID,
		contract.AgreedAmount, contract.BudgetType, contract.AgreedDeliveryTime, contract.CalculatedDeadline); err != nil {
		return fmt.Errorf("contract repository: create %w", err)
	}
	return nil
}

// GetByID возвращает контракт без связанных данных.
func (r *ContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	err := r.db.GetContext(ctx, &contract, `SELECT * FROM contracts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("contract repository: get by id %w", err)
	}
	return &contract, nil
}

// GetByIDWithDetails возвращает контракт вместе с deliverables и историей сумм.
func (r *ContractRepository) GetByIDWithDetails(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	contract, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.db.SelectContext(ctx, &contract.Deliverables, `
		SELECT * FROM deliverables WHERE contract_id = $1 ORDER BY submitted_at ASC, id ASC
	`, id); err != nil {
		return nil, fmt.Errorf("contract repository: list deliverables %w", err)
	}

	if err := r.db.SelectContext(ctx, &contract.AmountHistory, `
		SELECT * FROM contract_amount_history WHERE contract_id = $1 ORDER BY created_at ASC
	`, id); err != nil {
		return nil, fmt.Errorf("contract repository: list amount history %w", err)
	}

	return contract, nil
}

// ListByUser возвращает контракты, где пользователь — клиент или фрилансер.
func (r *ContractRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	var contracts []models.Contract
	err := r.db.SelectContext(ctx, &contracts, `
		SELECT * FROM contracts
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return contracts, err
}

// CompleteIf переводит контракт active -> completed. Ноль затронутых строк
// означает, что контракт уже в конечном статусе (или не существует).
func (r *ContractRepository) CompleteIf(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contracts SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, id)
	if err != nil {
		return fmt.Errorf("contract repository: complete %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// TerminateIf переводит контракт active/paused -> terminated.
func (r *ContractRepository) TerminateIf(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contracts SET status = 'terminated', terminated_at = NOW(), termination_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'paused')
	`, id, reason)
	if err != nil {
		return fmt.Errorf("contract repository: terminate %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// AddDeliverable добавляет сдачу работы и отмечает delivered_at контракта.
// Вставка проходит только пока контракт active.
func (r *ContractRepository) AddDeliverable(ctx context.Context, deliverable *models.Deliverable) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contracts SET delivered_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, deliverable.ContractID)
	if err != nil {
		return fmt.Errorf("contract repository: stamp delivered %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}

	err = tx.GetContext(ctx, deliverable, `
		INSERT INTO deliverables (contract_id, submitted_by, description, files, status)
		VALUES ($1, $2, $3, $4, 'pending_review')
		RETURNING id, status, submitted_at
	`, deliverable.ContractID, deliverable.SubmittedBy, deliverable.Description, deliverable.Files)
	if err != nil {
		return fmt.Errorf("contract repository: add deliverable %w", err)
	}

	return tx.Commit()
}

// GetDeliverable возвращает deliverable по id в рамках контракта.
func (r *ContractRepository) GetDeliverable(ctx context.Context, contractID, deliverableID uuid.UUID) (*models.Deliverable, error) {
	var deliverable models.Deliverable
	err := r.db.GetContext(ctx, &deliverable, `
		SELECT * FROM deliverables WHERE id = $1 AND contract_id = $2
	`, deliverableID, contractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliverableNotFound
		}
		return nil, fmt.Errorf("contract repository: get deliverable %w", err)
	}
	return &deliverable, nil
}

// ReviewDeliverableIf меняет статус deliverable только из pending_review.
func (r *ContractRepository) ReviewDeliverableIf(ctx context.Context, deliverableID uuid.UUID, newStatus string, revisionNote *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliverables SET status = $2, revision_note = $3, reviewed_at = NOW()
		WHERE id = $1 AND status = 'pending_review'
	`, deliverableID, newStatus, revisionNote)
	if err != nil {
		return fmt.Errorf("contract repository: review deliverable %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// UpdateHours перезаписывает отработанные часы почасового активного контракта.
func (r *ContractRepository) UpdateHours(ctx context.Context, id uuid.UUID, hours float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contracts SET hours_worked = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND budget_type = 'hourly'
	`, id, hours)
	if err != nil {
		return fmt.Errorf("contract repository: update hours %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ChangeAmount обновляет согласованную сумму активного контракта и пишет
// запись в историю изменений в одной транзакции.
func (r *ContractRepository) ChangeAmount(ctx context.Context, id uuid.UUID, oldAmount, newAmount float64, reason string, changedBy uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contracts SET agreed_amount = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, id, newAmount)
	if err != nil {
		return fmt.Errorf("contract repository: change amount %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contract_amount_history (contract_id, old_amount, new_amount, reason, changed_by)
		VALUES ($1, $2, $3, $4, $5)
	`, id, oldAmount, newAmount, reason, changedBy); err != nil {
		return fmt.Errorf("contract repository: amount history %w", err)
	}

	return tx.Commit()
}

// UpdateDeadline обновляет согласованный срок поставки активного контракта.
func (r *ContractRepository) UpdateDeadline(ctx context.Context, id uuid.UUID, deliveryTime *int, deadline *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contracts SET agreed_delivery_time = $2, calculated_deadline = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, id, deliveryTime, deadline)
	if err != nil {
		return fmt.Errorf("contract repository: update deadline %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}
