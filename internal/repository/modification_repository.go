package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ahmadabdelnby/freelance-backend/internal/models"
)

// ModificationRepository хранит запросы на изменение условий контракта.
// Частичный уникальный индекс по (contract_id) WHERE status = 'pending'
// гарантирует не больше одного открытого запроса на контракт.
type ModificationRepository struct {
	db *sqlx.DB
}

func NewModificationRepository(db *sqlx.DB) *ModificationRepository {
	return &ModificationRepository{db: db}
}

// Create сохраняет новый запрос в статусе pending.
func (r *ModificationRepository) Create(ctx context.Context, req *models.ModificationRequest) error {
	query := `
		INSERT INTO modification_requests (contract_id, requested_by, requested_to, modification_type,
			current_budget, requested_budget, current_delivery_time, requested_delivery_time,
			budget_difference, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, status, created_at, updated_at
	`
	err := r.db.GetContext(ctx, req, query,
		req.ContractID, req.RequestedBy, req.RequestedTo, req.ModificationType,
		req.CurrentBudget, req.RequestedBudget, req.CurrentDeliveryTime, req.RequestedDeliveryTime,
		req.BudgetDifference, req.Reason)
	if err != nil {
		if strings.Contains(err.Error(), "modification_requests_one_pending_per_contract") {
			return ErrPendingRequestExists
		}
		return fmt.Errorf("modification repository: create %w", err)
	}
	return nil
}

// GetByID возвращает запрос на изменение.
func (r *ModificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ModificationRequest, error) {
	var req models.ModificationRequest
	err := r.db.GetContext(ctx, &req, `SELECT * FROM modification_requests WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("modification repository: get by id %w", err)
	}
	return &req, nil
}

// ResolveIf переводит запрос pending -> approved/rejected. Ноль затронутых
// строк означает, что запрос уже разрешён другим вызовом.
func (r *ModificationRepository) ResolveIf(ctx context.Context, id uuid.UUID, status string, responseNote *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE modification_requests
		SET status = $2, response_note = $3, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, status, responseNote)
	if err != nil {
		return fmt.Errorf("modification repository: resolve %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRequestResolved
	}
	return nil
}

// Reopen возвращает approved запрос обратно в pending. Используется, когда
// после выигрыша гонки за разрешение не удалось применить изменения
// (например, у клиента не хватило средств на увеличение бюджета).
func (r *ModificationRepository) Reopen(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE modification_requests
		SET status = 'pending', response_note = NULL, resolved_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
	`, id)
	if err != nil {
		return fmt.Errorf("modification repository: reopen %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// ListByContract возвращает историю запросов по контракту.
func (r *ModificationRepository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.ModificationRequest, error) {
	var reqs []models.ModificationRequest
	err := r.db.SelectContext(ctx, &reqs, `
		SELECT * FROM modification_requests WHERE contract_id = $1 ORDER BY created_at DESC
	`, contractID)
	return reqs, err
}

// ListPendingForUser возвращает запросы, ожидающие ответа пользователя.
func (r *ModificationRepository) ListPendingForUser(ctx context.Context, userID uuid.UUID) ([]models.ModificationRequest, error) {
	var reqs []models.ModificationRequest
	err := r.db.SelectContext(ctx, &reqs, `
		SELECT * FROM modification_requests WHERE requested_to = $1 AND status = 'pending' ORDER BY created_at DESC
	`, userID)
	return reqs, err
}
