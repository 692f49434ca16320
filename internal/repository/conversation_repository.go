package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ahmadabdelnby/freelance-backend/internal/models"
)

// ConversationRepository хранит диалоги и сообщения.
// Порядок сообщений детерминирован: created_at, при равенстве — id.
type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetOrCreate возвращает диалог между двумя пользователями, создавая его при
// отсутствии. Пара участников нормализована по возрастанию id, чтобы не
// плодить зеркальные диалоги.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, userA, userB uuid.UUID, jobID, proposalID *uuid.UUID) (*models.Conversation, error) {
	first, second := userA, userB
	if second.String() < first.String() {
		first, second = second, first
	}

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations WHERE participant_a = $1 AND participant_b = $2
	`, first, second)
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation repository: lookup %w", err)
	}

	err = r.db.GetContext(ctx, &conv, `
		INSERT INTO conversations (participant_a, participant_b, job_id, proposal_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_a, participant_b) DO UPDATE SET updated_at = NOW()
		RETURNING *
	`, first, second, jobID, proposalID)
	if err != nil {
		return nil, fmt.Errorf("conversation repository: create %w", err)
	}
	return &conv, nil
}

// GetByID возвращает диалог.
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation repository: get by id %w", err)
	}
	return &conv, nil
}

// ListByUser возвращает диалоги пользователя, свежие сверху.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `
		SELECT * FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`, userID)
	return convs, err
}

// AddMessage вставляет сообщение и обновляет указатель последнего сообщения
// диалога в одной транзакции.
func (r *ConversationRepository) AddMessage(ctx context.Context, msg *models.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, msg, `
		INSERT INTO messages (conversation_id, sender_id, content, attachments, is_delivered, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_read, is_edited, created_at
	`, msg.ConversationID, msg.SenderID, msg.Content, msg.Attachments, msg.IsDelivered, msg.DeliveredAt)
	if err != nil {
		return fmt.Errorf("conversation repository: add message %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_id = $2, last_message_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, msg.ConversationID, msg.ID); err != nil {
		return fmt.Errorf("conversation repository: bump last message %w", err)
	}

	return tx.Commit()
}

// ListMessages возвращает страницу сообщений диалога, новые сверху.
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	return msgs, err
}

// LastTwoMessages возвращает два последних сообщения диалога (для расчёта
// времени ответа). Первый элемент — самое свежее.
func (r *ConversationRepository) LastTwoMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 2
	`, conversationID)
	return msgs, err
}

// GetMessageByID возвращает сообщение.
func (r *ConversationRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("conversation repository: get message %w", err)
	}
	return &msg, nil
}

// UpdateMessageContent перезаписывает текст сообщения и помечает его как
// отредактированное.
func (r *ConversationRepository) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET content = $2, is_edited = TRUE, edited_at = NOW() WHERE id = $1
	`, id, content)
	if err != nil {
		return fmt.Errorf("conversation repository: edit message %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteMessage удаляет сообщение.
func (r *ConversationRepository) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("conversation repository: delete message %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkMessagesRead помечает прочитанными все входящие сообщения диалога.
func (r *ConversationRepository) MarkMessagesRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = NOW()
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("conversation repository: mark read %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkDelivered помечает доставленными все недоставленные сообщения,
// адресованные пользователю (вызывается при его подключении).
func (r *ConversationRepository) MarkDelivered(ctx context.Context, recipientID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_delivered = TRUE, delivered_at = NOW()
		WHERE is_delivered = FALSE AND sender_id <> $1 AND conversation_id IN (
			SELECT id FROM conversations WHERE participant_a = $1 OR participant_b = $1
		)
	`, recipientID)
	if err != nil {
		return fmt.Errorf("conversation repository: mark delivered %w", err)
	}
	return nil
}

// CountUnread возвращает количество непрочитанных входящих сообщений диалога.
func (r *ConversationRepository) CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, conversationID, userID)
	return count, err
}

// SetArchived добавляет или убирает пользователя из archived_by диалога.
func (r *ConversationRepository) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error {
	return r.toggleFlag(ctx, "archived_by", conversationID, userID, archived)
}

// SetMuted добавляет или убирает пользователя из muted_by диалога.
func (r *ConversationRepository) SetMuted(ctx context.Context, conversationID, userID uuid.UUID, muted bool) error {
	return r.toggleFlag(ctx, "muted_by", conversationID, userID, muted)
}

func (r *ConversationRepository) toggleFlag(ctx context.Context, column string, conversationID, userID uuid.UUID, on bool) error {
	var query string
	if on {
		query = fmt.Sprintf(`
			UPDATE conversations SET %s = array_append(array_remove(%s, $2), $2), updated_at = NOW()
			WHERE id = $1
		`, column, column)
	} else {
		query = fmt.Sprintf(`
			UPDATE conversations SET %s = array_remove(%s, $2), updated_at = NOW()
			WHERE id = $1
		`, column, column)
	}

	res, err := r.db.ExecContext(ctx, query, conversationID, userID.String())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("conversation repository: toggle %s %s", column, pqErr.Message)
		}
		return fmt.Errorf("conversation repository: toggle %s %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}
