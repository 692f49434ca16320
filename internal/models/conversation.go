package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation описывает переписку строго между двумя участниками.
type Conversation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ParticipantA   uuid.UUID  `db:"participant_a" json:"participant_a"`
	ParticipantB   uuid.UUID  `db:"participant_b" json:"participant_b"`
	JobID          *uuid.UUID `db:"job_id" json:"job_id,omitempty"`
	ProposalID     *uuid.UUID `db:"proposal_id" json:"proposal_id,omitempty"`
	LastMessageID  *uuid.UUID `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageAt  *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	ArchivedBy     StringArray `db:"archived_by" json:"archived_by,omitempty"`
	MutedBy        StringArray `db:"muted_by" json:"muted_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	// Связанные данные (загружаются отдельно)
	LastMessage *Message `json:"last_message,omitempty"`
}

// HasParticipant проверяет, что пользователь является участником переписки.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant возвращает второго участника переписки.
func (c *Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Message описывает сообщение в переписке. После создания изменяется только
// содержимое (в пределах окна редактирования) и флаги статуса; физический
// порядок сообщений никогда не меняется.
type Message struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	ConversationID uuid.UUID   `db:"conversation_id" json:"conversation_id"`
	SenderID       uuid.UUID   `db:"sender_id" json:"sender_id"`
	Content        string      `db:"content" json:"content"`
	Attachments    StringArray `db:"attachments" json:"attachments,omitempty"`
	IsRead         bool        `db:"is_read" json:"is_read"`
	IsDelivered    bool        `db:"is_delivered" json:"is_delivered"`
	IsEdited       bool        `db:"is_edited" json:"is_edited"`
	ReadAt         *time.Time  `db:"read_at" json:"read_at,omitempty"`
	DeliveredAt    *time.Time  `db:"delivered_at" json:"delivered_at,omitempty"`
	EditedAt       *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}
