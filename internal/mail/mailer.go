package mail

import (
	"context"

	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
)

// Mailer отправляет письма пользователям. Сервисы зависят только от
// интерфейса; в dev окружении письма просто пишутся в лог.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer пишет письма в структурированный лог вместо реальной отправки.
type LogMailer struct{}

func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger.WithComponent("mail").WithFields(map[string]interface{}{
		"to":      to,
		"subject": subject,
	}).Info(body)
	return nil
}
