package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

// User описывает пользователя платформы с балансом и счётчиками.
// Денежные поля мутируются только атомарными относительными операциями
// через LedgerRepository, никогда через fetch-modify-store.
type User struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	Email                 string     `db:"email" json:"email"`
	Username              string     `db:"username" json:"username"`
	PasswordHash          string     `db:"password_hash" json:"-"`
	Role                  string     `db:"role" json:"role"`
	Balance               float64    `db:"balance" json:"balance"`
	TotalEarnings         float64    `db:"total_earnings" json:"total_earnings"`
	CompletedJobs         int        `db:"completed_jobs" json:"completed_jobs"`
	CompletedJobsAsClient int        `db:"completed_jobs_as_client" json:"completed_jobs_as_client"`
	AvgResponseMinutes    int        `db:"avg_response_minutes" json:"avg_response_minutes"`
	ResponseSamples       int        `db:"response_samples" json:"response_samples"`
	PayPalEmail           *string    `db:"paypal_email" json:"paypal_email,omitempty"`
	IsActive              bool       `db:"is_active" json:"is_active"`
	LastLoginAt           *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}
