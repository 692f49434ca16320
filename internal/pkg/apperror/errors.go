package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeDownstream        ErrorCode = "DOWNSTREAM_ERROR"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError представляет типизированную ошибку приложения с HTTP статусом.
// Для INSUFFICIENT_FUNDS дополнительно заполняются требуемая сумма и текущий
// баланс, чтобы клиент мог показать недостающую сумму.
type AppError struct {
	Code           ErrorCode
	Message        string
	HTTPStatus     int
	RequiredAmount float64
	CurrentBalance float64
	Cause          error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// InsufficientFunds создаёт ошибку нехватки средств с суммами для ответа клиенту.
func InsufficientFunds(required, current float64) *AppError {
	return &AppError{
		Code:           ErrCodeInsufficientFunds,
		Message:        "недостаточно средств на балансе",
		HTTPStatus:     http.StatusBadRequest,
		RequiredAmount: required,
		CurrentBalance: current,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeValidation, ErrCodeInvalidState, ErrCodeInsufficientFunds:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeDownstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeForbidden
}

func IsInvalidState(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInvalidState
}

func IsInsufficientFunds(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInsufficientFunds
}

var (
	ErrContractNotFound     = New(ErrCodeNotFound, "контракт не найден")
	ErrDeliverableNotFound  = New(ErrCodeNotFound, "сдача работы не найдена")
	ErrEscrowNotFound       = New(ErrCodeNotFound, "escrow не найден")
	ErrRequestNotFound      = New(ErrCodeNotFound, "запрос на изменение не найден")
	ErrConversationNotFound = New(ErrCodeNotFound, "беседа не найдена")
	ErrUserNotFound         = New(ErrCodeNotFound, "пользователь не найден")
	ErrUnauthorized         = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden            = New(ErrCodeForbidden, "недостаточно прав")
	ErrContractNotActive    = New(ErrCodeInvalidState, "контракт уже завершён или расторгнут")
	ErrEscrowNotHeld        = New(ErrCodeInvalidState, "escrow уже разрешён")
)
