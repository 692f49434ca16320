package repository

import "errors"

// Сентинельные ошибки слоя хранения. Сервисы оборачивают их в apperror
// с понятным сообщением для клиента.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrJobNotFound          = errors.New("job not found")
	ErrContractNotFound     = errors.New("contract not found")
	ErrDeliverableNotFound  = errors.New("deliverable not found")
	ErrEscrowNotFound       = errors.New("escrow not found")
	ErrEscrowAlreadyHeld    = errors.New("held escrow already exists for contract")
	ErrEscrowNotHeld        = errors.New("escrow is not in held status")
	ErrStatusConflict       = errors.New("status transition conflict")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrRequestNotFound      = errors.New("modification request not found")
	ErrPendingRequestExists = errors.New("pending modification request already exists")
	ErrRequestResolved      = errors.New("modification request already resolved")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotificationNotFound = errors.New("notification not found")
)
