package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahmadabdelnby/freelance-backend/internal/goroutine"
	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
	"github.com/ahmadabdelnby/freelance-backend/internal/mail"
	"github.com/ahmadabdelnby/freelance-backend/internal/metrics"
	"github.com/ahmadabdelnby/freelance-backend/internal/models"
	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
)

// ContractRepository описывает зависимости сервиса от хранилища контрактов.
type ContractRepository interface {
	Create(ctx context.Context, contract *models.Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	GetByIDWithDetails(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error)
	CompleteIf(ctx context.Context, id uuid.UUID) error
	TerminateIf(ctx context.Context, id uuid.UUID, reason string) error
	AddDeliverable(ctx context.Context, deliverable *models.Deliverable) error
	GetDeliverable(ctx context.Context, contractID, deliverableID uuid.UUID) (*models.Deliverable, error)
	ReviewDeliverableIf(ctx context.Context, deliverableID uuid.UUID, newStatus string, revisionNote *string) error
	UpdateHours(ctx context.Context, id uuid.UUID, hours float64) error
	ChangeAmount(ctx context.Context, id uuid.UUID, oldAmount, newAmount float64, reason string, changedBy uuid.UUID) error
	UpdateDeadline(ctx context.Context, id uuid.UUID, deliveryTime *int, deadline *time.Time) error
}

// ModificationStore описывает хранилище запросов на изменение условий.
type ModificationStore interface {
	Create(ctx context.Context, req *models.ModificationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ModificationRequest, error)
	ResolveIf(ctx context.Context, id uuid.UUID, status string, responseNote *string) error
	Reopen(ctx context.Context, id uuid.UUID) error
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.ModificationRequest, error)
	ListPendingForUser(ctx context.Context, userID uuid.UUID) ([]models.ModificationRequest, error)
}

// ContractJobStore читает заказ и переключает его статус.
type ContractJobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// ContractLedger обновляет счётчики завершённых работ.
type ContractLedger interface {
	IncrementCompletedJobs(ctx context.Context, freelancerID, clientID uuid.UUID) error
}

// EscrowManager — денежный контур, который сервис контрактов дёргает при
// создании, изменении и завершении контракта.
type EscrowManager interface {
	OpenEscrow(ctx context.Context, contractID, clientID, freelancerID uuid.UUID, amount float64) (*models.Payment, error)
	AdjustEscrow(ctx context.Context, contractID uuid.UUID, delta float64) (*models.Payment, error)
	ReleaseEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error)
	RefundEscrow(ctx context.Context, contractID uuid.UUID, reason string) (*models.Payment, error)
	GetEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error)
}

// Notifier сохраняет уведомление и доставляет его по WebSocket.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// ContractService реализует жизненный цикл контракта: создание с
// финансированием escrow, сдачу и приёмку работ, изменение условий,
// завершение с выплатой и административные операции.
type ContractService struct {
	contracts     ContractRepository
	modifications ModificationStore
	jobs          ContractJobStore
	ledger        ContractLedger
	escrow        EscrowManager
	users         PaymentUserReader
	notifier      Notifier
	mailer        mail.Mailer
}

// CreateContractInput содержит данные для создания контракта.
type CreateContractInput struct {
	JobID              uuid.UUID
	FreelancerID       uuid.UUID
	ProposalID         uuid.UUID
	AgreedAmount       float64
	BudgetType         string
	AgreedDeliveryTime *int
}

// ModificationInput содержит данные запроса на изменение условий.
type ModificationInput struct {
	ModificationType      string
	RequestedBudget       *float64
	RequestedDeliveryTime *int
	Reason                string
}

// NewContractService создаёт сервис контрактов.
func NewContractService(
	contracts ContractRepository,
	modifications ModificationStore,
	jobs ContractJobStore,
	ledger ContractLedger,
	escrow EscrowManager,
	users PaymentUserReader,
	notifier Notifier,
	mailer mail.Mailer,
) *ContractService {
	return &ContractService{
		contracts:     contracts,
		modifications: modifications,
		jobs:          jobs,
		ledger:        ledger,
		escrow:        escrow,
		users:         users,
		notifier:      notifier,
		mailer:        mailer,
	}
}

// CreateContract создаёт контракт по выигранному предложению и замораживает
// средства клиента. Контракт без профинансированного escrow не остаётся
// активным: при неудаче финансирования он сразу расторгается.
func (s *ContractService) CreateContract(ctx context.Context, clientID uuid.UUID, in CreateContractInput) (*models.Contract, error) {
	if in.AgreedAmount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма контракта должна быть положительной")
	}
	if in.BudgetType != models.BudgetTypeFixed && in.BudgetType != models.BudgetTypeHourly {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый тип бюджета")
	}
	if in.FreelancerID == clientID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя заключить контракт с самим собой")
	}

	job, err := s.jobs.GetByID(ctx, in.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "заказ не найден")
		}
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}

	contract := &models.Contract{
		JobID:              in.JobID,
		ClientID:           clientID,
		FreelancerID:       in.FreelancerID,
		ProposalID:         in.ProposalID,
		AgreedAmount:       in.AgreedAmount,
		BudgetType:         in.BudgetType,
		AgreedDeliveryTime: in.AgreedDeliveryTime,
	}
	if in.AgreedDeliveryTime != nil && *in.AgreedDeliveryTime > 0 {
		deadline := time.Now().AddDate(0, 0, *in.AgreedDeliveryTime)
		contract.CalculatedDeadline = &deadline
	}

	if err := s.contracts.Create(ctx, contract); err != nil {
		return nil, err
	}

	if _, err := s.escrow.OpenEscrow(ctx, contract.ID, clientID, in.FreelancerID, in.AgreedAmount); err != nil {
		if termErr := s.contracts.TerminateIf(ctx, contract.ID, "финансирование escrow не удалось"); termErr != nil {
			logger.WithComponent("contract").WithError(termErr).
				WithField("contract_id", contract.ID).Error("не удалось расторгнуть непрофинансированный контракт")
		}
		return nil, err
	}

	contract.Status = models.ContractStatusActive
	metrics.ContractTransitions.WithLabelValues("active").Inc()

	s.runSideEffects(ctx, contract.ID, map[string]func(context.Context) error{
		"job in_progress": func(ctx context.Context) error {
			return s.jobs.UpdateStatus(ctx, in.JobID, models.JobStatusInProgress)
		},
		"notify freelancer": func(ctx context.Context) error {
			return s.notifier.Notify(ctx, &models.Notification{
				UserID:     in.FreelancerID,
				Type:       models.NotificationContractCreated,
				Title:      "Новый контракт",
				Content:    "Клиент заключил с вами контракт, средства заморожены на escrow",
				Category:   models.NotificationCategoryContract,
				Priority:   models.NotificationPriorityHigh,
				JobID:      &in.JobID,
				ContractID: &contract.ID,
				FromUserID: &clientID,
			})
		},
		"mail freelancer": func(ctx context.Context) error {
			return s.mailUser(ctx, in.FreelancerID, "Новый контракт",
				fmt.Sprintf("С вами заключён контракт на сумму %.2f", in.AgreedAmount))
		},
	})

	return contract, nil
}

// GetContract возвращает контракт с deliverables и историей сумм.
// Доступен только участникам и администратору.
func (s *ContractService) GetContract(ctx context.Context, callerID uuid.UUID, callerRole string, contractID uuid.UUID) (*models.Contract, error) {
	contract, err := s.contracts.GetByIDWithDetails(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}
	if !s.canAccess(contract, callerID, callerRole) {
		return nil, apperror.ErrForbidden
	}
	return contract, nil
}

// ListContracts возвращает контракты пользователя.
func (s *ContractService) ListContracts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.contracts.ListByUser(ctx, userID, limit, offset)
}

// SubmitWork регистрирует сдачу работы фрилансером.
func (s *ContractService) SubmitWork(ctx context.Context, freelancerID, contractID uuid.UUID, description string, files []string) (*models.Deliverable, error) {
	if description == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "описание сдачи обязательно")
	}

	contract, err := s.getParticipantContract(ctx, contractID, freelancerID)
	if err != nil {
		return nil, err
	}
	if contract.FreelancerID != freelancerID {
		return nil, apperror.ErrForbidden
	}
	if contract.Status != models.ContractStatusActive {
		return nil, apperror.ErrContractNotActive
	}

	deliverable := &models.Deliverable{
		ContractID:  contractID,
		SubmittedBy: freelancerID,
		Description: description,
		Files:       models.StringArray(files),
	}
	if err := s.contracts.AddDeliverable(ctx, deliverable); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, apperror.ErrContractNotActive
		}
		return nil, err
	}

	s.runSideEffects(ctx, contractID, map[string]func(context.Context) error{
		"notify client": func(ctx context.Context) error {
			return s.notifier.Notify(ctx, &models.Notification{
				UserID:     contract.ClientID,
				Type:       models.NotificationDeliverableSubmitted,
				Title:      "Работа сдана на проверку",
				Content:    "Фрилансер отправил результат работы на проверку",
				Category:   models.NotificationCategoryContract,
				Priority:   models.NotificationPriorityHigh,
				ContractID: &contractID,
				FromUserID: &freelancerID,
			})
		},
		"mail client": func(ctx context.Context) error {
			return s.mailUser(ctx, contract.ClientID, "Работа сдана на проверку",
				"Фрилансер отправил результат работы на проверку")
		},
	})

	return deliverable, nil
}

// ReviewWork обрабатывает решение клиента по сдаче работы: accept завершает
// контракт и выплачивает фрилансеру, request_revision возвращает работу с
// обязательным комментарием.
func (s *ContractService) ReviewWork(ctx context.Context, clientID, contractID, deliverableID uuid.UUID, action string, revisionNote string) (*models.Contract, error) {
	contract, err := s.getParticipantContract(ctx, contractID, clientID)
	if err != nil {
		return nil, err
	}
	if contract.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}
	if contract.Status != models.ContractStatusActive {
		return nil, apperror.ErrContractNotActive
	}

	deliverable, err := s.contracts.GetDeliverable(ctx, contractID, deliverableID)
	if err != nil {
		if errors.Is(err, repository.ErrDeliverableNotFound) {
			return nil, apperror.ErrDeliverableNotFound
		}
		return nil, err
	}
	if deliverable.Status != models.DeliverableStatusPendingReview {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "сдача уже рассмотрена")
	}

	switch action {
	case "accept":
		if err := s.contracts.ReviewDeliverableIf(ctx, deliverableID, models.DeliverableStatusAccepted, nil); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return nil, apperror.New(apperror.ErrCodeInvalidState, "сдача уже рассмотрена")
			}
			return nil, err
		}
		s.runSideEffects(ctx, contractID, map[string]func(context.Context) error{
			"notify deliverable accepted": func(ctx context.Context) error {
				return s.notifier.Notify(ctx, &models.Notification{
					UserID:     contract.FreelancerID,
					Type:       models.NotificationDeliverableAccepted,
					Title:      "Работа принята",
					Content:    "Клиент принял вашу работу",
					Category:   models.NotificationCategoryContract,
					Priority:   models.NotificationPriorityHigh,
					ContractID: &contractID,
					FromUserID: &clientID,
				})
			},
		})
		return s.finishContract(ctx, contract)

	case "request_revision":
		if revisionNote == "" {
			return nil, apperror.New(apperror.ErrCodeValidation, "комментарий к доработке обязателен")
		}
		if err := s.contracts.ReviewDeliverableIf(ctx, deliverableID, models.DeliverableStatusRevisionRequested, &revisionNote); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return nil, apperror.New(apperror.ErrCodeInvalidState, "сдача уже рассмотрена")
			}
			return nil, err
		}
		s.runSideEffects(ctx, contractID, map[string]func(context.Context) error{
			"notify revision requested": func(ctx context.Context) error {
				return s.notifier.Notify(ctx, &models.Notification{
					UserID:     contract.FreelancerID,
					Type:       models.NotificationDeliverableRejected,
					Title:      "Запрошена доработка",
					Content:    revisionNote,
					Category:   models.NotificationCategoryContract,
					Priority:   models.NotificationPriorityHigh,
					ContractID: &contractID,
					FromUserID: &clientID,
				})
			},
			"mail freelancer revision": func(ctx context.Context) error {
				return s.mailUser(ctx, contract.FreelancerID, "Запрошена доработка", revisionNote)
			},
		})
		return contract, nil

	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимое действие по сдаче")
	}
}

// CompleteContract завершает контракт по инициативе клиента без приёмки
// конкретной сдачи.
func (s *ContractService) CompleteContract(ctx context.Context, clientID, contractID uuid.UUID) (*models.Contract, error) {
	contract, err := s.getParticipantContract(ctx, contractID, clientID)
	if err != nil {
		return nil, err
	}
	if contract.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}
	return s.finishContract(ctx, contract)
}

// UpdateHoursWorked обновляет часы почасового контракта.
func (s *ContractService) UpdateHoursWorked(ctx context.Context, freelancerID, contractID uuid.UUID, hours float64) error {
	if hours < 0 {
		return apperror.New(apperror.ErrCodeValidation, "часы не могут быть отрицательными")
	}

	contract, err := s.getParticipantContract(ctx, contractID, freelancerID)
	if err != nil {
		return err
	}
	if contract.FreelancerID != freelancerID {
		return apperror.ErrForbidden
	}
	if contract.BudgetType != models.BudgetTypeHourly {
		return apperror.New(apperror.ErrCodeValidation, "контракт не почасовой")
	}

	if err := s.contracts.UpdateHours(ctx, contractID, hours); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return apperror.ErrContractNotActive
		}
		return err
	}
	return nil
}

// RequestModification создаёт запрос на изменение бюджета и/или срока.
func (s *ContractService) RequestModification(ctx context.Context, requesterID, contractID uuid.UUID, in ModificationInput) (*models.ModificationRequest, error) {
	contract, err := s.getParticipantContract(ctx, contractID, requesterID)
	if err != nil {
		return nil, err
	}
	if contract.Status != models.ContractStatusActive {
		return nil, apperror.ErrContractNotActive
	}
	if in.Reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина изменения обязательна")
	}

	wantsBudget := in.ModificationType == models.ModificationTypeBudget || in.ModificationType == models.ModificationTypeBoth
	wantsDeadline := in.ModificationType == models.ModificationTypeDeadline || in.ModificationType == models.ModificationTypeBoth
	if !wantsBudget && !wantsDeadline {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый тип изменения")
	}
	if wantsBudget && (in.RequestedBudget == nil || *in.RequestedBudget <= 0) {
		return nil, apperror.New(apperror.ErrCodeValidation, "новый бюджет должен быть положительным")
	}
	if wantsDeadline && (in.RequestedDeliveryTime == nil || *in.RequestedDeliveryTime <= 0) {
		return nil, apperror.New(apperror.ErrCodeValidation, "новый срок должен быть положительным")
	}

	requestedTo := contract.ClientID
	if requesterID == contract.ClientID {
		requestedTo = contract.FreelancerID
	}

	req := &models.ModificationRequest{
		ContractID:            contractID,
		RequestedBy:           requesterID,
		RequestedTo:           requestedTo,
		ModificationType:      in.ModificationType,
		CurrentBudget:         contract.AgreedAmount,
		RequestedBudget:       in.RequestedBudget,
		CurrentDeliveryTime:   contract.AgreedDeliveryTime,
		RequestedDeliveryTime: in.RequestedDeliveryTime,
		Reason:                in.Reason,
	}
	if wantsBudget {
		req.BudgetDifference = models.RoundMoney(*in.RequestedBudget - contract.AgreedAmount)
	}

	if err := s.modifications.Create(ctx, req); err != nil {
		if errors.Is(err, repository.ErrPendingRequestExists) {
			return nil, apperror.New(apperror.ErrCodeConflict, "по контракту уже есть открытый запрос на изменение")
		}
		return nil, err
	}

	s.runSideEffects(ctx, contractID, map[string]func(context.Context) error{
		"notify modification request": func(ctx context.Context) error {
			return s.notifier.Notify(ctx, &models.Notification{
				UserID:     requestedTo,
				Type:       models.NotificationModificationRequest,
				Title:      "Запрос на изменение условий",
				Content:    in.Reason,
				Category:   models.NotificationCategoryContract,
				Priority:   models.NotificationPriorityHigh,
				ContractID: &contractID,
				FromUserID: &requesterID,
			})
		},
		"mail counterparty": func(ctx context.Context) error {
			return s.mailUser(ctx, requestedTo, "Запрос на изменение условий", in.Reason)
		},
	})

	return req, nil
}

// RespondToModification разрешает запрос на изменение. Условный переход
// pending -> approved/rejected гарантирует единственного победителя; при
// неудаче применения изменений (нехватка средств) запрос возвращается
// в pending, деньги не двигаются.
func (s *ContractService) RespondToModification(ctx context.Context, responderID, requestID uuid.UUID, approve bool, responseNote string) (*models.ModificationRequest, error) {
	req, err := s.modifications.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return nil, apperror.ErrRequestNotFound
		}
		return nil, err
	}
	if req.RequestedTo != responderID {
		return nil, apperror.ErrForbidden
	}
	if req.Status != models.ModificationStatusPending {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "запрос уже разрешён")
	}

	contract, err := s.contracts.GetByID(ctx, req.ContractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}
	if contract.Status != models.ContractStatusActive {
		return nil, apperror.ErrContractNotActive
	}

	var note *string
	if responseNote != "" {
		note = &responseNote
	}

	newStatus := models.ModificationStatusRejected
	if approve {
		newStatus = models.ModificationStatusApproved
	}

	if err := s.modifications.ResolveIf(ctx, requestID, newStatus, note); err != nil {
		if errors.Is(err, repository.ErrRequestResolved) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "запрос уже разрешён")
		}
		return nil, err
	}

	req.Status = newStatus
	req.ResponseNote = note

	if approve {
		if err := s.applyModification(ctx, contract, req); err != nil {
			if reopenErr := s.modifications.Reopen(ctx, requestID); reopenErr != nil {
				logger.WithComponent("contract").WithError(reopenErr).
					WithField("request_id", requestID).Error("не удалось вернуть запрос в pending")
			}
			req.Status = models.ModificationStatusPending
			return nil, err
		}
	}

	s.runSideEffects(ctx, req.ContractID, map[string]func(context.Context) error{
		"notify modification resolved": func(ctx context.Context) error {
			title := "Запрос на изменение отклонён"
			if approve {
				title = "Запрос на изменение одобрен"
			}
			return s.notifier.Notify(ctx, &models.Notification{
				UserID:     req.RequestedBy,
				Type:       models.NotificationModificationResolved,
				Title:      title,
				Content:    responseNote,
				Category:   models.NotificationCategoryContract,
				Priority:   models.NotificationPriorityNormal,
				ContractID: &req.ContractID,
				FromUserID: &responderID,
			})
		},
		"mail requester resolved": func(ctx context.Context) error {
			subject := "Запрос на изменение отклонён"
			if approve {
				subject = "Запрос на изменение одобрен"
			}
			return s.mailUser(ctx, req.RequestedBy, subject, responseNote)
		},
	})

	return req, nil
}

// applyModification применяет одобренные изменения: сперва симметричное
// движение денег по escrow, затем условия контракта.
func (s *ContractService) applyModification(ctx context.Context, contract *models.Contract, req *models.ModificationRequest) error {
	wantsBudget := req.ModificationType == models.ModificationTypeBudget || req.ModificationType == models.ModificationTypeBoth
	wantsDeadline := req.ModificationType == models.ModificationTypeDeadline || req.ModificationType == models.ModificationTypeBoth

	if wantsBudget && req.RequestedBudget != nil {
		delta := models.RoundMoney(*req.RequestedBudget - contract.AgreedAmount)
		if delta != 0 {
			if _, err := s.escrow.AdjustEscrow(ctx, contract.ID, delta); err != nil {
				return err
			}
			if err := s.contracts.ChangeAmount(ctx, contract.ID, contract.AgreedAmount, *req.RequestedBudget, req.Reason, req.RequestedTo); err != nil {
				// Контракт не изменился, а деньги уже двинулись — откатываем escrow.
				if _, compErr := s.escrow.AdjustEscrow(ctx, contract.ID, -delta); compErr != nil {
					logger.WithComponent("contract").WithError(compErr).
						WithField("contract_id", contract.ID).Error("не удалось откатить escrow после сбоя изменения суммы")
				}
				return err
			}
			contract.AgreedAmount = *req.RequestedBudget
		}
	}

	if wantsDeadline && req.RequestedDeliveryTime != nil {
		deadline := contract.StartedAt.AddDate(0, 0, *req.RequestedDeliveryTime)
		if err := s.contracts.UpdateDeadline(ctx, contract.ID, req.RequestedDeliveryTime, &deadline); err != nil {
			return err
		}
	}

	return nil
}

// ListModifications возвращает историю запросов по контракту.
func (s *ContractService) ListModifications(ctx context.Context, callerID uuid.UUID, contractID uuid.UUID) ([]models.ModificationRequest, error) {
	if _, err := s.getParticipantContract(ctx, contractID, callerID); err != nil {
		return nil, err
	}
	return s.modifications.ListByContract(ctx, contractID)
}

// ListPendingModifications возвращает запросы, ожидающие ответа пользователя.
func (s *ContractService) ListPendingModifications(ctx context.Context, userID uuid.UUID) ([]models.ModificationRequest, error) {
	return s.modifications.ListPendingForUser(ctx, userID)
}

// AdminCancelContract расторгает контракт с возвратом средств клиенту.
func (s *ContractService) AdminCancelContract(ctx context.Context, adminID, contractID uuid.UUID, reason string) (*models.Contract, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина расторжения обязательна")
	}

	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}

	if err := s.contracts.TerminateIf(ctx, contractID, reason); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, apperror.ErrContractNotActive
		}
		return nil, err
	}
	metrics.ContractTransitions.WithLabelValues("terminated").Inc()

	if _, err := s.escrow.RefundEscrow(ctx, contractID, reason); err != nil && !apperror.IsInvalidState(err) {
		logger.WithComponent("contract").WithError(err).
			WithField("contract_id", contractID).Error("не удалось вернуть escrow при расторжении")
	}

	now := time.Now()
	contract.Status = models.ContractStatusTerminated
	contract.TerminatedAt = &now
	contract.TerminationReason = &reason

	s.runSideEffects(ctx, contractID, map[string]func(context.Context) error{
		"job reopen": func(ctx context.Context) error {
			return s.jobs.UpdateStatus(ctx, contract.JobID, models.JobStatusOpen)
		},
		"notify client cancelled": func(ctx context.Context) error {
			return s.notifyCancelled(ctx, contract.ClientID, contractID, adminID, reason)
		},
		"notify freelancer cancelled": func(ctx context.Context) error {
			return s.notifyCancelled(ctx, contract.FreelancerID, contractID, adminID, reason)
		},
		"mail client cancelled": func(ctx context.Context) error {
			return s.mailUser(ctx, contract.ClientID, "Контракт расторгнут", reason)
		},
		"mail freelancer cancelled": func(ctx context.Context) error {
			return s.mailUser(ctx, contract.FreelancerID, "Контракт расторгнут", reason)
		},
	})

	return contract, nil
}

// AdminCompleteContract завершает контракт в обход клиента (разрешение спора).
func (s *ContractService) AdminCompleteContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error) {
	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}
	return s.finishContract(ctx, contract)
}

// AdminUpdateContractAmount корректирует сумму активного контракта с
// симметричным изменением escrow.
func (s *ContractService) AdminUpdateContractAmount(ctx context.Context, adminID, contractID uuid.UUID, newAmount float64, reason string) (*models.Contract, error) {
	if newAmount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина изменения обязательна")
	}

	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}
	if contract.Status != models.ContractStatusActive {
		return nil, apperror.ErrContractNotActive
	}

	delta := models.RoundMoney(newAmount - contract.AgreedAmount)
	if delta != 0 {
		if _, err := s.escrow.AdjustEscrow(ctx, contractID, delta); err != nil {
			return nil, err
		}
	}

	if err := s.contracts.ChangeAmount(ctx, contractID, contract.AgreedAmount, newAmount, reason, adminID); err != nil {
		if delta != 0 {
			if _, compErr := s.escrow.AdjustEscrow(ctx, contractID, -delta); compErr != nil {
				logger.WithComponent("contract").WithError(compErr).
					WithField("contract_id", contractID).Error("не удалось откатить escrow после сбоя изменения суммы")
			}
		}
		return nil, err
	}

	oldAmount := contract.AgreedAmount
	contract.AgreedAmount = newAmount

	s.runSideEffects(ctx, contractID, map[string]func(context.Context) error{
		"notify client amount updated": func(ctx context.Context) error {
			return s.notifyAmountUpdated(ctx, contract.ClientID, contractID, adminID, oldAmount, newAmount)
		},
		"notify freelancer amount updated": func(ctx context.Context) error {
			return s.notifyAmountUpdated(ctx, contract.FreelancerID, contractID, adminID, oldAmount, newAmount)
		},
	})

	return contract, nil
}

// finishContract — единственный путь завершения: переход в completed,
// release escrow, счётчики и уведомления. Сбой release после перехода не
// откатывает завершение: зависший held escrow доплатит фоновая сверка.
func (s *ContractService) finishContract(ctx context.Context, contract *models.Contract) (*models.Contract, error) {
	if err := s.contracts.CompleteIf(ctx, contract.ID); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, apperror.ErrContractNotActive
		}
		return nil, err
	}
	metrics.ContractTransitions.WithLabelValues("completed").Inc()

	now := time.Now()
	contract.Status = models.ContractStatusCompleted
	contract.CompletedAt = &now

	payment, err := s.escrow.ReleaseEscrow(ctx, contract.ID)
	if err != nil {
		logger.WithComponent("contract").WithError(err).
			WithField("contract_id", contract.ID).Error("release escrow при завершении не удался, доплатит сверка")
	}

	s.runSideEffects(ctx, contract.ID, map[string]func(context.Context) error{
		"job completed": func(ctx context.Context) error {
			return s.jobs.UpdateStatus(ctx, contract.JobID, models.JobStatusCompleted)
		},
		"completed jobs counters": func(ctx context.Context) error {
			return s.ledger.IncrementCompletedJobs(ctx, contract.FreelancerID, contract.ClientID)
		},
		"notify client completed": func(ctx context.Context) error {
			return s.notifier.Notify(ctx, &models.Notification{
				UserID:     contract.ClientID,
				Type:       models.NotificationContractCompleted,
				Title:      "Контракт завершён",
				Content:    "Контракт завершён, средства выплачены фрилансеру",
				Category:   models.NotificationCategoryContract,
				Priority:   models.NotificationPriorityNormal,
				ContractID: &contract.ID,
			})
		},
		"notify freelancer payout": func(ctx context.Context) error {
			content := "Контракт завершён"
			if payment != nil {
				content = fmt.Sprintf("Контракт завершён, вам выплачено %.2f", payment.NetAmount)
			}
			return s.notifier.Notify(ctx, &models.Notification{
				UserID:     contract.FreelancerID,
				Type:       models.NotificationPaymentReleased,
				Title:      "Выплата по контракту",
				Content:    content,
				Category:   models.NotificationCategoryPayment,
				Priority:   models.NotificationPriorityHigh,
				ContractID: &contract.ID,
			})
		},
		"mail client completed": func(ctx context.Context) error {
			return s.mailUser(ctx, contract.ClientID, "Контракт завершён",
				"Контракт завершён, средства выплачены фрилансеру")
		},
		"mail freelancer payout": func(ctx context.Context) error {
			if payment == nil {
				return nil
			}
			return s.mailUser(ctx, contract.FreelancerID, "Выплата по контракту",
				fmt.Sprintf("По завершённому контракту вам выплачено %.2f", payment.NetAmount))
		},
	})

	return contract, nil
}

// getParticipantContract загружает контракт и проверяет, что вызывающий —
// его участник. Авторизация проверяется раньше валидности состояния.
func (s *ContractService) getParticipantContract(ctx context.Context, contractID, callerID uuid.UUID) (*models.Contract, error) {
	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}
	if contract.ClientID != callerID && contract.FreelancerID != callerID {
		return nil, apperror.ErrForbidden
	}
	return contract, nil
}

func (s *ContractService) canAccess(contract *models.Contract, callerID uuid.UUID, callerRole string) bool {
	return callerRole == models.RoleAdmin ||
		contract.ClientID == callerID ||
		contract.FreelancerID == callerID
}

// runSideEffects запускает побочные шаги независимо друг от друга: сбой
// одного не мешает остальным и не откатывает основную операцию.
func (s *ContractService) runSideEffects(ctx context.Context, contractID uuid.UUID, effects map[string]func(context.Context) error) {
	bgCtx := context.WithoutCancel(ctx)
	for name, effect := range effects {
		name, effect := name, effect
		goroutine.SafeGo(func() {
			if err := effect(bgCtx); err != nil {
				logger.WithComponent("contract").WithError(err).
					WithField("contract_id", contractID).
					WithField("effect", name).Warn("побочный шаг не выполнен")
			}
		})
	}
}

func (s *ContractService) notifyCancelled(ctx context.Context, userID, contractID, adminID uuid.UUID, reason string) error {
	return s.notifier.Notify(ctx, &models.Notification{
		UserID:     userID,
		Type:       models.NotificationContractCancelled,
		Title:      "Контракт расторгнут",
		Content:    reason,
		Category:   models.NotificationCategoryContract,
		Priority:   models.NotificationPriorityHigh,
		ContractID: &contractID,
		FromUserID: &adminID,
	})
}

func (s *ContractService) notifyAmountUpdated(ctx context.Context, userID, contractID, adminID uuid.UUID, oldAmount, newAmount float64) error {
	return s.notifier.Notify(ctx, &models.Notification{
		UserID:     userID,
		Type:       models.NotificationContractUpdated,
		Title:      "Сумма контракта изменена",
		Content:    fmt.Sprintf("Сумма контракта изменена с %.2f на %.2f", oldAmount, newAmount),
		Category:   models.NotificationCategoryContract,
		Priority:   models.NotificationPriorityNormal,
		ContractID: &contractID,
		FromUserID: &adminID,
	})
}

func (s *ContractService) mailUser(ctx context.Context, userID uuid.UUID, subject, body string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, user.Email, subject, body)
}
