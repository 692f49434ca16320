package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ahmadabdelnby/freelance-backend/internal/models"
	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
)

type mockContractRepo struct {
	mock.Mock
}

func (m *mockContractRepo) Create(ctx context.Context, contract *models.Contract) error {
	args := m.Called(ctx, contract)
	if args.Error(0) == nil {
		contract.ID = uuid.New()
		contract.Status = models.ContractStatusActive
		contract.StartedAt = time.Now()
	}
	return args.Error(0)
}

func (m *mockContractRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockContractRepo) GetByIDWithDetails(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockContractRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Contract), args.Error(1)
}

func (m *mockContractRepo) CompleteIf(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockContractRepo) TerminateIf(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *mockContractRepo) AddDeliverable(ctx context.Context, deliverable *models.Deliverable) error {
	args := m.Called(ctx, deliverable)
	if args.Error(0) == nil {
		deliverable.ID = uuid.New()
		deliverable.Status = models.DeliverableStatusPendingReview
		deliverable.SubmittedAt = time.Now()
	}
	return args.Error(0)
}

func (m *mockContractRepo) GetDeliverable(ctx context.Context, contractID, deliverableID uuid.UUID) (*models.Deliverable, error) {
	args := m.Called(ctx, contractID, deliverableID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deliverable), args.Error(1)
}

func (m *mockContractRepo) ReviewDeliverableIf(ctx context.Context, deliverableID uuid.UUID, newStatus string, revisionNote *string) error {
	args := m.Called(ctx, deliverableID, newStatus, revisionNote)
	return args.Error(0)
}

func (m *mockContractRepo) UpdateHours(ctx context.Context, id uuid.UUID, hours float64) error {
	args := m.Called(ctx, id, hours)
	return args.Error(0)
}

func (m *mockContractRepo) ChangeAmount(ctx context.Context, id uuid.UUID, oldAmount, newAmount float64, reason string, changedBy uuid.UUID) error {
	args := m.Called(ctx, id, oldAmount, newAmount, reason, changedBy)
	return args.Error(0)
}

func (m *mockContractRepo) UpdateDeadline(ctx context.Context, id uuid.UUID, deliveryTime *int, deadline *time.Time) error {
	args := m.Called(ctx, id, deliveryTime, deadline)
	return args.Error(0)
}

type mockModificationStore struct {
	mock.Mock
}

func (m *mockModificationStore) Create(ctx context.Context, req *models.ModificationRequest) error {
	args := m.Called(ctx, req)
	if args.Error(0) == nil {
		req.ID = uuid.New()
		req.Status = models.ModificationStatusPending
	}
	return args.Error(0)
}

func (m *mockModificationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ModificationRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ModificationRequest), args.Error(1)
}

func (m *mockModificationStore) ResolveIf(ctx context.Context, id uuid.UUID, status string, responseNote *string) error {
	args := m.Called(ctx, id, status, responseNote)
	return args.Error(0)
}

func (m *mockModificationStore) Reopen(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockModificationStore) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.ModificationRequest, error) {
	args := m.Called(ctx, contractID)
	return args.Get(0).([]models.ModificationRequest), args.Error(1)
}

func (m *mockModificationStore) ListPendingForUser(ctx context.Context, userID uuid.UUID) ([]models.ModificationRequest, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.ModificationRequest), args.Error(1)
}

type mockJobStore struct {
	mock.Mock
}

func (m *mockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *mockJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) IncrementCompletedJobs(ctx context.Context, freelancerID, clientID uuid.UUID) error {
	args := m.Called(ctx, freelancerID, clientID)
	return args.Error(0)
}

type mockEscrowManager struct {
	mock.Mock
}

func (m *mockEscrowManager) OpenEscrow(ctx context.Context, contractID, clientID, freelancerID uuid.UUID, amount float64) (*models.Payment, error) {
	args := m.Called(ctx, contractID, clientID, freelancerID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowManager) AdjustEscrow(ctx context.Context, contractID uuid.UUID, delta float64) (*models.Payment, error) {
	args := m.Called(ctx, contractID, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowManager) ReleaseEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowManager) RefundEscrow(ctx context.Context, contractID uuid.UUID, reason string) (*models.Payment, error) {
	args := m.Called(ctx, contractID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowManager) GetEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n *models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

type contractServiceMocks struct {
	contracts     *mockContractRepo
	modifications *mockModificationStore
	jobs          *mockJobStore
	ledger        *mockLedger
	escrow        *mockEscrowManager
	users         *mockPaymentUsers
	notifier      *mockNotifier
	mailer        *mockMailer
}

func newContractServiceForTest() (*ContractService, *contractServiceMocks) {
	m := &contractServiceMocks{
		contracts:     new(mockContractRepo),
		modifications: new(mockModificationStore),
		jobs:          new(mockJobStore),
		ledger:        new(mockLedger),
		escrow:        new(mockEscrowManager),
		users:         new(mockPaymentUsers),
		notifier:      new(mockNotifier),
		mailer:        new(mockMailer),
	}

	// Побочные шаги выполняются в фоне и не влияют на исход операции.
	m.jobs.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.ledger.On("IncrementCompletedJobs", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.users.On("GetByID", mock.Anything, mock.Anything).Return(&models.User{Email: "user@example.com"}, nil).Maybe()
	m.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	svc := NewContractService(m.contracts, m.modifications, m.jobs, m.ledger, m.escrow, m.users, m.notifier, m.mailer)
	return svc, m
}

func activeContract(clientID, freelancerID uuid.UUID, amount float64) *models.Contract {
	return &models.Contract{
		ID:           uuid.New(),
		JobID:        uuid.New(),
		ClientID:     clientID,
		FreelancerID: freelancerID,
		ProposalID:   uuid.New(),
		AgreedAmount: amount,
		BudgetType:   models.BudgetTypeFixed,
		Status:       models.ContractStatusActive,
		StartedAt:    time.Now().Add(-48 * time.Hour),
	}
}

func TestContractService_CreateContract_Success(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	jobID := uuid.New()

	m.jobs.On("GetByID", ctx, jobID).Return(&models.Job{ID: jobID, ClientID: clientID, Status: models.JobStatusOpen}, nil)
	m.contracts.On("Create", ctx, mock.Anything).Return(nil)
	m.escrow.On("OpenEscrow", ctx, mock.Anything, clientID, freelancerID, float64(1000)).
		Return(&models.Payment{Status: models.PaymentStatusHeld}, nil)

	contract, err := svc.CreateContract(ctx, clientID, CreateContractInput{
		JobID:        jobID,
		FreelancerID: freelancerID,
		ProposalID:   uuid.New(),
		AgreedAmount: 1000,
		BudgetType:   models.BudgetTypeFixed,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.ContractStatusActive, contract.Status)
	m.escrow.AssertExpectations(t)
}

func TestContractService_CreateContract_SelfContract(t *testing.T) {
	svc, _ := newContractServiceForTest()
	clientID := uuid.New()

	_, err := svc.CreateContract(context.Background(), clientID, CreateContractInput{
		JobID:        uuid.New(),
		FreelancerID: clientID,
		AgreedAmount: 1000,
		BudgetType:   models.BudgetTypeFixed,
	})
	assert.Error(t, err)
}

func TestContractService_CreateContract_NotJobOwner(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	jobID := uuid.New()

	m.jobs.On("GetByID", ctx, jobID).Return(&models.Job{ID: jobID, ClientID: uuid.New()}, nil)

	_, err := svc.CreateContract(ctx, uuid.New(), CreateContractInput{
		JobID:        jobID,
		FreelancerID: uuid.New(),
		AgreedAmount: 1000,
		BudgetType:   models.BudgetTypeFixed,
	})
	assert.True(t, apperror.IsForbidden(err))
}

func TestContractService_CreateContract_EscrowFailureTerminates(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	jobID := uuid.New()

	m.jobs.On("GetByID", ctx, jobID).Return(&models.Job{ID: jobID, ClientID: clientID}, nil)
	m.contracts.On("Create", ctx, mock.Anything).Return(nil)
	m.escrow.On("OpenEscrow", ctx, mock.Anything, clientID, freelancerID, float64(1000)).
		Return(nil, apperror.InsufficientFunds(1000, 0))
	m.contracts.On("TerminateIf", ctx, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := svc.CreateContract(ctx, clientID, CreateContractInput{
		JobID:        jobID,
		FreelancerID: freelancerID,
		AgreedAmount: 1000,
		BudgetType:   models.BudgetTypeFixed,
	})
	assert.True(t, apperror.IsInsufficientFunds(err))
	m.contracts.AssertExpectations(t)
}

func TestContractService_ReviewWork_AuthorizationBeforeState(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()

	// Контракт уже завершён, но отвечает не клиент: сперва FORBIDDEN.
	contract := activeContract(clientID, freelancerID, 1000)
	contract.Status = models.ContractStatusCompleted
	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)

	_, err := svc.ReviewWork(ctx, freelancerID, contract.ID, uuid.New(), "accept", "")
	assert.True(t, apperror.IsForbidden(err))
}

func TestContractService_ReviewWork_AcceptCompletesContract(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	contract := activeContract(clientID, freelancerID, 1000)
	deliverableID := uuid.New()

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("GetDeliverable", ctx, contract.ID, deliverableID).Return(&models.Deliverable{
		ID:         deliverableID,
		ContractID: contract.ID,
		Status:     models.DeliverableStatusPendingReview,
	}, nil)
	m.contracts.On("ReviewDeliverableIf", ctx, deliverableID, models.DeliverableStatusAccepted, (*string)(nil)).Return(nil)
	m.contracts.On("CompleteIf", ctx, contract.ID).Return(nil)
	m.escrow.On("ReleaseEscrow", ctx, contract.ID).Return(&models.Payment{NetAmount: 900, Status: models.PaymentStatusReleased}, nil)

	got, err := svc.ReviewWork(ctx, clientID, contract.ID, deliverableID, "accept", "")
	assert.NoError(t, err)
	assert.Equal(t, models.ContractStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	m.contracts.AssertExpectations(t)
	m.escrow.AssertExpectations(t)
}

func TestContractService_ReviewWork_RevisionRequiresNote(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	contract := activeContract(clientID, uuid.New(), 1000)
	deliverableID := uuid.New()

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("GetDeliverable", ctx, contract.ID, deliverableID).Return(&models.Deliverable{
		ID:     deliverableID,
		Status: models.DeliverableStatusPendingReview,
	}, nil)

	_, err := svc.ReviewWork(ctx, clientID, contract.ID, deliverableID, "request_revision", "")
	assert.Error(t, err)
	m.contracts.AssertNotCalled(t, "ReviewDeliverableIf", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestContractService_CompleteContract_OnlyClient(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	contract := activeContract(clientID, freelancerID, 1000)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)

	_, err := svc.CompleteContract(ctx, freelancerID, contract.ID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestContractService_CompleteContract_AlreadyFinished(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	contract := activeContract(clientID, uuid.New(), 1000)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("CompleteIf", ctx, contract.ID).Return(repository.ErrStatusConflict)

	_, err := svc.CompleteContract(ctx, clientID, contract.ID)
	assert.True(t, apperror.IsInvalidState(err))
	m.escrow.AssertNotCalled(t, "ReleaseEscrow", mock.Anything, mock.Anything)
}

func TestContractService_SubmitWork_OnlyFreelancer(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	contract := activeContract(clientID, uuid.New(), 1000)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)

	_, err := svc.SubmitWork(ctx, clientID, contract.ID, "готово", nil)
	assert.True(t, apperror.IsForbidden(err))
}

func TestContractService_RequestModification_SymmetricCounterparty(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	contract := activeContract(clientID, freelancerID, 1000)
	budget := 1500.0

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.modifications.On("Create", ctx, mock.Anything).Return(nil)

	// Запрос фрилансера адресуется клиенту.
	req, err := svc.RequestModification(ctx, freelancerID, contract.ID, ModificationInput{
		ModificationType: models.ModificationTypeBudget,
		RequestedBudget:  &budget,
		Reason:           "объём работ вырос",
	})
	assert.NoError(t, err)
	assert.Equal(t, clientID, req.RequestedTo)
	assert.Equal(t, float64(500), req.BudgetDifference)

	// Запрос клиента адресуется фрилансеру.
	req, err = svc.RequestModification(ctx, clientID, contract.ID, ModificationInput{
		ModificationType: models.ModificationTypeBudget,
		RequestedBudget:  &budget,
		Reason:           "уточнили смету",
	})
	assert.NoError(t, err)
	assert.Equal(t, freelancerID, req.RequestedTo)
}

func TestContractService_RequestModification_PendingConflict(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	contract := activeContract(clientID, uuid.New(), 1000)
	budget := 1200.0

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.modifications.On("Create", ctx, mock.Anything).Return(repository.ErrPendingRequestExists)

	_, err := svc.RequestModification(ctx, clientID, contract.ID, ModificationInput{
		ModificationType: models.ModificationTypeBudget,
		RequestedBudget:  &budget,
		Reason:           "повторный запрос",
	})
	assert.Error(t, err)

	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
}

func TestContractService_RespondToModification_OnlyRecipient(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	requestID := uuid.New()

	m.modifications.On("GetByID", ctx, requestID).Return(&models.ModificationRequest{
		ID:          requestID,
		RequestedTo: uuid.New(),
		Status:      models.ModificationStatusPending,
	}, nil)

	_, err := svc.RespondToModification(ctx, uuid.New(), requestID, true, "")
	assert.True(t, apperror.IsForbidden(err))
}

func TestContractService_RespondToModification_ApproveAppliesBudget(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	contract := activeContract(clientID, freelancerID, 1000)
	requestID := uuid.New()
	budget := 1500.0

	m.modifications.On("GetByID", ctx, requestID).Return(&models.ModificationRequest{
		ID:               requestID,
		ContractID:       contract.ID,
		RequestedBy:      freelancerID,
		RequestedTo:      clientID,
		ModificationType: models.ModificationTypeBudget,
		CurrentBudget:    1000,
		RequestedBudget:  &budget,
		Status:           models.ModificationStatusPending,
	}, nil)
	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.modifications.On("ResolveIf", ctx, requestID, models.ModificationStatusApproved, (*string)(nil)).Return(nil)
	m.escrow.On("AdjustEscrow", ctx, contract.ID, float64(500)).Return(&models.Payment{Amount: 1500}, nil)
	m.contracts.On("ChangeAmount", ctx, contract.ID, float64(1000), float64(1500), mock.Anything, clientID).Return(nil)

	req, err := svc.RespondToModification(ctx, clientID, requestID, true, "")
	assert.NoError(t, err)
	assert.Equal(t, models.ModificationStatusApproved, req.Status)
	assert.Equal(t, float64(1500), contract.AgreedAmount)
	m.escrow.AssertExpectations(t)
	m.contracts.AssertExpectations(t)
}

func TestContractService_RespondToModification_InsufficientFundsReopens(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	contract := activeContract(clientID, uuid.New(), 1000)
	requestID := uuid.New()
	budget := 1500.0

	m.modifications.On("GetByID", ctx, requestID).Return(&models.ModificationRequest{
		ID:               requestID,
		ContractID:       contract.ID,
		RequestedTo:      clientID,
		ModificationType: models.ModificationTypeBudget,
		RequestedBudget:  &budget,
		Status:           models.ModificationStatusPending,
	}, nil)
	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.modifications.On("ResolveIf", ctx, requestID, models.ModificationStatusApproved, (*string)(nil)).Return(nil)
	m.escrow.On("AdjustEscrow", ctx, contract.ID, float64(500)).Return(nil, apperror.InsufficientFunds(500, 100))
	m.modifications.On("Reopen", ctx, requestID).Return(nil).Once()

	_, err := svc.RespondToModification(ctx, clientID, requestID, true, "")
	assert.True(t, apperror.IsInsufficientFunds(err))
	assert.Equal(t, float64(1000), contract.AgreedAmount)
	m.modifications.AssertExpectations(t)
	m.contracts.AssertNotCalled(t, "ChangeAmount", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestContractService_AdminCancelContract_RefundsEscrow(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	adminID := uuid.New()
	contract := activeContract(uuid.New(), uuid.New(), 1000)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("TerminateIf", ctx, contract.ID, "спор решён в пользу клиента").Return(nil)
	m.escrow.On("RefundEscrow", ctx, contract.ID, "спор решён в пользу клиента").
		Return(&models.Payment{Status: models.PaymentStatusRefunded}, nil)

	got, err := svc.AdminCancelContract(ctx, adminID, contract.ID, "спор решён в пользу клиента")
	assert.NoError(t, err)
	assert.Equal(t, models.ContractStatusTerminated, got.Status)
	assert.NotNil(t, got.TerminationReason)
	m.escrow.AssertExpectations(t)
}

func TestContractService_AdminCancelContract_RequiresReason(t *testing.T) {
	svc, _ := newContractServiceForTest()

	_, err := svc.AdminCancelContract(context.Background(), uuid.New(), uuid.New(), "")
	assert.Error(t, err)
}

func TestContractService_AdminUpdateAmount_CompensatesOnFailure(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	adminID := uuid.New()
	contract := activeContract(uuid.New(), uuid.New(), 1000)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.escrow.On("AdjustEscrow", ctx, contract.ID, float64(200)).Return(&models.Payment{Amount: 1200}, nil).Once()
	m.contracts.On("ChangeAmount", ctx, contract.ID, float64(1000), float64(1200), "доп. работы", adminID).
		Return(repository.ErrStatusConflict)
	// Деньги уже двинулись, а контракт не изменился: ожидаем откат escrow.
	m.escrow.On("AdjustEscrow", ctx, contract.ID, float64(-200)).Return(&models.Payment{Amount: 1000}, nil).Once()

	_, err := svc.AdminUpdateContractAmount(ctx, adminID, contract.ID, 1200, "доп. работы")
	assert.Error(t, err)
	m.escrow.AssertExpectations(t)
}

// captureMail перенаправляет письма сервиса в канал тем: фоновые шаги
// можно дождаться без гонок.
func captureMail(m *contractServiceMocks) chan string {
	subjects := make(chan string, 8)
	m.mailer.ExpectedCalls = nil
	m.mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { subjects <- args.String(2) }).
		Return(nil)
	return subjects
}

func awaitMailSubjects(t *testing.T, subjects chan string, n int) map[string]int {
	t.Helper()
	got := make(map[string]int, n)
	for i := 0; i < n; i++ {
		select {
		case s := <-subjects:
			got[s]++
		case <-time.After(time.Second):
			t.Fatalf("дождались %d писем из %d", i, n)
		}
	}
	return got
}

func TestContractService_SubmitWork_EmailsClient(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	freelancerID := uuid.New()
	contract := activeContract(uuid.New(), freelancerID, 1000)
	subjects := captureMail(m)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("AddDeliverable", ctx, mock.Anything).Return(nil)

	_, err := svc.SubmitWork(ctx, freelancerID, contract.ID, "готово", nil)
	assert.NoError(t, err)

	got := awaitMailSubjects(t, subjects, 1)
	assert.Equal(t, 1, got["Работа сдана на проверку"])
}

func TestContractService_ReviewWork_RevisionEmailsFreelancer(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	contract := activeContract(clientID, uuid.New(), 1000)
	deliverableID := uuid.New()
	subjects := captureMail(m)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("GetDeliverable", ctx, contract.ID, deliverableID).Return(&models.Deliverable{
		ID:     deliverableID,
		Status: models.DeliverableStatusPendingReview,
	}, nil)
	m.contracts.On("ReviewDeliverableIf", ctx, deliverableID, models.DeliverableStatusRevisionRequested, mock.Anything).Return(nil)

	_, err := svc.ReviewWork(ctx, clientID, contract.ID, deliverableID, "request_revision", "поправьте шрифты")
	assert.NoError(t, err)

	got := awaitMailSubjects(t, subjects, 1)
	assert.Equal(t, 1, got["Запрошена доработка"])
}

func TestContractService_CompleteContract_EmailsBothParties(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	contract := activeContract(clientID, uuid.New(), 1000)
	subjects := captureMail(m)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("CompleteIf", ctx, contract.ID).Return(nil)
	m.escrow.On("ReleaseEscrow", ctx, contract.ID).
		Return(&models.Payment{NetAmount: 900, Status: models.PaymentStatusReleased}, nil)

	_, err := svc.CompleteContract(ctx, clientID, contract.ID)
	assert.NoError(t, err)

	got := awaitMailSubjects(t, subjects, 2)
	assert.Equal(t, 1, got["Контракт завершён"])
	assert.Equal(t, 1, got["Выплата по контракту"])
}

func TestContractService_RequestModification_EmailsCounterparty(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	contract := activeContract(clientID, freelancerID, 1000)
	budget := 1500.0
	subjects := captureMail(m)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.modifications.On("Create", ctx, mock.Anything).Return(nil)

	_, err := svc.RequestModification(ctx, freelancerID, contract.ID, ModificationInput{
		ModificationType: models.ModificationTypeBudget,
		RequestedBudget:  &budget,
		Reason:           "объём работ вырос",
	})
	assert.NoError(t, err)

	got := awaitMailSubjects(t, subjects, 1)
	assert.Equal(t, 1, got["Запрос на изменение условий"])
}

func TestContractService_RespondToModification_EmailsRequester(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	clientID := uuid.New()
	freelancerID := uuid.New()
	contract := activeContract(clientID, freelancerID, 1000)
	requestID := uuid.New()
	budget := 1500.0
	subjects := captureMail(m)

	m.modifications.On("GetByID", ctx, requestID).Return(&models.ModificationRequest{
		ID:               requestID,
		ContractID:       contract.ID,
		RequestedBy:      freelancerID,
		RequestedTo:      clientID,
		ModificationType: models.ModificationTypeBudget,
		RequestedBudget:  &budget,
		Status:           models.ModificationStatusPending,
	}, nil)
	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.modifications.On("ResolveIf", ctx, requestID, models.ModificationStatusRejected, mock.Anything).Return(nil)

	_, err := svc.RespondToModification(ctx, clientID, requestID, false, "бюджет не согласован")
	assert.NoError(t, err)

	got := awaitMailSubjects(t, subjects, 1)
	assert.Equal(t, 1, got["Запрос на изменение отклонён"])
}

func TestContractService_AdminCancelContract_EmailsBothParties(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	adminID := uuid.New()
	contract := activeContract(uuid.New(), uuid.New(), 1000)
	subjects := captureMail(m)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	m.contracts.On("TerminateIf", ctx, contract.ID, "спор").Return(nil)
	m.escrow.On("RefundEscrow", ctx, contract.ID, "спор").
		Return(&models.Payment{Status: models.PaymentStatusRefunded}, nil)

	_, err := svc.AdminCancelContract(ctx, adminID, contract.ID, "спор")
	assert.NoError(t, err)

	got := awaitMailSubjects(t, subjects, 2)
	assert.Equal(t, 2, got["Контракт расторгнут"])
}

func TestContractService_UpdateHoursWorked_FixedRejected(t *testing.T) {
	svc, m := newContractServiceForTest()
	ctx := context.Background()
	freelancerID := uuid.New()
	contract := activeContract(uuid.New(), freelancerID, 1000)

	m.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)

	err := svc.UpdateHoursWorked(ctx, freelancerID, contract.ID, 12)
	assert.Error(t, err)
	m.contracts.AssertNotCalled(t, "UpdateHours", mock.Anything, mock.Anything, mock.Anything)
}
