package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ahmadabdelnby/freelance-backend/internal/models"
	"github.com/ahmadabdelnby/freelance-backend/internal/pkg/apperror"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
)

type mockEscrowRepo struct {
	mock.Mock
}

func (m *mockEscrowRepo) OpenEscrow(ctx context.Context, contractID, clientID, freelancerID uuid.UUID, amount, feeRate float64) (*models.Payment, error) {
	args := m.Called(ctx, contractID, clientID, freelancerID, amount, feeRate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) AdjustEscrow(ctx context.Context, contractID uuid.UUID, delta, feeRate float64) (*models.Payment, error) {
	args := m.Called(ctx, contractID, delta, feeRate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) ReleaseEscrow(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) RefundEscrow(ctx context.Context, contractID uuid.UUID, reason string) (*models.Payment, error) {
	args := m.Called(ctx, contractID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) GetEscrowByContractID(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) CreateDeposit(ctx context.Context, userID uuid.UUID, amount float64, transactionID string) (*models.Payment, error) {
	args := m.Called(ctx, userID, amount, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) CreateWithdrawal(ctx context.Context, userID uuid.UUID, amount float64) (*models.Payment, error) {
	args := m.Called(ctx, userID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) FinishWithdrawal(ctx context.Context, paymentID uuid.UUID, success bool, transactionID string) error {
	args := m.Called(ctx, paymentID, success, transactionID)
	return args.Error(0)
}

func (m *mockEscrowRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Payment), args.Error(1)
}

func (m *mockEscrowRepo) FindStuckEscrows(ctx context.Context, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockEscrowRepo) FindStuckRefunds(ctx context.Context, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

type mockBalanceReader struct {
	mock.Mock
}

func (m *mockBalanceReader) GetBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(float64), args.Error(1)
}

type mockPaymentUsers struct {
	mock.Mock
}

func (m *mockPaymentUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(ctx context.Context, amount float64, currency, description string) (string, string, error) {
	args := m.Called(ctx, amount, currency, description)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockGateway) CaptureOrder(ctx context.Context, orderID string) (string, float64, error) {
	args := m.Called(ctx, orderID)
	return args.String(0), args.Get(1).(float64), args.Error(2)
}

func (m *mockGateway) CreatePayout(ctx context.Context, receiverEmail string, amount float64, note string) (string, error) {
	args := m.Called(ctx, receiverEmail, amount, note)
	return args.String(0), args.Error(1)
}

func newPaymentServiceForTest() (*PaymentService, *mockEscrowRepo, *mockBalanceReader, *mockPaymentUsers, *mockGateway) {
	repo := new(mockEscrowRepo)
	ledger := new(mockBalanceReader)
	users := new(mockPaymentUsers)
	gw := new(mockGateway)
	return NewPaymentService(repo, ledger, users, gw, 0.10), repo, ledger, users, gw
}

func heldEscrow(contractID uuid.UUID, amount, feeRate float64) *models.Payment {
	cid := contractID
	p := &models.Payment{
		ID:         uuid.New(),
		ContractID: &cid,
		PayerID:    uuid.New(),
		PayeeID:    uuid.New(),
		Amount:     amount,
		Status:     models.PaymentStatusHeld,
		Type:       "escrow",
		IsEscrow:   true,
	}
	p.Recalculate(feeRate)
	return p
}

func TestPaymentService_OpenEscrow_Success(t *testing.T) {
	svc, repo, _, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	contractID := uuid.New()
	clientID := uuid.New()
	freelancerID := uuid.New()

	expected := heldEscrow(contractID, 1000, 0.10)
	repo.On("OpenEscrow", ctx, contractID, clientID, freelancerID, float64(1000), 0.10).Return(expected, nil)

	payment, err := svc.OpenEscrow(ctx, contractID, clientID, freelancerID, 1000)
	assert.NoError(t, err)
	assert.Equal(t, float64(100), payment.PlatformFee)
	assert.Equal(t, float64(900), payment.NetAmount)
	assert.Equal(t, float64(1100), payment.TotalAmount)
	repo.AssertExpectations(t)
}

func TestPaymentService_OpenEscrow_InvalidAmount(t *testing.T) {
	svc, _, _, _, _ := newPaymentServiceForTest()

	_, err := svc.OpenEscrow(context.Background(), uuid.New(), uuid.New(), uuid.New(), 0)
	assert.Error(t, err)

	_, err = svc.OpenEscrow(context.Background(), uuid.New(), uuid.New(), uuid.New(), -50)
	assert.Error(t, err)
}

func TestPaymentService_OpenEscrow_InsufficientFunds(t *testing.T) {
	svc, repo, ledger, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	contractID := uuid.New()
	clientID := uuid.New()

	repo.On("OpenEscrow", ctx, contractID, clientID, mock.Anything, float64(100), 0.10).
		Return(nil, repository.ErrInsufficientFunds)
	ledger.On("GetBalance", ctx, clientID).Return(float64(50), nil)

	_, err := svc.OpenEscrow(ctx, contractID, clientID, uuid.New(), 100)
	assert.Error(t, err)
	assert.True(t, apperror.IsInsufficientFunds(err))

	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, float64(100), appErr.RequiredAmount)
	assert.Equal(t, float64(50), appErr.CurrentBalance)
}

func TestPaymentService_OpenEscrow_AlreadyHeld(t *testing.T) {
	svc, repo, _, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	contractID := uuid.New()

	repo.On("OpenEscrow", ctx, contractID, mock.Anything, mock.Anything, float64(500), 0.10).
		Return(nil, repository.ErrEscrowAlreadyHeld)

	_, err := svc.OpenEscrow(ctx, contractID, uuid.New(), uuid.New(), 500)
	assert.Error(t, err)

	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
}

func TestPaymentService_ReleaseEscrow_NoDoubleRelease(t *testing.T) {
	svc, repo, _, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	contractID := uuid.New()

	released := heldEscrow(contractID, 1000, 0.10)
	released.Status = models.PaymentStatusReleased

	repo.On("ReleaseEscrow", ctx, contractID).Return(released, nil).Once()
	repo.On("ReleaseEscrow", ctx, contractID).Return(nil, repository.ErrEscrowNotHeld).Once()

	payment, err := svc.ReleaseEscrow(ctx, contractID)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusReleased, payment.Status)

	_, err = svc.ReleaseEscrow(ctx, contractID)
	assert.Error(t, err)
	assert.True(t, apperror.IsInvalidState(err))
	repo.AssertExpectations(t)
}

func TestPaymentService_AdjustEscrow_ZeroDelta(t *testing.T) {
	svc, _, _, _, _ := newPaymentServiceForTest()

	_, err := svc.AdjustEscrow(context.Background(), uuid.New(), 0)
	assert.Error(t, err)
}

func TestPaymentService_AdjustEscrow_WouldZeroOut(t *testing.T) {
	svc, repo, _, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	contractID := uuid.New()

	repo.On("GetEscrowByContractID", ctx, contractID).Return(heldEscrow(contractID, 100, 0.10), nil)

	_, err := svc.AdjustEscrow(ctx, contractID, -100)
	assert.Error(t, err)
	repo.AssertNotCalled(t, "AdjustEscrow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_AdjustEscrow_Success(t *testing.T) {
	svc, repo, _, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	contractID := uuid.New()

	adjusted := heldEscrow(contractID, 1500, 0.10)
	repo.On("GetEscrowByContractID", ctx, contractID).Return(heldEscrow(contractID, 1000, 0.10), nil)
	repo.On("AdjustEscrow", ctx, contractID, float64(500), 0.10).Return(adjusted, nil)

	payment, err := svc.AdjustEscrow(ctx, contractID, 500)
	assert.NoError(t, err)
	assert.Equal(t, float64(1500), payment.Amount)
	assert.Equal(t, float64(150), payment.PlatformFee)
	assert.Equal(t, float64(1350), payment.NetAmount)
	repo.AssertExpectations(t)
}

func TestPaymentService_Withdraw_NoPayPalEmail(t *testing.T) {
	svc, _, _, users, _ := newPaymentServiceForTest()
	ctx := context.Background()
	userID := uuid.New()

	users.On("GetByID", ctx, userID).Return(&models.User{ID: userID, Email: "user@example.com"}, nil)

	_, err := svc.Withdraw(ctx, userID, 200)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PayPal")
}

func TestPaymentService_Withdraw_GatewayFailureReverts(t *testing.T) {
	svc, repo, _, users, gw := newPaymentServiceForTest()
	ctx := context.Background()
	userID := uuid.New()
	email := "payee@example.com"

	users.On("GetByID", ctx, userID).Return(&models.User{ID: userID, PayPalEmail: &email}, nil)

	withdrawal := &models.Payment{ID: uuid.New(), Amount: 200, Status: models.PaymentStatusPending}
	repo.On("CreateWithdrawal", ctx, userID, float64(200)).Return(withdrawal, nil)
	gw.On("CreatePayout", ctx, email, float64(200), mock.Anything).Return("", errors.New("payout rejected"))
	repo.On("FinishWithdrawal", ctx, withdrawal.ID, false, "").Return(nil)

	_, err := svc.Withdraw(ctx, userID, 200)
	assert.Error(t, err)
	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestPaymentService_Withdraw_Success(t *testing.T) {
	svc, repo, _, users, gw := newPaymentServiceForTest()
	ctx := context.Background()
	userID := uuid.New()
	email := "payee@example.com"

	users.On("GetByID", ctx, userID).Return(&models.User{ID: userID, PayPalEmail: &email}, nil)

	withdrawal := &models.Payment{ID: uuid.New(), Amount: 200, Status: models.PaymentStatusPending}
	repo.On("CreateWithdrawal", ctx, userID, float64(200)).Return(withdrawal, nil)
	gw.On("CreatePayout", ctx, email, float64(200), mock.Anything).Return("BATCH-1", nil)
	repo.On("FinishWithdrawal", ctx, withdrawal.ID, true, "BATCH-1").Return(nil)

	payment, err := svc.Withdraw(ctx, userID, 200)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "BATCH-1", *payment.TransactionID)
	repo.AssertExpectations(t)
}

func TestPaymentService_Reconcile_ReplaysStuckEscrows(t *testing.T) {
	svc, repo, _, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	repo.On("FindStuckEscrows", ctx, 100).Return([]uuid.UUID{first, second}, nil)
	repo.On("ReleaseEscrow", ctx, first).Return(heldEscrow(first, 300, 0.10), nil)
	// Гонка с основным путём: кто-то уже выплатил, сверка просто идёт дальше.
	repo.On("ReleaseEscrow", ctx, second).Return(nil, repository.ErrEscrowNotHeld)
	repo.On("FindStuckRefunds", ctx, 100).Return([]uuid.UUID{}, nil)

	svc.Reconcile(ctx)
	repo.AssertExpectations(t)
}

func TestPaymentService_Reconcile_RefundsTerminated(t *testing.T) {
	svc, repo, _, _, _ := newPaymentServiceForTest()
	ctx := context.Background()
	stuck := uuid.New()
	raced := uuid.New()

	refunded := heldEscrow(stuck, 400, 0.10)
	refunded.Status = models.PaymentStatusRefunded

	repo.On("FindStuckEscrows", ctx, 100).Return([]uuid.UUID{}, nil)
	repo.On("FindStuckRefunds", ctx, 100).Return([]uuid.UUID{stuck, raced}, nil)
	// Расторгнутый контракт с зависшим held escrow: деньги возвращаются клиенту.
	repo.On("RefundEscrow", ctx, stuck, mock.Anything).Return(refunded, nil).Once()
	repo.On("RefundEscrow", ctx, raced, mock.Anything).Return(nil, repository.ErrEscrowNotHeld).Once()

	svc.Reconcile(ctx)
	repo.AssertExpectations(t)
}

func TestPaymentService_CaptureTopUp(t *testing.T) {
	svc, repo, _, _, gw := newPaymentServiceForTest()
	ctx := context.Background()
	userID := uuid.New()

	gw.On("CaptureOrder", ctx, "ORDER-1").Return("TX-1", float64(350), nil)
	deposit := &models.Payment{ID: uuid.New(), Amount: 350, Status: models.PaymentStatusCompleted}
	repo.On("CreateDeposit", ctx, userID, float64(350), "TX-1").Return(deposit, nil)

	payment, err := svc.CaptureTopUp(ctx, userID, "ORDER-1")
	assert.NoError(t, err)
	assert.Equal(t, float64(350), payment.Amount)
	repo.AssertExpectations(t)
}
