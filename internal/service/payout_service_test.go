package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/payment"
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
	"github.com/makerlink/print3d-backend/internal/repository"
)

type mockPayoutRepo struct {
	mock.Mock
}

func (m *mockPayoutRepo) Create(ctx context.Context, p *models.Payout) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutRepo) ListByPrinter(ctx context.Context, printerID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	args := m.Called(ctx, printerID, limit, offset)
	return args.Get(0).([]models.Payout), args.Error(1)
}

func (m *mockPayoutRepo) SetProcessing(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutRepo) Complete(ctx context.Context, id uuid.UUID, transferID string, now time.Time) (*models.Payout, error) {
	args := m.Called(ctx, id, transferID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutRepo) Fail(ctx context.Context, id uuid.UUID, errorMessage, errorCode string, now time.Time) (*models.Payout, error) {
	args := m.Called(ctx, id, errorMessage, errorCode, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutRepo) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (*models.Payout, error) {
	args := m.Called(ctx, id, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

type mockPayoutUsers struct {
	mock.Mock
}

func (m *mockPayoutUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockPayoutUsers) UpdateBankDetails(ctx context.Context, userID uuid.UUID, details models.BankDetails) error {
	args := m.Called(ctx, userID, details)
	return args.Error(0)
}

func (m *mockPayoutUsers) SetGatewayAccountID(ctx context.Context, userID uuid.UUID, accountID string) error {
	args := m.Called(ctx, userID, accountID)
	return args.Error(0)
}

func strPtr(s string) *string { return &s }

func printerWithBank() *models.User {
	acct := "acct_77"
	return &models.User{
		ID:               uuid.New(),
		Email:            "printer@example.com",
		Role:             models.RolePrinter,
		Country:          "FR",
		BankName:         strPtr("BNP Paribas"),
		IBANLast4:        strPtr("1234"),
		AccountHolder:    strPtr("Jean Martin"),
		GatewayAccountID: &acct,
		BalanceAvailable: 500,
		BalanceTotal:     500,
	}
}

func newPayoutFixture() (*mockPayoutRepo, *mockPayoutUsers, *mockGateway, *PayoutService) {
	payouts := new(mockPayoutRepo)
	users := new(mockPayoutUsers)
	gateway := new(mockGateway)
	svc := NewPayoutService(payouts, users, gateway, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return payouts, users, gateway, svc
}

func TestRequestPayoutRequiresBankDetails(t *testing.T) {
	payouts, users, _, svc := newPayoutFixture()
	ctx := context.Background()

	printer := printerWithBank()
	printer.BankName = nil
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)

	_, err := svc.RequestPayout(ctx, printer.ID, 100)
	assert.True(t, apperror.IsInvalidState(err))
	payouts.AssertNotCalled(t, "Create")
}

func TestRequestPayoutInFlight(t *testing.T) {
	payouts, users, _, svc := newPayoutFixture()
	ctx := context.Background()

	printer := printerWithBank()
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)
	payouts.On("Create", ctx, mock.AnythingOfType("*models.Payout")).
		Return(repository.ErrPayoutInFlight)

	_, err := svc.RequestPayout(ctx, printer.ID, 100)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeLimitExceeded, appErr.Code)
	assert.Equal(t, 1, appErr.Details["in_flight_payouts"])
}

func TestRequestPayoutSnapshotsBankDetails(t *testing.T) {
	payouts, users, _, svc := newPayoutFixture()
	ctx := context.Background()

	printer := printerWithBank()
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)
	payouts.On("Create", ctx, mock.AnythingOfType("*models.Payout")).Return(nil)

	payout, err := svc.RequestPayout(ctx, printer.ID, 250.555)
	require.NoError(t, err)

	assert.InDelta(t, 250.56, payout.Amount, 0.001)
	assert.Equal(t, "BNP Paribas", payout.BankName)
	assert.Equal(t, "1234", payout.IBANLast4)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)
}

func TestProcessPayoutSuccess(t *testing.T) {
	payouts, users, gateway, svc := newPayoutFixture()
	ctx := context.Background()

	printer := printerWithBank()
	payout := &models.Payout{ID: uuid.New(), PrinterID: printer.ID, Amount: 200, Status: models.PayoutStatusProcessing}

	payouts.On("SetProcessing", ctx, payout.ID).Return(payout, nil)
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)
	gateway.On("Transfer", ctx, 200.0, "acct_77", mock.Anything).
		Return(&payment.TransferResult{ID: "tr_9"}, nil)

	completed := &models.Payout{ID: payout.ID, PrinterID: printer.ID, Amount: 200, Status: models.PayoutStatusCompleted}
	payouts.On("Complete", ctx, payout.ID, "tr_9", svc.now()).Return(completed, nil)

	result, err := svc.ProcessPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCompleted, result.Status)
	payouts.AssertNotCalled(t, "Fail")
}

func TestProcessPayoutGatewayFailureCompensates(t *testing.T) {
	payouts, users, gateway, svc := newPayoutFixture()
	ctx := context.Background()

	printer := printerWithBank()
	payout := &models.Payout{ID: uuid.New(), PrinterID: printer.ID, Amount: 200, Status: models.PayoutStatusProcessing}

	payouts.On("SetProcessing", ctx, payout.ID).Return(payout, nil)
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)

	gwErr := &payment.GatewayError{Code: "account_invalid", Message: "счёт недействителен"}
	gateway.On("Transfer", ctx, 200.0, "acct_77", mock.Anything).Return(nil, gwErr)

	failed := &models.Payout{ID: payout.ID, PrinterID: printer.ID, Amount: 200, Status: models.PayoutStatusFailed}
	payouts.On("Fail", ctx, payout.ID, gwErr.Error(), "account_invalid", svc.now()).Return(failed, nil)

	result, err := svc.ProcessPayout(ctx, payout.ID)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeGatewayFailure, appErr.Code)
	assert.Equal(t, models.PayoutStatusFailed, result.Status)
	payouts.AssertNotCalled(t, "Complete")
}

func TestProcessPayoutAlreadyProcessed(t *testing.T) {
	payouts, _, _, svc := newPayoutFixture()
	ctx := context.Background()

	id := uuid.New()
	payouts.On("SetProcessing", ctx, id).Return(nil, repository.ErrVersionConflict)

	_, err := svc.ProcessPayout(ctx, id)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestCancelPayoutOwnerOnly(t *testing.T) {
	payouts, _, _, svc := newPayoutFixture()
	ctx := context.Background()

	payout := &models.Payout{ID: uuid.New(), PrinterID: uuid.New(), Status: models.PayoutStatusPending}
	payouts.On("GetByID", ctx, payout.ID).Return(payout, nil)

	_, err := svc.CancelPayout(ctx, uuid.New(), payout.ID)
	assert.True(t, apperror.IsForbidden(err))
	payouts.AssertNotCalled(t, "Cancel")
}

func TestUpdateBankDetailsRegistersPayee(t *testing.T) {
	_, users, gateway, svc := newPayoutFixture()
	ctx := context.Background()

	printer := printerWithBank()
	printer.GatewayAccountID = nil
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)
	users.On("UpdateBankDetails", ctx, printer.ID, models.BankDetails{
		BankName:      "BNP Paribas",
		IBANLast4:     "2606",
		AccountHolder: "Jean Martin",
	}).Return(nil)
	gateway.On("CreatePayee", ctx, printer.Email, "FR").Return("acct_new", nil)
	users.On("SetGatewayAccountID", ctx, printer.ID, "acct_new").Return(nil)

	err := svc.UpdateBankDetails(ctx, printer.ID, BankDetailsInput{
		BankName:      "BNP Paribas",
		IBAN:          "FR76 3000 6000 0112 3456 7890 189 2606",
		AccountHolder: "Jean Martin",
	})
	require.NoError(t, err)
	users.AssertExpectations(t)
}

func TestUpdateBankDetailsInvalidIBAN(t *testing.T) {
	_, users, _, svc := newPayoutFixture()
	ctx := context.Background()

	printer := printerWithBank()
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)

	err := svc.UpdateBankDetails(ctx, printer.ID, BankDetailsInput{
		BankName:      "BNP Paribas",
		IBAN:          "не iban",
		AccountHolder: "Jean Martin",
	})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeBadRequest, appErr.Code)
}
