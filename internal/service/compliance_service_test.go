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
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
)

type mockComplianceUsers struct {
	mock.Mock
}

func (m *mockComplianceUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockComplianceUsers) CheckCompliance(ctx context.Context, printerID uuid.UUID, amount float64, now time.Time) (*models.ComplianceDecision, error) {
	args := m.Called(ctx, printerID, amount, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ComplianceDecision), args.Error(1)
}

func (m *mockComplianceUsers) UpgradeBusinessStatus(ctx context.Context, userID uuid.UUID, siret, businessStatus string) (*models.User, error) {
	args := m.Called(ctx, userID, siret, businessStatus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockComplianceUsers) ListAtRisk(ctx context.Context, threshold float64) ([]models.User, error) {
	args := m.Called(ctx, threshold)
	return args.Get(0).([]models.User), args.Error(1)
}

func newComplianceFixture() (*mockComplianceUsers, *ComplianceService) {
	users := new(mockComplianceUsers)
	svc := NewComplianceService(users)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return users, svc
}

func TestCheckTransactionRejectsNonPositiveAmount(t *testing.T) {
	users, svc := newComplianceFixture()

	_, err := svc.CheckTransaction(context.Background(), uuid.New(), 0)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeBadRequest, appErr.Code)
	users.AssertNotCalled(t, "CheckCompliance")
}

func TestCheckTransactionDelegates(t *testing.T) {
	users, svc := newComplianceFixture()
	ctx := context.Background()

	printerID := uuid.New()
	decision := &models.ComplianceDecision{Allowed: true, Warning: true, YearlyRevenue: 2500}
	users.On("CheckCompliance", ctx, printerID, 200.0, svc.now()).Return(decision, nil)

	got, err := svc.CheckTransaction(ctx, printerID, 200)
	require.NoError(t, err)
	assert.True(t, got.Warning)
}

func TestSalesStatisticsParticulier(t *testing.T) {
	users, svc := newComplianceFixture()
	ctx := context.Background()

	printer := &models.User{
		ID:                     uuid.New(),
		Role:                   models.RolePrinter,
		BusinessStatus:         models.BusinessStatusParticulier,
		YearlyRevenue:          1500,
		YearlyTransactionCount: 10,
		RevenueYear:            2026,
	}
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)

	stats, err := svc.GetSalesStatistics(ctx, printer.ID)
	require.NoError(t, err)

	assert.InDelta(t, 3000.0, stats.RevenueCeiling, 0.001)
	assert.Equal(t, 20, stats.TransactionCeiling)
	assert.InDelta(t, 50.0, stats.RevenueUsagePercent, 0.001)
	assert.InDelta(t, 50.0, stats.CountUsagePercent, 0.001)
}

func TestSalesStatisticsProfessionalHasNoCeilings(t *testing.T) {
	users, svc := newComplianceFixture()
	ctx := context.Background()

	printer := &models.User{
		ID:             uuid.New(),
		Role:           models.RolePrinter,
		BusinessStatus: models.BusinessStatusProfessionnel,
		YearlyRevenue:  50000,
	}
	users.On("GetByID", ctx, printer.ID).Return(printer, nil)

	stats, err := svc.GetSalesStatistics(ctx, printer.ID)
	require.NoError(t, err)

	assert.Zero(t, stats.RevenueCeiling)
	assert.Zero(t, stats.RevenueUsagePercent)
}

func TestUpgradeBusinessStatusValidatesSIRET(t *testing.T) {
	users, svc := newComplianceFixture()

	_, err := svc.UpgradeBusinessStatus(context.Background(), uuid.New(), "123", models.BusinessStatusMicroEntrepreneur)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeBadRequest, appErr.Code)
	users.AssertNotCalled(t, "UpgradeBusinessStatus")
}

func TestUpgradeBusinessStatusRejectsDowngrade(t *testing.T) {
	_, svc := newComplianceFixture()

	_, err := svc.UpgradeBusinessStatus(context.Background(), uuid.New(), "12345678901234", models.BusinessStatusParticulier)
	require.Error(t, err)
}

func TestUpgradeBusinessStatusUnblocks(t *testing.T) {
	users, svc := newComplianceFixture()
	ctx := context.Background()

	printerID := uuid.New()
	upgraded := &models.User{
		ID:             printerID,
		BusinessStatus: models.BusinessStatusMicroEntrepreneur,
		AccountBlocked: false,
	}
	users.On("UpgradeBusinessStatus", ctx, printerID, "12345678901234", models.BusinessStatusMicroEntrepreneur).
		Return(upgraded, nil)

	user, err := svc.UpgradeBusinessStatus(ctx, printerID, "12345678901234", models.BusinessStatusMicroEntrepreneur)
	require.NoError(t, err)
	assert.False(t, user.AccountBlocked)
	assert.Equal(t, models.BusinessStatusMicroEntrepreneur, user.BusinessStatus)
}

func TestAtRiskReport(t *testing.T) {
	users, svc := newComplianceFixture()
	ctx := context.Background()

	atRisk := []models.User{{ID: uuid.New(), YearlyRevenue: 2700}}
	users.On("ListAtRisk", ctx, models.ComplianceWarningThreshold).Return(atRisk, nil)

	got, err := svc.AtRiskReport(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
