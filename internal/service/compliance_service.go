package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
	"github.com/makerlink/print3d-backend/internal/repository"
	"github.com/makerlink/print3d-backend/internal/validation"
)

// ComplianceUserRepository — операции с пользователями, нужные комплаенсу.
type ComplianceUserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CheckCompliance(ctx context.Context, printerID uuid.UUID, amount float64, now time.Time) (*models.ComplianceDecision, error)
	UpgradeBusinessStatus(ctx context.Context, userID uuid.UUID, siret, businessStatus string) (*models.User, error)
	ListAtRisk(ctx context.Context, threshold float64) ([]models.User, error)
}

// ComplianceService следит за годовыми потолками продаж частных лиц
// (французский режим particulier: 3000 EUR или 20 сделок в год).
type ComplianceService struct {
	users ComplianceUserRepository
	now   func() time.Time
}

// NewComplianceService создаёт сервис комплаенса.
func NewComplianceService(users ComplianceUserRepository) *ComplianceService {
	return &ComplianceService{users: users, now: time.Now}
}

// CheckTransaction проверяет, может ли продавец принять сделку на amount.
func (s *ComplianceService) CheckTransaction(ctx context.Context, printerID uuid.UUID, amount float64) (*models.ComplianceDecision, error) {
	if amount <= 0 {
		return nil, apperror.NewBadRequest("сумма сделки должна быть положительной")
	}
	decision, err := s.users.CheckCompliance(ctx, printerID, amount, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}
	return decision, nil
}

// GetSalesStatistics возвращает использование годовых потолков продавцом.
func (s *ComplianceService) GetSalesStatistics(ctx context.Context, printerID uuid.UUID) (*models.SalesStatistics, error) {
	user, err := s.users.GetByID(ctx, printerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}
	if user.Role != models.RolePrinter {
		return nil, apperror.New(apperror.ErrCodeForbidden, "статистика продаж ведётся только для печатников")
	}

	stats := &models.SalesStatistics{
		UserID:                 user.ID,
		BusinessStatus:         user.BusinessStatus,
		YearlyRevenue:          user.YearlyRevenue,
		YearlyTransactionCount: user.YearlyTransactionCount,
		RevenueYear:            user.RevenueYear,
		AccountBlocked:         user.AccountBlocked,
		BlockReason:            user.BlockReason,
	}

	// Потолки применимы только к частным лицам; для предпринимателей
	// показатели использования остаются нулевыми.
	if user.BusinessStatus == models.BusinessStatusParticulier {
		stats.RevenueCeiling = models.MaxAnnualRevenueParticulier
		stats.TransactionCeiling = models.MaxAnnualTransactionsParticulier
		stats.RevenueUsagePercent = user.YearlyRevenue / models.MaxAnnualRevenueParticulier * 100
		stats.CountUsagePercent = float64(user.YearlyTransactionCount) / float64(models.MaxAnnualTransactionsParticulier) * 100
	}

	return stats, nil
}

// UpgradeBusinessStatus переводит продавца в предпринимательский статус.
// Единственный путь разблокировки замороженного аккаунта.
func (s *ComplianceService) UpgradeBusinessStatus(ctx context.Context, printerID uuid.UUID, siret, businessStatus string) (*models.User, error) {
	if _, ok := models.ValidBusinessStatuses[businessStatus]; !ok {
		return nil, apperror.NewBadRequest("недопустимый бизнес-статус")
	}
	if businessStatus == models.BusinessStatusParticulier {
		return nil, apperror.NewBadRequest("переход обратно в статус частного лица невозможен")
	}
	if err := validation.ValidateSIRET(siret); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	user, err := s.users.UpgradeBusinessStatus(ctx, printerID, siret, businessStatus)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

// AtRiskReport возвращает частных лиц, приблизившихся к потолкам.
// Используется административной панелью.
func (s *ComplianceService) AtRiskReport(ctx context.Context) ([]models.User, error) {
	return s.users.ListAtRisk(ctx, models.ComplianceWarningThreshold)
}
