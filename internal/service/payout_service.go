package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/goroutine"
	"github.com/makerlink/print3d-backend/internal/logger"
	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/money"
	"github.com/makerlink/print3d-backend/internal/payment"
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
	"github.com/makerlink/print3d-backend/internal/repository"
	"github.com/makerlink/print3d-backend/internal/validation"
)

// PayoutRepositoryIface описывает хранилище выплат.
type PayoutRepositoryIface interface {
	Create(ctx context.Context, p *models.Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	ListByPrinter(ctx context.Context, printerID uuid.UUID, limit, offset int) ([]models.Payout, error)
	SetProcessing(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	Complete(ctx context.Context, id uuid.UUID, transferID string, now time.Time) (*models.Payout, error)
	Fail(ctx context.Context, id uuid.UUID, errorMessage, errorCode string, now time.Time) (*models.Payout, error)
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) (*models.Payout, error)
}

// PayoutUserRepository — операции с пользователями, нужные выплатам.
type PayoutUserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateBankDetails(ctx context.Context, userID uuid.UUID, details models.BankDetails) error
	SetGatewayAccountID(ctx context.Context, userID uuid.UUID, accountID string) error
}

// PayoutService управляет балансом продавца и выплатами на банковский счёт.
type PayoutService struct {
	payouts  PayoutRepositoryIface
	users    PayoutUserRepository
	gateway  payment.Gateway
	notifier Notifier
	recovery *goroutine.RecoveryHandler
	now      func() time.Time
}

// NewPayoutService создаёт сервис выплат.
func NewPayoutService(
	payouts PayoutRepositoryIface,
	users PayoutUserRepository,
	gateway payment.Gateway,
	notifier Notifier,
	recovery *goroutine.RecoveryHandler,
) *PayoutService {
	return &PayoutService{
		payouts:  payouts,
		users:    users,
		gateway:  gateway,
		notifier: notifier,
		recovery: recovery,
		now:      time.Now,
	}
}

// BankDetailsInput — реквизиты продавца. Полный IBAN не хранится:
// в базу попадают только последние четыре знака.
type BankDetailsInput struct {
	BankName      string
	IBAN          string
	AccountHolder string
}

// GetBalance возвращает снимок баланса продавца.
func (s *PayoutService) GetBalance(ctx context.Context, printerID uuid.UUID) (*models.Balance, error) {
	user, err := s.loadPrinter(ctx, printerID)
	if err != nil {
		return nil, err
	}
	balance := user.BalanceSnapshot()
	return &balance, nil
}

// UpdateBankDetails сохраняет реквизиты и регистрирует продавца на шлюзе,
// если это первый ввод реквизитов.
func (s *PayoutService) UpdateBankDetails(ctx context.Context, printerID uuid.UUID, in BankDetailsInput) error {
	user, err := s.loadPrinter(ctx, printerID)
	if err != nil {
		return err
	}

	if err := validation.ValidateNonEmpty("название банка", in.BankName); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	if err := validation.ValidateNonEmpty("имя владельца счёта", in.AccountHolder); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	if err := validation.ValidateIBAN(in.IBAN); err != nil {
		return apperror.NewBadRequest(err.Error())
	}

	iban := validation.NormalizeIBAN(in.IBAN)
	details := models.BankDetails{
		BankName:      in.BankName,
		IBANLast4:     iban[len(iban)-4:],
		AccountHolder: in.AccountHolder,
	}

	if err := s.users.UpdateBankDetails(ctx, printerID, details); err != nil {
		return err
	}

	if user.GatewayAccountID == nil {
		accountID, err := s.gateway.CreatePayee(ctx, user.Email, user.Country)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeGatewayFailure, "не удалось зарегистрировать счёт на шлюзе")
		}
		if err := s.users.SetGatewayAccountID(ctx, printerID, accountID); err != nil {
			return err
		}
	}

	return nil
}

// RequestPayout создаёт заявку на выплату. Сумма сразу резервируется:
// available уменьшается, total — только после завершения перевода.
// Одновременно может существовать лишь одна незавершённая выплата.
func (s *PayoutService) RequestPayout(ctx context.Context, printerID uuid.UUID, amount float64) (*models.Payout, error) {
	user, err := s.loadPrinter(ctx, printerID)
	if err != nil {
		return nil, err
	}
	if !user.HasBankDetails() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "сначала заполните банковские реквизиты")
	}
	if amount <= 0 {
		return nil, apperror.NewBadRequest("сумма выплаты должна быть положительной")
	}

	payout := &models.Payout{
		PrinterID:     printerID,
		Amount:        money.Round2(amount),
		BankName:      *user.BankName,
		IBANLast4:     *user.IBANLast4,
		AccountHolder: *user.AccountHolder,
		Status:        models.PayoutStatusPending,
	}

	if err := s.payouts.Create(ctx, payout); err != nil {
		switch {
		case errors.Is(err, repository.ErrPayoutInFlight):
			return nil, apperror.New(apperror.ErrCodeLimitExceeded, "предыдущая выплата ещё не завершена").
				WithDetails(map[string]interface{}{"in_flight_payouts": 1})
		case errors.Is(err, repository.ErrInsufficientFunds):
			return nil, apperror.New(apperror.ErrCodeInsufficientFunds, "сумма превышает доступный баланс")
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}

	return payout, nil
}

// ProcessPayout выполняет перевод через шлюз. Успех завершает выплату и
// закрывает снятые контракты; неуспех возвращает резерв на баланс.
func (s *PayoutService) ProcessPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.payouts.SetProcessing(ctx, payoutID)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "выплата уже обработана или отменена")
		}
		return nil, err
	}

	user, err := s.loadPrinter(ctx, payout.PrinterID)
	if err != nil {
		return nil, err
	}
	if user.GatewayAccountID == nil {
		failed, failErr := s.payouts.Fail(ctx, payoutID, "счёт продавца не зарегистрирован на шлюзе", "no_gateway_account", s.now())
		if failErr != nil {
			return nil, failErr
		}
		return failed, apperror.New(apperror.ErrCodeInvalidState, "счёт продавца не зарегистрирован на шлюзе")
	}

	transfer, err := s.gateway.Transfer(ctx, payout.Amount, *user.GatewayAccountID, map[string]string{
		"payout_id":  payout.ID.String(),
		"printer_id": payout.PrinterID.String(),
	})
	if err != nil {
		code := "unknown"
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) {
			code = gwErr.Code
		}
		failed, failErr := s.payouts.Fail(ctx, payoutID, err.Error(), code, s.now())
		if failErr != nil {
			logger.Log.WithError(failErr).WithField("payout_id", payoutID).
				Error("не удалось компенсировать неуспешную выплату")
			return nil, failErr
		}
		s.notify(payout.PrinterID, EventPayoutProcessed, failed)
		return failed, apperror.Wrap(err, apperror.ErrCodeGatewayFailure, "перевод не прошёл")
	}

	completed, err := s.payouts.Complete(ctx, payoutID, transfer.ID, s.now())
	if err != nil {
		return nil, err
	}

	s.notify(payout.PrinterID, EventPayoutProcessed, completed)
	return completed, nil
}

// CancelPayout отменяет ещё не начатую выплату и возвращает резерв.
func (s *PayoutService) CancelPayout(ctx context.Context, printerID, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.getPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.PrinterID != printerID {
		return nil, apperror.ErrForbidden
	}

	cancelled, err := s.payouts.Cancel(ctx, payoutID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "отменить можно только ожидающую выплату")
		}
		return nil, err
	}

	return cancelled, nil
}

// GetPayout возвращает выплату её владельцу.
func (s *PayoutService) GetPayout(ctx context.Context, printerID, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.getPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.PrinterID != printerID {
		return nil, apperror.ErrForbidden
	}
	return payout, nil
}

// ListPayouts возвращает выплаты продавца.
func (s *PayoutService) ListPayouts(ctx context.Context, printerID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.payouts.ListByPrinter(ctx, printerID, limit, offset)
}

func (s *PayoutService) getPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	payout, err := s.payouts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutNotFound) {
			return nil, apperror.ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}

func (s *PayoutService) loadPrinter(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}
	if user.Role != models.RolePrinter {
		return nil, apperror.New(apperror.ErrCodeForbidden, "операция доступна только печатникам")
	}
	return user, nil
}

func (s *PayoutService) notify(userID uuid.UUID, event string, data any) {
	if s.notifier == nil {
		return
	}
	send := func() {
		if err := s.notifier.BroadcastToUser(userID, event, data); err != nil {
			logger.Log.WithError(err).WithField("event", event).Warn("не удалось отправить уведомление")
		}
	}
	if s.recovery != nil {
		s.recovery.SafeGo(send)
		return
	}
	send()
}
