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
)

// ContractRepositoryIface описывает хранилище контрактов.
type ContractRepositoryIface interface {
	Create(ctx context.Context, ct *models.Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*models.Contract, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error)
	SaveTransition(ctx context.Context, ct *models.Contract, fromStatus string) error
}

// TransactionRepositoryIface описывает денежное хранилище.
type TransactionRepositoryIface interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByGatewayIntent(ctx context.Context, intentID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	Confirm(ctx context.Context, transactionID uuid.UUID, now time.Time) (*models.Transaction, *models.Contract, error)
	ConfirmDelivery(ctx context.Context, contractID uuid.UUID, now time.Time) (*models.Contract, error)
	MarkFailed(ctx context.Context, transactionID uuid.UUID, reason string) error
}

// ComplianceChecker решает, разрешена ли продавцу новая сделка.
type ComplianceChecker interface {
	CheckCompliance(ctx context.Context, printerID uuid.UUID, amount float64, now time.Time) (*models.ComplianceDecision, error)
}

// ContractService управляет оплатой контракта, производственными вехами
// и подтверждением доставки.
type ContractService struct {
	contracts     ContractRepositoryIface
	conversations ConversationRepositoryIface
	transactions  TransactionRepositoryIface
	compliance    ComplianceChecker
	gateway       payment.Gateway
	notifier      Notifier
	recovery      *goroutine.RecoveryHandler
	now           func() time.Time
}

// NewContractService создаёт сервис контрактов.
func NewContractService(
	contracts ContractRepositoryIface,
	conversations ConversationRepositoryIface,
	transactions TransactionRepositoryIface,
	compliance ComplianceChecker,
	gateway payment.Gateway,
	notifier Notifier,
	recovery *goroutine.RecoveryHandler,
) *ContractService {
	return &ContractService{
		contracts:     contracts,
		conversations: conversations,
		transactions:  transactions,
		compliance:    compliance,
		gateway:       gateway,
		notifier:      notifier,
		recovery:      recovery,
		now:           time.Now,
	}
}

// GetContract возвращает контракт стороне сделки.
func (s *ContractService) GetContract(ctx context.Context, userID, contractID uuid.UUID) (*models.Contract, error) {
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.ClientID != userID && contract.PrinterID != userID {
		return nil, apperror.ErrForbidden
	}
	return contract, nil
}

// ListContracts возвращает контракты пользователя.
func (s *ContractService) ListContracts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.contracts.ListByUser(ctx, userID, limit, offset)
}

// ListTransactions возвращает транзакции пользователя.
func (s *ContractService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.transactions.ListByUser(ctx, userID, limit, offset)
}

// InitiatePayment открывает оплату контракта клиентом. Сначала проверяется
// комплаенс продавца: сделка сверх годового потолка не допускается к оплате.
// Балансовая часть (useBalance) списывается при подтверждении; если оплата
// полностью балансовая, подтверждение происходит сразу.
func (s *ContractService) InitiatePayment(ctx context.Context, clientID, contractID uuid.UUID, useBalance float64) (*models.Transaction, error) {
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}
	if contract.Status != models.ContractStatusPendingSignature {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "контракт уже оплачен или отменён")
	}

	decision, err := s.compliance.CheckCompliance(ctx, contract.PrinterID, contract.AgreedPrice, s.now())
	if err != nil {
		return nil, err
	}
	if decision.Warning {
		s.notify(contract.PrinterID, EventComplianceWarning, decision)
	}
	if !decision.Allowed {
		if decision.Blocked {
			s.notify(contract.PrinterID, EventAccountBlocked, decision)
		}
		return nil, apperror.New(apperror.ErrCodeComplianceBlocked,
			"сделка недоступна: продавец исчерпал годовой потолок продаж").
			WithDetails(map[string]interface{}{
				"yearly_revenue":           decision.YearlyRevenue,
				"yearly_transaction_count": decision.YearlyTransactionCount,
				"block_reason":             decision.BlockReason,
			})
	}

	split, err := money.SplitPayment(contract.TotalPaid, useBalance)
	if err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	transaction := &models.Transaction{
		ContractID:    contract.ID,
		ClientID:      contract.ClientID,
		PrinterID:     contract.PrinterID,
		Amount:        contract.AgreedPrice,
		Commission:    contract.PlatformCommission,
		PrinterPayout: contract.PrinterEarnings,
		TotalAmount:   contract.TotalPaid,
		PaymentMethod: split.Method,
		BalanceUsed:   split.BalanceUsed,
		GatewayAmount: split.GatewayAmount,
		Status:        models.TransactionStatusPending,
	}

	if split.GatewayAmount > 0 {
		auth, err := s.gateway.Authorize(ctx, split.GatewayAmount, "eur", map[string]string{
			"contract_id": contract.ID.String(),
			"client_id":   contract.ClientID.String(),
		})
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeGatewayFailure, "платёжный шлюз недоступен")
		}
		transaction.GatewayIntentID = &auth.ID
		transaction.ClientSecret = &auth.ClientSecret
	}

	if err := s.transactions.Create(ctx, transaction); err != nil {
		return nil, err
	}

	// Полностью балансовая оплата не ждёт колбэка шлюза.
	if split.GatewayAmount == 0 {
		confirmed, _, err := s.confirmTransaction(ctx, transaction.ID)
		if err != nil {
			return nil, err
		}
		return confirmed, nil
	}

	return transaction, nil
}

// ConfirmPayment подтверждает оплату транзакции клиентом.
func (s *ContractService) ConfirmPayment(ctx context.Context, clientID, transactionID uuid.UUID) (*models.Transaction, error) {
	transaction, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, apperror.ErrTransactionNotFound
		}
		return nil, err
	}
	if transaction.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}

	confirmed, _, err := s.confirmTransaction(ctx, transactionID)
	return confirmed, err
}

// ConfirmPaymentByIntent подтверждает оплату по колбэку шлюза.
func (s *ContractService) ConfirmPaymentByIntent(ctx context.Context, intentID string) (*models.Transaction, error) {
	transaction, err := s.transactions.GetByGatewayIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, apperror.ErrTransactionNotFound
		}
		return nil, err
	}

	confirmed, _, err := s.confirmTransaction(ctx, transaction.ID)
	return confirmed, err
}

// FailPayment фиксирует неуспех оплаты по колбэку шлюза.
func (s *ContractService) FailPayment(ctx context.Context, intentID, reason string) error {
	transaction, err := s.transactions.GetByGatewayIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return apperror.ErrTransactionNotFound
		}
		return err
	}
	return s.transactions.MarkFailed(ctx, transaction.ID, reason)
}

func (s *ContractService) confirmTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, *models.Contract, error) {
	transaction, contract, err := s.transactions.Confirm(ctx, transactionID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyConfirmed):
			return nil, nil, apperror.New(apperror.ErrCodeInvalidState, "транзакция уже подтверждена")
		case errors.Is(err, repository.ErrInsufficientFunds):
			return nil, nil, apperror.New(apperror.ErrCodeInsufficientFunds, "недостаточно средств на балансе")
		case errors.Is(err, repository.ErrVersionConflict):
			return nil, nil, apperror.New(apperror.ErrCodeConflict, "контракт изменён параллельно, повторите операцию")
		case errors.Is(err, repository.ErrContractNotFound):
			return nil, nil, apperror.ErrContractNotFound
		}
		return nil, nil, err
	}

	// Переговоры уже в статусе signed: оплата подписывает контракт,
	// статус переговоров не меняется.
	s.notify(contract.ClientID, EventPaymentConfirmed, transaction)
	s.notify(contract.PrinterID, EventPaymentConfirmed, transaction)
	return transaction, contract, nil
}

// StartPrinting — печатник начинает производство.
func (s *ContractService) StartPrinting(ctx context.Context, printerID, contractID uuid.UUID) (*models.Contract, error) {
	return s.milestone(ctx, printerID, contractID,
		func(c *models.Conversation, now time.Time) *apperror.AppError { return c.StartPrinting(printerID, now) },
		func(ct *models.Contract, now time.Time) *apperror.AppError { return ct.StartPrinting(now) },
	)
}

// CompletePrinting — производство завершено.
func (s *ContractService) CompletePrinting(ctx context.Context, printerID, contractID uuid.UUID) (*models.Contract, error) {
	return s.milestone(ctx, printerID, contractID,
		func(c *models.Conversation, now time.Time) *apperror.AppError {
			return c.CompletePrinting(printerID, now)
		},
		func(ct *models.Contract, now time.Time) *apperror.AppError { return ct.CompletePrinting(now) },
	)
}

// SharePhotos — фотографии результата отправлены клиенту.
func (s *ContractService) SharePhotos(ctx context.Context, printerID, contractID uuid.UUID) (*models.Contract, error) {
	return s.milestone(ctx, printerID, contractID,
		func(c *models.Conversation, now time.Time) *apperror.AppError { return c.SharePhotos(printerID, now) },
		func(ct *models.Contract, now time.Time) *apperror.AppError { return ct.SendPhotos(now) },
	)
}

// ShipOrder — заказ передан в доставку.
func (s *ContractService) ShipOrder(ctx context.Context, printerID, contractID uuid.UUID) (*models.Contract, error) {
	return s.milestone(ctx, printerID, contractID,
		func(c *models.Conversation, now time.Time) *apperror.AppError { return c.ShipOrder(printerID, now) },
		func(ct *models.Contract, now time.Time) *apperror.AppError { return ct.MarkAsShipped(now) },
	)
}

// ConfirmDelivery — клиент подтверждает получение. Средства продавца переходят
// из pending в available, транзакция завершается, комплаенс-счётчики растут.
func (s *ContractService) ConfirmDelivery(ctx context.Context, clientID, contractID uuid.UUID) (*models.Contract, error) {
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}

	conversation, err := s.conversations.GetByID(ctx, contract.ConversationID)
	if err != nil {
		return nil, err
	}
	if appErr := conversation.ConfirmReceipt(clientID); appErr != nil {
		return nil, appErr
	}

	updated, err := s.transactions.ConfirmDelivery(ctx, contractID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "доставку можно подтвердить только после отправки заказа")
		case errors.Is(err, repository.ErrContractNotFound):
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}

	if err := s.conversations.Save(ctx, conversation); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
		logger.Log.WithError(err).WithField("conversation_id", conversation.ID).
			Warn("не удалось завершить переговоры после подтверждения доставки")
	}

	s.notify(updated.PrinterID, EventOrderDelivered, updated)
	return updated, nil
}

// milestone применяет производственную веху к переговорам и контракту.
// Контрактный CAS-переход авторитетен: при проигранной гонке операция
// отклоняется целиком.
func (s *ContractService) milestone(
	ctx context.Context,
	printerID, contractID uuid.UUID,
	applyConversation func(*models.Conversation, time.Time) *apperror.AppError,
	applyContract func(*models.Contract, time.Time) *apperror.AppError,
) (*models.Contract, error) {
	contract, err := s.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.PrinterID != printerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "производственные вехи отмечает только печатник")
	}

	conversation, err := s.conversations.GetByID(ctx, contract.ConversationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if appErr := applyConversation(conversation, now); appErr != nil {
		return nil, appErr
	}
	fromStatus := contract.Status
	if appErr := applyContract(contract, now); appErr != nil {
		return nil, appErr
	}

	if err := s.contracts.SaveTransition(ctx, contract, fromStatus); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperror.New(apperror.ErrCodeConflict, "контракт изменён параллельно, повторите операцию")
		}
		return nil, err
	}

	if err := s.conversations.Save(ctx, conversation); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
		logger.Log.WithError(err).WithField("conversation_id", conversation.ID).
			Warn("не удалось синхронизировать веху переговоров")
	}

	s.notify(contract.ClientID, EventProductionUpdate, contract)
	return contract, nil
}

func (s *ContractService) loadContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	contract, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, err
	}
	return contract, nil
}

func (s *ContractService) notify(userID uuid.UUID, event string, data any) {
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
