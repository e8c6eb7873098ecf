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

type mockContractRepo struct {
	mock.Mock
}

func (m *mockContractRepo) Create(ctx context.Context, ct *models.Contract) error {
	args := m.Called(ctx, ct)
	return args.Error(0)
}

func (m *mockContractRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockContractRepo) GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockContractRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Contract), args.Error(1)
}

func (m *mockContractRepo) SaveTransition(ctx context.Context, ct *models.Contract, fromStatus string) error {
	args := m.Called(ctx, ct, fromStatus)
	return args.Error(0)
}

type mockTransactionRepo struct {
	mock.Mock
}

func (m *mockTransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) GetByGatewayIntent(ctx context.Context, intentID string) (*models.Transaction, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) Confirm(ctx context.Context, transactionID uuid.UUID, now time.Time) (*models.Transaction, *models.Contract, error) {
	args := m.Called(ctx, transactionID, now)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Transaction), args.Get(1).(*models.Contract), args.Error(2)
}

func (m *mockTransactionRepo) ConfirmDelivery(ctx context.Context, contractID uuid.UUID, now time.Time) (*models.Contract, error) {
	args := m.Called(ctx, contractID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockTransactionRepo) MarkFailed(ctx context.Context, transactionID uuid.UUID, reason string) error {
	args := m.Called(ctx, transactionID, reason)
	return args.Error(0)
}

type mockComplianceChecker struct {
	mock.Mock
}

func (m *mockComplianceChecker) CheckCompliance(ctx context.Context, printerID uuid.UUID, amount float64, now time.Time) (*models.ComplianceDecision, error) {
	args := m.Called(ctx, printerID, amount, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ComplianceDecision), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Authorize(ctx context.Context, amount float64, currency string, metadata map[string]string) (*payment.Authorization, error) {
	args := m.Called(ctx, amount, currency, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Authorization), args.Error(1)
}

func (m *mockGateway) Transfer(ctx context.Context, amount float64, destinationAccount string, metadata map[string]string) (*payment.TransferResult, error) {
	args := m.Called(ctx, amount, destinationAccount, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.TransferResult), args.Error(1)
}

func (m *mockGateway) CreatePayee(ctx context.Context, email, country string) (string, error) {
	args := m.Called(ctx, email, country)
	return args.String(0), args.Error(1)
}

type contractServiceFixture struct {
	contracts     *mockContractRepo
	conversations *mockConversationRepo
	transactions  *mockTransactionRepo
	compliance    *mockComplianceChecker
	gateway       *mockGateway
	svc           *ContractService
}

func newContractFixture() *contractServiceFixture {
	f := &contractServiceFixture{
		contracts:     new(mockContractRepo),
		conversations: new(mockConversationRepo),
		transactions:  new(mockTransactionRepo),
		compliance:    new(mockComplianceChecker),
		gateway:       new(mockGateway),
	}
	f.svc = NewContractService(f.contracts, f.conversations, f.transactions, f.compliance, f.gateway, nil, nil)
	f.svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func pendingContract(clientID, printerID uuid.UUID) *models.Contract {
	return &models.Contract{
		ID:                 uuid.New(),
		ConversationID:     uuid.New(),
		ClientID:           clientID,
		PrinterID:          printerID,
		AgreedPrice:        100,
		PlatformCommission: 10,
		TotalPaid:          110,
		PrinterEarnings:    100,
		Status:             models.ContractStatusPendingSignature,
	}
}

func allowedDecision() *models.ComplianceDecision {
	return &models.ComplianceDecision{Allowed: true}
}

func TestInitiatePaymentComplianceBlocked(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	contract := pendingContract(clientID, uuid.New())

	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	f.compliance.On("CheckCompliance", ctx, contract.PrinterID, 100.0, f.svc.now()).
		Return(&models.ComplianceDecision{Allowed: false, Blocked: true}, nil)

	_, err := f.svc.InitiatePayment(ctx, clientID, contract.ID, 0)
	assert.True(t, apperror.IsComplianceBlocked(err))
	f.transactions.AssertNotCalled(t, "Create")
	f.gateway.AssertNotCalled(t, "Authorize")
}

func TestInitiatePaymentCardSplit(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	contract := pendingContract(clientID, uuid.New())

	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	f.compliance.On("CheckCompliance", ctx, contract.PrinterID, 100.0, f.svc.now()).
		Return(allowedDecision(), nil)
	f.gateway.On("Authorize", ctx, 70.0, "eur", mock.Anything).
		Return(&payment.Authorization{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil)
	f.transactions.On("Create", ctx, mock.AnythingOfType("*models.Transaction")).Return(nil)

	transaction, err := f.svc.InitiatePayment(ctx, clientID, contract.ID, 40)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentMethodMixed, transaction.PaymentMethod)
	assert.InDelta(t, 40.0, transaction.BalanceUsed, 0.001)
	assert.InDelta(t, 70.0, transaction.GatewayAmount, 0.001)
	require.NotNil(t, transaction.GatewayIntentID)
	assert.Equal(t, "pi_1", *transaction.GatewayIntentID)
	assert.Equal(t, models.TransactionStatusPending, transaction.Status)
	f.transactions.AssertNotCalled(t, "Confirm")
}

func TestInitiatePaymentBalanceOnlyAutoConfirms(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	contract := pendingContract(clientID, uuid.New())

	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	f.compliance.On("CheckCompliance", ctx, contract.PrinterID, 100.0, f.svc.now()).
		Return(allowedDecision(), nil)
	f.transactions.On("Create", ctx, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.Transaction).ID = uuid.New()
		}).Return(nil)

	confirmed := &models.Transaction{Status: models.TransactionStatusProcessing}
	signedContract := pendingContract(clientID, contract.PrinterID)
	signedContract.Status = models.ContractStatusSigned
	f.transactions.On("Confirm", ctx, mock.AnythingOfType("uuid.UUID"), f.svc.now()).
		Return(confirmed, signedContract, nil)

	transaction, err := f.svc.InitiatePayment(ctx, clientID, contract.ID, 110)
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusProcessing, transaction.Status)
	f.gateway.AssertNotCalled(t, "Authorize")
}

func TestInitiatePaymentNotClient(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	contract := pendingContract(uuid.New(), uuid.New())
	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)

	_, err := f.svc.InitiatePayment(ctx, uuid.New(), contract.ID, 0)
	assert.True(t, apperror.IsForbidden(err))
}

func TestConfirmPaymentInsufficientFunds(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	transaction := &models.Transaction{ID: uuid.New(), ClientID: clientID}
	f.transactions.On("GetByID", ctx, transaction.ID).Return(transaction, nil)
	f.transactions.On("Confirm", ctx, transaction.ID, f.svc.now()).
		Return(nil, nil, repository.ErrInsufficientFunds)

	_, err := f.svc.ConfirmPayment(ctx, clientID, transaction.ID)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeInsufficientFunds, appErr.Code)
}

func TestMilestoneClientForbidden(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	contract := pendingContract(clientID, uuid.New())
	contract.Status = models.ContractStatusSigned
	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)

	_, err := f.svc.StartPrinting(ctx, clientID, contract.ID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestStartPrintingSyncsBothRecords(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	printerID := uuid.New()
	contract := pendingContract(clientID, printerID)
	contract.Status = models.ContractStatusSigned

	now := f.svc.now()
	conversation := activeConversation(clientID, printerID)
	conversation.ID = contract.ConversationID
	conversation.Status = models.ConversationStatusSigned
	conversation.ClientSignedAt = &now
	conversation.PrinterSignedAt = &now

	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	f.conversations.On("GetByID", ctx, contract.ConversationID).Return(conversation, nil)
	f.contracts.On("SaveTransition", ctx, contract, models.ContractStatusSigned).Return(nil)
	f.conversations.On("Save", ctx, conversation).Return(nil)

	updated, err := f.svc.StartPrinting(ctx, printerID, contract.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ContractStatusPrintingStarted, updated.Status)
	assert.Equal(t, models.ConversationStatusInProduction, conversation.Status)
	f.contracts.AssertExpectations(t)
}

func TestConfirmDeliveryRequiresReadyConversation(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	contract := pendingContract(clientID, uuid.New())
	contract.Status = models.ContractStatusShipped

	conversation := activeConversation(clientID, contract.PrinterID)
	conversation.ID = contract.ConversationID
	conversation.Status = models.ConversationStatusInProduction

	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	f.conversations.On("GetByID", ctx, contract.ConversationID).Return(conversation, nil)

	_, err := f.svc.ConfirmDelivery(ctx, clientID, contract.ID)
	assert.True(t, apperror.IsInvalidState(err))
	f.transactions.AssertNotCalled(t, "ConfirmDelivery")
}

func TestConfirmDelivery(t *testing.T) {
	f := newContractFixture()
	ctx := context.Background()

	clientID := uuid.New()
	contract := pendingContract(clientID, uuid.New())
	contract.Status = models.ContractStatusShipped

	conversation := activeConversation(clientID, contract.PrinterID)
	conversation.ID = contract.ConversationID
	conversation.Status = models.ConversationStatusReady

	delivered := pendingContract(clientID, contract.PrinterID)
	delivered.Status = models.ContractStatusDeliveredConfirmed

	f.contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	f.conversations.On("GetByID", ctx, contract.ConversationID).Return(conversation, nil)
	f.transactions.On("ConfirmDelivery", ctx, contract.ID, f.svc.now()).Return(delivered, nil)
	f.conversations.On("Save", ctx, conversation).Return(nil)

	updated, err := f.svc.ConfirmDelivery(ctx, clientID, contract.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ContractStatusDeliveredConfirmed, updated.Status)
	assert.Equal(t, models.ConversationStatusCompleted, conversation.Status)
}
