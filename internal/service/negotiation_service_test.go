package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/makerlink/print3d-backend/internal/logger"
	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
	"github.com/makerlink/print3d-backend/internal/repository"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	m.Run()
}

type mockConversationRepo struct {
	mock.Mock
}

func (m *mockConversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *mockConversationRepo) GetByProjectAndPrinter(ctx context.Context, projectID, printerID uuid.UUID) (*models.Conversation, error) {
	args := m.Called(ctx, projectID, printerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *mockConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *mockConversationRepo) Save(ctx context.Context, c *models.Conversation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockConversationRepo) ListExpiredPaused(ctx context.Context, now time.Time, limit int) ([]models.Conversation, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]models.Conversation), args.Error(1)
}

type mockProjectRepo struct {
	mock.Mock
}

func (m *mockProjectRepo) Create(ctx context.Context, p *models.Project) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *mockProjectRepo) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Project, error) {
	args := m.Called(ctx, clientID, limit, offset)
	return args.Get(0).([]models.Project), args.Error(1)
}

func (m *mockProjectRepo) ListOpen(ctx context.Context, limit, offset int) ([]models.Project, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]models.Project), args.Error(1)
}

func (m *mockProjectRepo) SetPrinterFound(ctx context.Context, projectID uuid.UUID) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}

func (m *mockProjectRepo) AddRefusedPrinter(ctx context.Context, projectID, printerID uuid.UUID) error {
	args := m.Called(ctx, projectID, printerID)
	return args.Error(0)
}

type mockContractStore struct {
	mock.Mock
}

func (m *mockContractStore) Create(ctx context.Context, ct *models.Contract) error {
	args := m.Called(ctx, ct)
	return args.Error(0)
}

func (m *mockContractStore) GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockContractStore) SaveTransition(ctx context.Context, ct *models.Contract, fromStatus string) error {
	args := m.Called(ctx, ct, fromStatus)
	return args.Error(0)
}

func newNegotiationService(conversations *mockConversationRepo, projects *mockProjectRepo, contracts *mockContractStore) *NegotiationService {
	svc := NewNegotiationService(conversations, projects, contracts, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func activeConversation(clientID, printerID uuid.UUID) *models.Conversation {
	return &models.Conversation{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		ClientID:  clientID,
		PrinterID: printerID,
		Status:    models.ConversationStatusPending,
		Version:   1,
	}
}

func TestStartConversation(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	clientID := uuid.New()
	printerID := uuid.New()
	project := &models.Project{ID: uuid.New(), ClientID: clientID, Status: models.ProjectStatusOpen}

	projects.On("GetByID", ctx, project.ID).Return(project, nil)
	conversations.On("Create", ctx, mock.AnythingOfType("*models.Conversation")).Return(nil)

	conversation, err := svc.StartConversation(ctx, printerID, project.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ConversationStatusPending, conversation.Status)
	assert.Equal(t, clientID, conversation.ClientID)
	assert.Equal(t, printerID, conversation.PrinterID)
	conversations.AssertExpectations(t)
}

func TestStartConversationRefusedPrinter(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	printerID := uuid.New()
	project := &models.Project{
		ID:              uuid.New(),
		ClientID:        uuid.New(),
		Status:          models.ProjectStatusOpen,
		RefusedPrinters: models.UUIDList{printerID},
	}
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	_, err := svc.StartConversation(ctx, printerID, project.ID)
	assert.True(t, apperror.IsForbidden(err))
	conversations.AssertNotCalled(t, "Create")
}

func TestStartConversationPrinterFound(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	project := &models.Project{
		ID:           uuid.New(),
		ClientID:     uuid.New(),
		Status:       models.ProjectStatusOpen,
		PrinterFound: true,
	}
	projects.On("GetByID", ctx, project.ID).Return(project, nil)

	_, err := svc.StartConversation(ctx, uuid.New(), project.ID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestSendQuoteOnlyPrinter(t *testing.T) {
	conversations := new(mockConversationRepo)
	svc := newNegotiationService(conversations, new(mockProjectRepo), new(mockContractStore))
	ctx := context.Background()

	clientID := uuid.New()
	conversation := activeConversation(clientID, uuid.New())
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)

	_, err := svc.SendQuote(ctx, clientID, conversation.ID, QuoteInput{TotalPrice: 100, Quantity: 1})
	assert.True(t, apperror.IsForbidden(err))
}

func TestSendQuoteSuccess(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	printerID := uuid.New()
	conversation := activeConversation(uuid.New(), printerID)
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	projects.On("GetByID", ctx, conversation.ProjectID).
		Return(&models.Project{ID: conversation.ProjectID, ClientID: conversation.ClientID, Status: models.ProjectStatusOpen}, nil)
	conversations.On("Save", ctx, conversation).Return(nil)

	updated, err := svc.SendQuote(ctx, printerID, conversation.ID, QuoteInput{
		UnitPrice:  10,
		Quantity:   10,
		TotalPrice: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ConversationStatusQuoteSent, updated.Status)
	require.NotNil(t, updated.CurrentQuote)
	assert.Equal(t, printerID, updated.CurrentQuote.SentBy)
	conversations.AssertExpectations(t)
}

func TestSendQuoteProjectClosed(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	printerID := uuid.New()
	conversation := activeConversation(uuid.New(), printerID)
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	// Клиент уже нашёл печатника: проект закрыт для новых предложений.
	projects.On("GetByID", ctx, conversation.ProjectID).
		Return(&models.Project{ID: conversation.ProjectID, Status: models.ProjectStatusOpen, PrinterFound: true}, nil)

	_, err := svc.SendQuote(ctx, printerID, conversation.ID, QuoteInput{TotalPrice: 100, Quantity: 1})
	assert.True(t, apperror.IsInvalidState(err))
	projects.AssertExpectations(t)
	conversations.AssertNotCalled(t, "Save")
}

func TestCounterQuoteProjectClosed(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	clientID := uuid.New()
	conversation := activeConversation(clientID, uuid.New())
	conversation.Status = models.ConversationStatusQuoteSent
	conversation.CurrentQuote = &models.Quote{TotalPrice: 100, SentBy: conversation.PrinterID, Version: 1}
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	projects.On("GetByID", ctx, conversation.ProjectID).
		Return(&models.Project{ID: conversation.ProjectID, Status: models.ProjectStatusOpen, PrinterFound: true}, nil)

	_, err := svc.CounterQuote(ctx, clientID, conversation.ID, QuoteInput{TotalPrice: 90, Quantity: 1})
	assert.True(t, apperror.IsInvalidState(err))
	conversations.AssertNotCalled(t, "Save")
}

func TestStartConversationReopensWithdrawn(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	printerID := uuid.New()
	project := &models.Project{ID: uuid.New(), ClientID: uuid.New(), Status: models.ProjectStatusOpen}

	reason := "предложение отозвано печатником"
	cancelledAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	withdrawn := &models.Conversation{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		ClientID:     project.ClientID,
		PrinterID:    printerID,
		Status:       models.ConversationStatusCancelledByPrinter,
		CancelledBy:  &printerID,
		CancelReason: &reason,
		CancelledAt:  &cancelledAt,
		Version:      3,
	}

	projects.On("GetByID", ctx, project.ID).Return(project, nil)
	conversations.On("Create", ctx, mock.AnythingOfType("*models.Conversation")).
		Return(repository.ErrVersionConflict)
	conversations.On("GetByProjectAndPrinter", ctx, project.ID, printerID).Return(withdrawn, nil)
	conversations.On("Save", ctx, withdrawn).Return(nil)

	conversation, err := svc.StartConversation(ctx, printerID, project.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ConversationStatusPending, conversation.Status)
	assert.Nil(t, conversation.CancelledBy)
	assert.Nil(t, conversation.CancelReason)
	assert.Nil(t, conversation.CancelledAt)
	conversations.AssertExpectations(t)
}

func TestCancelByMediationCancelsContract(t *testing.T) {
	conversations := new(mockConversationRepo)
	contracts := new(mockContractStore)
	svc := newNegotiationService(conversations, new(mockProjectRepo), contracts)
	ctx := context.Background()

	mediatorID := uuid.New()
	signedAt := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	conversation := activeConversation(uuid.New(), uuid.New())
	conversation.Status = models.ConversationStatusSigned
	conversation.ClientSignedAt = &signedAt
	conversation.PrinterSignedAt = &signedAt

	contract := &models.Contract{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		Status:         models.ContractStatusSigned,
	}

	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	conversations.On("Save", ctx, conversation).Return(nil)
	contracts.On("GetActiveByConversation", ctx, conversation.ID).Return(contract, nil)
	contracts.On("SaveTransition", ctx, contract, models.ContractStatusSigned).Return(nil)

	updated, err := svc.CancelByMediation(ctx, mediatorID, conversation.ID, "спор решён возвратом")
	require.NoError(t, err)

	assert.Equal(t, models.ConversationStatusCancelledMediation, updated.Status)
	assert.Equal(t, models.ContractStatusCancelled, contract.Status)
	assert.NotNil(t, contract.CancelledAt)
	contracts.AssertExpectations(t)
}

func TestCancelByMediationWithoutContract(t *testing.T) {
	conversations := new(mockConversationRepo)
	contracts := new(mockContractStore)
	svc := newNegotiationService(conversations, new(mockProjectRepo), contracts)
	ctx := context.Background()

	conversation := activeConversation(uuid.New(), uuid.New())
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	conversations.On("Save", ctx, conversation).Return(nil)
	contracts.On("GetActiveByConversation", ctx, conversation.ID).
		Return(nil, repository.ErrContractNotFound)

	_, err := svc.CancelByMediation(ctx, uuid.New(), conversation.ID, "переговоры зашли в тупик")
	require.NoError(t, err)
	contracts.AssertNotCalled(t, "SaveTransition")
}

func TestAcceptOwnQuoteRejected(t *testing.T) {
	conversations := new(mockConversationRepo)
	svc := newNegotiationService(conversations, new(mockProjectRepo), new(mockContractStore))
	ctx := context.Background()

	printerID := uuid.New()
	conversation := activeConversation(uuid.New(), printerID)
	conversation.Status = models.ConversationStatusQuoteSent
	conversation.CurrentQuote = &models.Quote{TotalPrice: 100, SentBy: printerID, Version: 1}
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)

	_, err := svc.AcceptQuote(ctx, printerID, conversation.ID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestSignSecondPartyCreatesContract(t *testing.T) {
	conversations := new(mockConversationRepo)
	contracts := new(mockContractStore)
	svc := newNegotiationService(conversations, new(mockProjectRepo), contracts)
	ctx := context.Background()

	clientID := uuid.New()
	printerID := uuid.New()
	signedAt := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)

	conversation := activeConversation(clientID, printerID)
	conversation.Status = models.ConversationStatusQuoteAccepted
	conversation.CurrentQuote = &models.Quote{TotalPrice: 100, SentBy: printerID, Version: 1}
	conversation.PrinterSignedAt = &signedAt

	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	conversations.On("Save", ctx, conversation).Return(nil)
	contracts.On("Create", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	updated, contract, err := svc.Sign(ctx, clientID, conversation.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ConversationStatusSigned, updated.Status)
	require.NotNil(t, contract)
	assert.Equal(t, models.ContractStatusPendingSignature, contract.Status)
	assert.InDelta(t, 100.0, contract.AgreedPrice, 0.001)
	assert.InDelta(t, 10.0, contract.PlatformCommission, 0.001)
	assert.InDelta(t, 110.0, contract.TotalPaid, 0.001)
	assert.InDelta(t, 100.0, contract.PrinterEarnings, 0.001)
	contracts.AssertExpectations(t)
}

func TestSignFirstPartyNoContract(t *testing.T) {
	conversations := new(mockConversationRepo)
	contracts := new(mockContractStore)
	svc := newNegotiationService(conversations, new(mockProjectRepo), contracts)
	ctx := context.Background()

	clientID := uuid.New()
	conversation := activeConversation(clientID, uuid.New())
	conversation.Status = models.ConversationStatusQuoteAccepted
	conversation.CurrentQuote = &models.Quote{TotalPrice: 100, Version: 1}

	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	conversations.On("Save", ctx, conversation).Return(nil)

	_, contract, err := svc.Sign(ctx, clientID, conversation.ID)
	require.NoError(t, err)
	assert.Nil(t, contract)
	contracts.AssertNotCalled(t, "Create")
}

func TestSaveVersionConflictMapped(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	printerID := uuid.New()
	conversation := activeConversation(uuid.New(), printerID)
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	projects.On("GetByID", ctx, conversation.ProjectID).
		Return(&models.Project{ID: conversation.ProjectID, Status: models.ProjectStatusOpen}, nil)
	conversations.On("Save", ctx, conversation).Return(repository.ErrVersionConflict)

	_, err := svc.SendQuote(ctx, printerID, conversation.ID, QuoteInput{TotalPrice: 50, Quantity: 1})
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
}

func TestRefuseAddsPrinterToRefusedList(t *testing.T) {
	conversations := new(mockConversationRepo)
	projects := new(mockProjectRepo)
	svc := newNegotiationService(conversations, projects, new(mockContractStore))
	ctx := context.Background()

	clientID := uuid.New()
	conversation := activeConversation(clientID, uuid.New())
	conversations.On("GetByID", ctx, conversation.ID).Return(conversation, nil)
	conversations.On("Save", ctx, conversation).Return(nil)
	projects.On("AddRefusedPrinter", ctx, conversation.ProjectID, conversation.PrinterID).Return(nil)

	updated, err := svc.Refuse(ctx, clientID, conversation.ID, "не подходит по срокам")
	require.NoError(t, err)

	assert.Equal(t, models.ConversationStatusCancelledByClient, updated.Status)
	projects.AssertExpectations(t)
}

func TestSweepExpiredPauses(t *testing.T) {
	conversations := new(mockConversationRepo)
	svc := newNegotiationService(conversations, new(mockProjectRepo), new(mockContractStore))
	ctx := context.Background()

	now := svc.now()
	expiredAt := now.Add(-time.Hour)

	expired := *activeConversation(uuid.New(), uuid.New())
	expired.Status = models.ConversationStatusPaused
	expired.PauseExpiresAt = &expiredAt

	racing := *activeConversation(uuid.New(), uuid.New())
	racing.Status = models.ConversationStatusPaused
	racing.PauseExpiresAt = &expiredAt

	conversations.On("ListExpiredPaused", ctx, now, 100).
		Return([]models.Conversation{expired, racing}, nil)
	conversations.On("Save", ctx, mock.AnythingOfType("*models.Conversation")).
		Return(nil).Once()
	conversations.On("Save", ctx, mock.AnythingOfType("*models.Conversation")).
		Return(repository.ErrVersionConflict).Once()

	swept, err := svc.SweepExpiredPauses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
}
