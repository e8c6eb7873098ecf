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
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
	"github.com/makerlink/print3d-backend/internal/repository"
	"github.com/makerlink/print3d-backend/internal/validation"
)

// События, рассылаемые сторонам переговоров.
const (
	EventQuoteSent             = "quote_sent"
	EventQuoteAccepted         = "quote_accepted"
	EventQuoteRejected         = "quote_rejected"
	EventConversationSigned    = "conversation_signed"
	EventContractCreated       = "contract_created"
	EventConversationCancelled = "conversation_cancelled"
	EventConversationPaused    = "conversation_paused"
	EventConversationResumed   = "conversation_resumed"
	EventMediationRequested    = "mediation_requested"
	EventPaymentConfirmed      = "payment_confirmed"
	EventProductionUpdate      = "production_update"
	EventOrderDelivered        = "order_delivered"
	EventPayoutProcessed       = "payout_processed"
	EventComplianceWarning     = "compliance_warning"
	EventAccountBlocked        = "account_blocked"
)

// Notifier доставляет событие пользователю (WebSocket + журнал уведомлений).
type Notifier interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// ConversationRepositoryIface описывает хранилище переговоров.
type ConversationRepositoryIface interface {
	Create(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetByProjectAndPrinter(ctx context.Context, projectID, printerID uuid.UUID) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Conversation, error)
	Save(ctx context.Context, c *models.Conversation) error
	ListExpiredPaused(ctx context.Context, now time.Time, limit int) ([]models.Conversation, error)
}

// ContractStore создаёт контракт при обоюдном подписании и расторгает
// его при медиации.
type ContractStore interface {
	Create(ctx context.Context, ct *models.Contract) error
	GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*models.Contract, error)
	SaveTransition(ctx context.Context, ct *models.Contract, fromStatus string) error
}

// NegotiationService управляет жизненным циклом переговоров: предложения,
// встречные предложения, подписание, отмена, пауза и медиация.
type NegotiationService struct {
	conversations ConversationRepositoryIface
	projects      ProjectRepositoryIface
	contracts     ContractStore
	notifier      Notifier
	recovery      *goroutine.RecoveryHandler
	now           func() time.Time
}

// NewNegotiationService создаёт сервис переговоров.
func NewNegotiationService(
	conversations ConversationRepositoryIface,
	projects ProjectRepositoryIface,
	contracts ContractStore,
	notifier Notifier,
	recovery *goroutine.RecoveryHandler,
) *NegotiationService {
	return &NegotiationService{
		conversations: conversations,
		projects:      projects,
		contracts:     contracts,
		notifier:      notifier,
		recovery:      recovery,
		now:           time.Now,
	}
}

// QuoteInput — данные предложения от стороны переговоров.
type QuoteInput struct {
	UnitPrice    float64
	Quantity     int
	TotalPrice   float64
	Materials    []string
	DeliveryDays int
	ShippingCost float64
	Options      map[string]string
}

// StartConversation открывает переговоры печатника по проекту клиента.
func (s *NegotiationService) StartConversation(ctx context.Context, printerID, projectID uuid.UUID) (*models.Conversation, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, apperror.ErrProjectNotFound
		}
		return nil, err
	}

	if project.Status != models.ProjectStatusOpen {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "проект закрыт для новых предложений")
	}
	if project.PrinterFound {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "клиент уже нашёл печатника для этого проекта")
	}
	if project.HasRefused(printerID) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "клиент отказался от услуг этого печатника")
	}
	if project.ClientID == printerID {
		return nil, apperror.NewBadRequest("нельзя открыть переговоры по собственному проекту")
	}

	conversation := &models.Conversation{
		ProjectID: projectID,
		ClientID:  project.ClientID,
		PrinterID: printerID,
		Status:    models.ConversationStatusPending,
	}

	if err := s.conversations.Create(ctx, conversation); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			existing, getErr := s.conversations.GetByProjectAndPrinter(ctx, projectID, printerID)
			if getErr == nil {
				// Отозвавший предложение печатник вправе вернуться:
				// закрытая им запись открывается заново.
				if existing.Status == models.ConversationStatusCancelledByPrinter {
					if appErr := existing.Reopen(); appErr != nil {
						return nil, appErr
					}
					if saveErr := s.conversations.Save(ctx, existing); saveErr != nil {
						return nil, s.mapSaveError(saveErr)
					}
				}
				return existing, nil
			}
		}
		return nil, err
	}

	return conversation, nil
}

// GetConversation возвращает переговоры стороне-участнику.
func (s *NegotiationService) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}
	return conversation, nil
}

// ListConversations возвращает переговоры пользователя.
func (s *NegotiationService) ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.conversations.ListByUser(ctx, userID, limit, offset)
}

// SendQuote — печатник выставляет предложение.
func (s *NegotiationService) SendQuote(ctx context.Context, printerID, conversationID uuid.UUID, in QuoteInput) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if printerID != conversation.PrinterID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "первичное предложение выставляет печатник")
	}
	if err := s.ensureProjectOpenForQuotes(ctx, conversation.ProjectID); err != nil {
		return nil, err
	}
	if err := validateQuoteInput(in); err != nil {
		return nil, err
	}

	if appErr := conversation.SendQuote(quoteFromInput(in), printerID, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(conversation.ClientID, EventQuoteSent, conversation)
	return conversation, nil
}

// CounterQuote — встречное предложение любой из сторон.
func (s *NegotiationService) CounterQuote(ctx context.Context, userID, conversationID uuid.UUID, in QuoteInput) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}
	if err := s.ensureProjectOpenForQuotes(ctx, conversation.ProjectID); err != nil {
		return nil, err
	}
	if err := validateQuoteInput(in); err != nil {
		return nil, err
	}

	if appErr := conversation.CounterQuote(quoteFromInput(in), userID, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(s.counterparty(conversation, userID), EventQuoteSent, conversation)
	return conversation, nil
}

// AcceptQuote принимает текущее предложение. Свою же оферту принять нельзя.
func (s *NegotiationService) AcceptQuote(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}
	if conversation.CurrentQuote != nil && conversation.CurrentQuote.SentBy == userID {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "нельзя принять собственное предложение")
	}

	if appErr := conversation.AcceptQuote(); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(s.counterparty(conversation, userID), EventQuoteAccepted, conversation)
	return conversation, nil
}

// RejectQuote отклоняет текущее предложение с указанием причины.
func (s *NegotiationService) RejectQuote(ctx context.Context, userID, conversationID uuid.UUID, reason string) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}

	if appErr := conversation.RejectQuote(reason); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(s.counterparty(conversation, userID), EventQuoteRejected, conversation)
	return conversation, nil
}

// Sign фиксирует подпись стороны. Когда подписали обе стороны, создаётся
// контракт с зафиксированным разбиением сумм.
func (s *NegotiationService) Sign(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, *models.Contract, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	becameSigned, appErr := conversation.Sign(userID, s.now())
	if appErr != nil {
		return nil, nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, nil, s.mapSaveError(err)
	}

	var contract *models.Contract
	if becameSigned {
		contract, err = s.createContract(ctx, conversation)
		if err != nil {
			return nil, nil, err
		}
		s.notify(conversation.ClientID, EventContractCreated, contract)
		s.notify(conversation.PrinterID, EventContractCreated, contract)
	} else {
		s.notify(s.counterparty(conversation, userID), EventConversationSigned, conversation)
	}

	return conversation, contract, nil
}

// Cancel отменяет переговоры по инициативе стороны либо по обоюдному согласию.
func (s *NegotiationService) Cancel(ctx context.Context, userID, conversationID uuid.UUID, reason string, mutual bool) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}

	if appErr := conversation.Cancel(userID, reason, mutual, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(s.counterparty(conversation, userID), EventConversationCancelled, conversation)
	return conversation, nil
}

// Withdraw — печатник отзывает своё предложение.
func (s *NegotiationService) Withdraw(ctx context.Context, printerID, conversationID uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if appErr := conversation.Withdraw(printerID, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(conversation.ClientID, EventConversationCancelled, conversation)
	return conversation, nil
}

// Refuse — клиент отказывается от печатника. Печатник попадает в список
// отказов проекта и больше не может открыть переговоры по нему.
func (s *NegotiationService) Refuse(ctx context.Context, clientID, conversationID uuid.UUID, reason string) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if appErr := conversation.Refuse(clientID, reason, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	if err := s.projects.AddRefusedPrinter(ctx, conversation.ProjectID, conversation.PrinterID); err != nil {
		logger.Log.WithError(err).WithField("project_id", conversation.ProjectID).
			Warn("не удалось добавить печатника в список отказов проекта")
	}

	s.notify(conversation.PrinterID, EventConversationCancelled, conversation)
	return conversation, nil
}

// Pause ставит переговоры на паузу на 30 дней.
func (s *NegotiationService) Pause(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}

	if appErr := conversation.Pause(userID, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(s.counterparty(conversation, userID), EventConversationPaused, conversation)
	return conversation, nil
}

// Resume снимает паузу. Доступно обеим сторонам.
func (s *NegotiationService) Resume(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}

	if appErr := conversation.Resume(); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(s.counterparty(conversation, userID), EventConversationResumed, conversation)
	return conversation, nil
}

// RequestMediation поднимает флаг медиации без смены статуса.
func (s *NegotiationService) RequestMediation(ctx context.Context, userID, conversationID uuid.UUID, reason string) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if appErr := conversation.RequestMediation(userID, reason, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	s.notify(s.counterparty(conversation, userID), EventMediationRequested, conversation)
	return conversation, nil
}

// CancelByMediation — привилегированное расторжение администратором.
func (s *NegotiationService) CancelByMediation(ctx context.Context, mediatorID, conversationID uuid.UUID, reason string) (*models.Conversation, error) {
	conversation, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if appErr := conversation.CancelByMediation(mediatorID, reason, s.now()); appErr != nil {
		return nil, appErr
	}

	if err := s.conversations.Save(ctx, conversation); err != nil {
		return nil, s.mapSaveError(err)
	}

	// Расторжение после подписания закрывает и денежный контракт.
	if err := s.cancelActiveContract(ctx, conversation.ID); err != nil {
		return nil, err
	}

	s.notify(conversation.ClientID, EventConversationCancelled, conversation)
	s.notify(conversation.PrinterID, EventConversationCancelled, conversation)
	return conversation, nil
}

// SweepExpiredPauses отменяет переговоры с истёкшей паузой. Возвращает число
// отменённых. Проигранная гонка версии пропускается: запись уже изменил кто-то
// другой.
func (s *NegotiationService) SweepExpiredPauses(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	expired, err := s.conversations.ListExpiredPaused(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range expired {
		conversation := &expired[i]
		if appErr := conversation.ExpirePause(s.now()); appErr != nil {
			continue
		}
		if err := s.conversations.Save(ctx, conversation); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return swept, err
		}
		swept++
		s.notify(conversation.ClientID, EventConversationCancelled, conversation)
		s.notify(conversation.PrinterID, EventConversationCancelled, conversation)
	}

	return swept, nil
}

// createContract порождает контракт из подписанных переговоров.
// Разбиение сумм фиксируется здесь и больше никогда не пересчитывается.
func (s *NegotiationService) createContract(ctx context.Context, c *models.Conversation) (*models.Contract, error) {
	if c.CurrentQuote == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "подписанные переговоры без предложения")
	}

	agreed := money.Round2(c.CurrentQuote.TotalPrice)
	contract := &models.Contract{
		ConversationID:     c.ID,
		ProjectID:          c.ProjectID,
		ClientID:           c.ClientID,
		PrinterID:          c.PrinterID,
		Quote:              *c.CurrentQuote,
		AgreedPrice:        agreed,
		PlatformCommission: money.Commission(agreed),
		TotalPaid:          money.TotalWithCommission(agreed),
		PrinterEarnings:    money.PrinterShare(agreed),
		Status:             models.ContractStatusPendingSignature,
	}

	if err := s.contracts.Create(ctx, contract); err != nil {
		if errors.Is(err, repository.ErrDuplicateContract) {
			return nil, apperror.New(apperror.ErrCodeConflict, "по переговорам уже существует контракт")
		}
		return nil, err
	}

	return contract, nil
}

func (s *NegotiationService) load(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, apperror.ErrConversationNotFound
		}
		return nil, err
	}
	return conversation, nil
}

// cancelActiveContract расторгает не отменённый контракт переговоров, если
// он есть. Завершённый контракт не трогается: выплаченные деньги не отзываются.
func (s *NegotiationService) cancelActiveContract(ctx context.Context, conversationID uuid.UUID) error {
	contract, err := s.contracts.GetActiveByConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil
		}
		return err
	}

	fromStatus := contract.Status
	if appErr := contract.Cancel(s.now()); appErr != nil {
		return nil
	}
	if err := s.contracts.SaveTransition(ctx, contract, fromStatus); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil
		}
		return err
	}
	return nil
}

// ensureProjectOpenForQuotes запрещает новые и встречные предложения по
// проекту, где клиент уже нашёл печатника.
func (s *NegotiationService) ensureProjectOpenForQuotes(ctx context.Context, projectID uuid.UUID) error {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return apperror.ErrProjectNotFound
		}
		return err
	}
	if project.PrinterFound {
		return apperror.New(apperror.ErrCodeInvalidState,
			"клиент уже нашёл печатника, проект закрыт для предложений")
	}
	return nil
}

func (s *NegotiationService) mapSaveError(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return apperror.New(apperror.ErrCodeConflict, "переговоры изменены параллельно, повторите операцию")
	}
	return err
}

func (s *NegotiationService) counterparty(c *models.Conversation, userID uuid.UUID) uuid.UUID {
	if userID == c.ClientID {
		return c.PrinterID
	}
	return c.ClientID
}

// notify отправляет событие, не блокируя основную операцию.
func (s *NegotiationService) notify(userID uuid.UUID, event string, data any) {
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

func validateQuoteInput(in QuoteInput) error {
	if err := validation.ValidateQuotePrice(in.TotalPrice); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	if err := validation.ValidateQuantity(in.Quantity); err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	if in.ShippingCost < 0 {
		return apperror.NewBadRequest("стоимость доставки не может быть отрицательной")
	}
	return nil
}

func quoteFromInput(in QuoteInput) models.Quote {
	return models.Quote{
		UnitPrice:    in.UnitPrice,
		Quantity:     in.Quantity,
		TotalPrice:   in.TotalPrice,
		Materials:    in.Materials,
		DeliveryDays: in.DeliveryDays,
		ShippingCost: in.ShippingCost,
		Options:      in.Options,
	}
}
