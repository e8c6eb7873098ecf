package models

import "time"

// Роли пользователей платформы.
const (
	RoleClient  = "client"
	RolePrinter = "printer"
	RoleAdmin   = "admin"
)

// ConversationStatus константы статусов переговоров.
const (
	ConversationStatusPending            = "pending"
	ConversationStatusActive             = "active"
	ConversationStatusQuoteSent          = "quote_sent"
	ConversationStatusNegotiating        = "negotiating"
	ConversationStatusQuoteAccepted      = "quote_accepted"
	ConversationStatusSigned             = "signed"
	ConversationStatusInProduction       = "in_production"
	ConversationStatusReady              = "ready"
	ConversationStatusCompleted          = "completed"
	ConversationStatusCancelledByClient  = "cancelled_by_client"
	ConversationStatusCancelledByPrinter = "cancelled_by_printer"
	ConversationStatusCancelledMutual    = "cancelled_mutual"
	ConversationStatusCancelledMediation = "cancelled_mediation"
	ConversationStatusPaused             = "paused"
)

// ContractStatus константы статусов контрактов.
const (
	ContractStatusPendingSignature   = "pending_signature"
	ContractStatusSigned             = "signed"
	ContractStatusPrintingStarted    = "printing_started"
	ContractStatusPrintingCompleted  = "printing_completed"
	ContractStatusPhotosSent         = "photos_sent"
	ContractStatusShipped            = "shipped"
	ContractStatusDeliveredConfirmed = "delivered_confirmed"
	ContractStatusCompleted          = "completed"
	ContractStatusCancelled          = "cancelled"
)

// TransactionStatus константы статусов транзакций.
const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusRefunded   = "refunded"
)

// PayoutStatus константы статусов выплат.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

// BusinessStatus константы правового статуса продавца.
const (
	BusinessStatusParticulier       = "particulier"
	BusinessStatusMicroEntrepreneur = "micro-entrepreneur"
	BusinessStatusProfessionnel     = "professionnel"
)

// Лимиты и пороги платформы.
const (
	// MaxCounterOffers — жёсткий потолок встречных предложений на переговоры.
	MaxCounterOffers = 3
	// PauseTTL — пауза истекает ровно через 30 дней.
	PauseTTL = 30 * 24 * time.Hour
	// MaxPayoutContracts — сколько контрактов закрывается одной выплатой.
	MaxPayoutContracts = 100
	// MaxAnnualRevenueParticulier — годовой потолок выручки незарегистрированного продавца.
	MaxAnnualRevenueParticulier = 3000.0
	// MaxAnnualTransactionsParticulier — годовой потолок числа сделок.
	MaxAnnualTransactionsParticulier = 20
	// ComplianceWarningThreshold — доля потолка, после которой продавцу шлётся предупреждение.
	ComplianceWarningThreshold = 0.8
)

// ValidConversationStatuses список валидных статусов переговоров.
var ValidConversationStatuses = map[string]struct{}{
	ConversationStatusPending:            {},
	ConversationStatusActive:             {},
	ConversationStatusQuoteSent:          {},
	ConversationStatusNegotiating:        {},
	ConversationStatusQuoteAccepted:      {},
	ConversationStatusSigned:             {},
	ConversationStatusInProduction:       {},
	ConversationStatusReady:              {},
	ConversationStatusCompleted:          {},
	ConversationStatusCancelledByClient:  {},
	ConversationStatusCancelledByPrinter: {},
	ConversationStatusCancelledMutual:    {},
	ConversationStatusCancelledMediation: {},
	ConversationStatusPaused:             {},
}

// ValidBusinessStatuses список валидных правовых статусов.
var ValidBusinessStatuses = map[string]struct{}{
	BusinessStatusParticulier:       {},
	BusinessStatusMicroEntrepreneur: {},
	BusinessStatusProfessionnel:     {},
}
