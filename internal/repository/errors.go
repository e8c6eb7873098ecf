package repository

import "errors"

// Сентинельные ошибки слоя хранилища. Сервисы переводят их в apperror.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrProjectNotFound      = errors.New("project not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrContractNotFound     = errors.New("contract not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrPayoutNotFound       = errors.New("payout not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrFavoriteNotFound     = errors.New("favorite not found")
	ErrMediaNotFound        = errors.New("media not found")

	// ErrVersionConflict — проигранная гонка оптимистичной блокировки.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInsufficientFunds — запрошенная сумма превышает доступный баланс.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateContract — по переговорам уже есть не отменённый контракт.
	ErrDuplicateContract = errors.New("contract already exists for conversation")
	// ErrPayoutInFlight — у продавца уже есть незавершённая выплата.
	ErrPayoutInFlight = errors.New("payout already in flight")
	// ErrAlreadyConfirmed — транзакция уже подтверждена, повторное действие не требуется.
	ErrAlreadyConfirmed = errors.New("transaction already confirmed")
)
