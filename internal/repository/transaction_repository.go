package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/makerlink/print3d-backend/internal/models"
)

type TransactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create сохраняет транзакцию. Разбиение комиссии уже вычислено сервисом
// и дальше не пересчитывается.
func (r *TransactionRepository) Create(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			contract_id, client_id, printer_id,
			amount, commission, printer_payout, total_amount,
			payment_method, balance_used, gateway_amount, gateway_intent_id, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		t.ContractID, t.ClientID, t.PrinterID,
		t.Amount, t.Commission, t.PrinterPayout, t.TotalAmount,
		t.PaymentMethod, t.BalanceUsed, t.GatewayAmount, t.GatewayIntentID, t.Status,
	).Scan(&t.ID, &t.CreatedAt); err != nil {
		return fmt.Errorf("transaction repository: create %w", err)
	}
	return nil
}

// GetByID возвращает транзакцию.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.GetContext(ctx, &t, `SELECT * FROM transactions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("transaction repository: get by id %w", err)
	}
	return &t, nil
}

// GetByGatewayIntent находит транзакцию по идентификатору авторизации шлюза.
// Используется колбэком шлюза, который приходит асинхронно.
func (r *TransactionRepository) GetByGatewayIntent(ctx context.Context, intentID string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.GetContext(ctx, &t, `SELECT * FROM transactions WHERE gateway_intent_id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction repository: get by gateway intent %w", err)
	}
	return &t, nil
}

// ListByUser возвращает транзакции стороны сделки.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE client_id = $1 OR printer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: list by user %w", err)
	}
	return transactions, nil
}

// Confirm подтверждает оплату: списывает балансовую часть с клиента,
// переводит транзакцию в processing, подписывает контракт и начисляет
// продавцу pending-баланс. Идемпотентна: уже подтверждённая транзакция
// возвращает ErrAlreadyConfirmed, балансовые эффекты применяются ровно один раз.
func (r *TransactionRepository) Confirm(ctx context.Context, transactionID uuid.UUID, now time.Time) (*models.Transaction, *models.Contract, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var t models.Transaction
	err = tx.GetContext(ctx, &t, `SELECT * FROM transactions WHERE id = $1 FOR UPDATE`, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrTransactionNotFound
		}
		return nil, nil, fmt.Errorf("transaction repository: confirm lock %w", err)
	}

	if t.Status != models.TransactionStatusPending {
		return nil, nil, ErrAlreadyConfirmed
	}

	// Списываем балансовую часть с клиента (отложенное списание).
	if t.BalanceUsed > 0 {
		var available float64
		err = tx.GetContext(ctx, &available,
			`SELECT balance_available FROM users WHERE id = $1 FOR UPDATE`, t.ClientID)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction repository: confirm client lock %w", err)
		}
		if available < t.BalanceUsed {
			return nil, nil, ErrInsufficientFunds
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET balance_available = balance_available - $2,
			    balance_total = balance_total - $2,
			    updated_at = NOW()
			WHERE id = $1
		`, t.ClientID, t.BalanceUsed)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction repository: confirm debit client %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1
	`, t.ID, models.TransactionStatusProcessing)
	if err != nil {
		return nil, nil, fmt.Errorf("transaction repository: confirm update status %w", err)
	}
	t.Status = models.TransactionStatusProcessing

	// Подписываем контракт: допустимость перехода решает модель,
	// строка удерживается под блокировкой до конца транзакции.
	var ct models.Contract
	err = tx.GetContext(ctx, &ct, `SELECT * FROM contracts WHERE id = $1 FOR UPDATE`, t.ContractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrContractNotFound
		}
		return nil, nil, fmt.Errorf("transaction repository: confirm lock contract %w", err)
	}
	if appErr := ct.MarkSigned(now); appErr != nil {
		return nil, nil, ErrVersionConflict
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE contracts SET status = $2, signed_at = $3, updated_at = NOW() WHERE id = $1
	`, ct.ID, ct.Status, ct.SignedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("transaction repository: confirm sign contract %w", err)
	}

	// Начисляем продавцу held-баланс: средства видны, но не доступны к выводу.
	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET balance_pending = balance_pending + $2,
		    balance_total = balance_total + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, t.PrinterID, t.PrinterPayout)
	if err != nil {
		return nil, nil, fmt.Errorf("transaction repository: confirm credit printer %w", err)
	}

	return &t, &ct, tx.Commit()
}

// ConfirmDelivery — подтверждение доставки клиентом. Единственная точка,
// переводящая средства продавца из pending в available, завершающая
// транзакцию и инкрементирующая комплаенс-счётчики завершённых сделок.
func (r *TransactionRepository) ConfirmDelivery(ctx context.Context, contractID uuid.UUID, now time.Time) (*models.Contract, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var ct models.Contract
	err = tx.GetContext(ctx, &ct, `SELECT * FROM contracts WHERE id = $1 FOR UPDATE`, contractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("transaction repository: confirm delivery lock %w", err)
	}
	// Допустимость перехода (только из shipped) решает модель.
	if appErr := ct.ConfirmDelivery(now); appErr != nil {
		return nil, ErrVersionConflict
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE contracts SET status = $2, delivered_at = $3, updated_at = NOW() WHERE id = $1
	`, ct.ID, ct.Status, ct.DeliveredAt)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: confirm delivery %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET balance_pending = balance_pending - $2,
		    balance_available = balance_available + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, ct.PrinterID, ct.PrinterEarnings)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: confirm delivery release %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions SET status = $2, completed_at = $3
		WHERE contract_id = $1 AND status = $4
	`, ct.ID, models.TransactionStatusCompleted, now, models.TransactionStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: confirm delivery complete transaction %w", err)
	}

	// Сделка завершена — учитываем её в годовых счётчиках продавца.
	if err := recordSettledSale(ctx, tx, ct.PrinterID, ct.AgreedPrice, now); err != nil {
		return nil, err
	}

	return &ct, tx.Commit()
}

// MarkFailed переводит неподтверждённую транзакцию в failed.
// Балансы не затрагиваются: до подтверждения деньги не двигались.
func (r *TransactionRepository) MarkFailed(ctx context.Context, transactionID uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2, failure_reason = $3
		WHERE id = $1 AND status = $4
	`, transactionID, models.TransactionStatusFailed, reason, models.TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("transaction repository: mark failed %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}
