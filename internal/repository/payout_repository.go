package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/makerlink/print3d-backend/internal/models"
)

type PayoutRepository struct {
	db *sqlx.DB
}

func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// Create создаёт заявку на выплату: атомарно проверяет single-flight
// инвариант, резервирует сумму (оптимистичное списание available) и
// снимает до 100 контрактов delivered_confirmed для закрытия этой выплатой.
// Частичный уникальный индекс по (printer_id) для pending/processing страхует
// от гонки двух конкурентных заявок.
func (r *PayoutRepository) Create(ctx context.Context, p *models.Payout) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Явная проверка под блокировкой строки продавца.
	var inFlight bool
	err = tx.GetContext(ctx, &inFlight, `
		SELECT EXISTS(
			SELECT 1 FROM payouts
			WHERE printer_id = $1 AND status IN ($2, $3)
		)
	`, p.PrinterID, models.PayoutStatusPending, models.PayoutStatusProcessing)
	if err != nil {
		return fmt.Errorf("payout repository: create check in-flight %w", err)
	}
	if inFlight {
		return ErrPayoutInFlight
	}

	var available float64
	err = tx.GetContext(ctx, &available,
		`SELECT balance_available FROM users WHERE id = $1 FOR UPDATE`, p.PrinterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("payout repository: create lock printer %w", err)
	}
	if available < p.Amount {
		return ErrInsufficientFunds
	}

	// Оптимистичное резервирование: available уменьшается сразу,
	// total — только после фактического завершения выплаты.
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_available = balance_available - $2, updated_at = NOW()
		WHERE id = $1
	`, p.PrinterID, p.Amount)
	if err != nil {
		return fmt.Errorf("payout repository: create reserve %w", err)
	}

	// Снимок закрываемых контрактов.
	var contractIDs []uuid.UUID
	err = tx.SelectContext(ctx, &contractIDs, `
		SELECT id FROM contracts
		WHERE printer_id = $1 AND status = $2 AND printer_paid = FALSE
		ORDER BY delivered_at LIMIT $3
	`, p.PrinterID, models.ContractStatusDeliveredConfirmed, models.MaxPayoutContracts)
	if err != nil {
		return fmt.Errorf("payout repository: create snapshot contracts %w", err)
	}
	p.ContractIDs = contractIDs

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO payouts (printer_id, amount, bank_name, iban_last4, account_holder, status, contract_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, p.PrinterID, p.Amount, p.BankName, p.IBANLast4, p.AccountHolder, p.Status, p.ContractIDs).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrPayoutInFlight
		}
		return fmt.Errorf("payout repository: create insert %w", err)
	}

	return tx.Commit()
}

// GetByID возвращает выплату.
func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var p models.Payout
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM payouts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("payout repository: get by id %w", err)
	}
	return &p, nil
}

// ListByPrinter возвращает выплаты продавца.
func (r *PayoutRepository) ListByPrinter(ctx context.Context, printerID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.SelectContext(ctx, &payouts, `
		SELECT * FROM payouts WHERE printer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, printerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("payout repository: list by printer %w", err)
	}
	return payouts, nil
}

// SetProcessing переводит выплату pending -> processing перед обращением к шлюзу.
func (r *PayoutRepository) SetProcessing(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var p models.Payout
	err := r.db.GetContext(ctx, &p, `
		UPDATE payouts SET status = $2 WHERE id = $1 AND status = $3
		RETURNING *
	`, id, models.PayoutStatusProcessing, models.PayoutStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("payout repository: set processing %w", err)
	}
	return &p, nil
}

// Complete завершает выплату: фиксирует перевод, списывает сумму из total
// и помечает закрытые контракты как оплаченные продавцу.
func (r *PayoutRepository) Complete(ctx context.Context, id uuid.UUID, transferID string, now time.Time) (*models.Payout, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var p models.Payout
	err = tx.GetContext(ctx, &p, `
		UPDATE payouts SET status = $2, transfer_id = $3, processed_at = $4
		WHERE id = $1 AND status = $5
		RETURNING *
	`, id, models.PayoutStatusCompleted, transferID, now, models.PayoutStatusProcessing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("payout repository: complete %w", err)
	}

	// Резерв окончательно покидает баланс продавца.
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_total = balance_total - $2, updated_at = NOW()
		WHERE id = $1
	`, p.PrinterID, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("payout repository: complete debit total %w", err)
	}

	if len(p.ContractIDs) > 0 {
		ids := make([]string, len(p.ContractIDs))
		for i, cid := range p.ContractIDs {
			ids[i] = cid.String()
		}
		var contracts []models.Contract
		err = tx.SelectContext(ctx, &contracts,
			`SELECT * FROM contracts WHERE id = ANY($1::uuid[]) FOR UPDATE`, pq.Array(ids))
		if err != nil {
			return nil, fmt.Errorf("payout repository: complete lock contracts %w", err)
		}
		for i := range contracts {
			ct := &contracts[i]
			// Контракт, изменённый после снятия в выплату, пропускаем:
			// переход закрывает модель, она же отклонит повторное закрытие.
			if appErr := ct.Complete(p.ID, now); appErr != nil {
				continue
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE contracts
				SET printer_paid = TRUE, payout_id = $2, status = $3, completed_at = $4, updated_at = NOW()
				WHERE id = $1
			`, ct.ID, p.ID, ct.Status, ct.CompletedAt)
			if err != nil {
				return nil, fmt.Errorf("payout repository: complete mark contract %w", err)
			}
		}
	}

	return &p, tx.Commit()
}

// Fail фиксирует ошибку перевода и возвращает зарезервированную сумму
// на available продавца. Компенсирующее начисление обязано для каждого
// оптимистичного списания из Create.
func (r *PayoutRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage, errorCode string, now time.Time) (*models.Payout, error) {
	return r.releaseReservation(ctx, id, models.PayoutStatusFailed, models.PayoutStatusProcessing, &errorMessage, &errorCode, now)
}

// Cancel отменяет выплату. Доступно только из pending: начатый перевод
// остановить нельзя.
func (r *PayoutRepository) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (*models.Payout, error) {
	return r.releaseReservation(ctx, id, models.PayoutStatusCancelled, models.PayoutStatusPending, nil, nil, now)
}

func (r *PayoutRepository) releaseReservation(ctx context.Context, id uuid.UUID, toStatus, fromStatus string, errorMessage, errorCode *string, now time.Time) (*models.Payout, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var p models.Payout
	err = tx.GetContext(ctx, &p, `
		UPDATE payouts SET status = $2, error_message = $3, error_code = $4, processed_at = $5
		WHERE id = $1 AND status = $6
		RETURNING *
	`, id, toStatus, errorMessage, errorCode, now, fromStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("payout repository: release reservation %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET balance_available = balance_available + $2, updated_at = NOW()
		WHERE id = $1
	`, p.PrinterID, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("payout repository: release credit back %w", err)
	}

	return &p, tx.Commit()
}
