package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/makerlink/print3d-backend/internal/models"
)

type ContractRepository struct {
	db *sqlx.DB
}

func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create сохраняет контракт. Частичный уникальный индекс по conversation_id
// (для не отменённых контрактов) защищает от дублей при конкурентном создании.
func (r *ContractRepository) Create(ctx context.Context, ct *models.Contract) error {
	query := `
		INSERT INTO contracts (
			conversation_id, project_id, client_id, printer_id, quote,
			agreed_price, platform_commission, total_paid, printer_earnings, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		ct.ConversationID, ct.ProjectID, ct.ClientID, ct.PrinterID, ct.Quote,
		ct.AgreedPrice, ct.PlatformCommission, ct.TotalPaid, ct.PrinterEarnings, ct.Status,
	).Scan(&ct.ID, &ct.CreatedAt, &ct.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateContract
		}
		return fmt.Errorf("contract repository: create %w", err)
	}
	return nil
}

// GetByID возвращает контракт по идентификатору.
func (r *ContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var ct models.Contract
	if err := r.db.GetContext(ctx, &ct, `SELECT * FROM contracts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("contract repository: get by id %w", err)
	}
	return &ct, nil
}

// GetActiveByConversation возвращает не отменённый контракт переговоров.
func (r *ContractRepository) GetActiveByConversation(ctx context.Context, conversationID uuid.UUID) (*models.Contract, error) {
	var ct models.Contract
	err := r.db.GetContext(ctx, &ct, `
		SELECT * FROM contracts WHERE conversation_id = $1 AND status <> $2
	`, conversationID, models.ContractStatusCancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contract repository: get by conversation %w", err)
	}
	return &ct, nil
}

// ListByUser возвращает контракты стороны сделки.
func (r *ContractRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	var contracts []models.Contract
	err := r.db.SelectContext(ctx, &contracts, `
		SELECT * FROM contracts
		WHERE client_id = $1 OR printer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("contract repository: list by user %w", err)
	}
	return contracts, nil
}

// SaveTransition записывает контракт, если его статус в базе не изменился
// с момента чтения. Проигранная гонка возвращает ErrVersionConflict.
func (r *ContractRepository) SaveTransition(ctx context.Context, ct *models.Contract, fromStatus string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contracts SET
			status = $2,
			signed_at = $3, printing_started_at = $4, printing_completed_at = $5,
			photos_sent_at = $6, shipped_at = $7, delivered_at = $8,
			completed_at = $9, cancelled_at = $10,
			printer_paid = $11, payout_id = $12,
			updated_at = NOW()
		WHERE id = $1 AND status = $13
	`, ct.ID, ct.Status,
		ct.SignedAt, ct.PrintingStartedAt, ct.PrintingCompletedAt,
		ct.PhotosSentAt, ct.ShippedAt, ct.DeliveredAt,
		ct.CompletedAt, ct.CancelledAt,
		ct.PrinterPaid, ct.PayoutID, fromStatus)
	if err != nil {
		return fmt.Errorf("contract repository: save transition %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("contract repository: save transition rows affected %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}
