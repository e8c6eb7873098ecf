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

type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create сохраняет новые переговоры. На пару (проект, печатник) — не более одной записи.
func (r *ConversationRepository) Create(ctx context.Context, c *models.Conversation) error {
	query := `
		INSERT INTO conversations (project_id, client_id, printer_id, status, quote_history)
		VALUES ($1, $2, $3, $4, '[]'::jsonb)
		ON CONFLICT (project_id, printer_id) DO NOTHING
		RETURNING id, version, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, c.ProjectID, c.ClientID, c.PrinterID, c.Status).
		Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("conversation repository: create: %w", ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("conversation repository: create %w", err)
	}
	return nil
}

// GetByID возвращает переговоры по идентификатору.
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.db.GetContext(ctx, &c, `SELECT * FROM conversations WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation repository: get by id %w", err)
	}
	return &c, nil
}

// GetByProjectAndPrinter возвращает переговоры по паре (проект, печатник).
func (r *ConversationRepository) GetByProjectAndPrinter(ctx context.Context, projectID, printerID uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.GetContext(ctx, &c,
		`SELECT * FROM conversations WHERE project_id = $1 AND printer_id = $2`, projectID, printerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation repository: get by project and printer %w", err)
	}
	return &c, nil
}

// ListByUser возвращает переговоры, где пользователь — клиент или печатник.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.SelectContext(ctx, &conversations, `
		SELECT * FROM conversations
		WHERE client_id = $1 OR printer_id = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("conversation repository: list by user %w", err)
	}
	return conversations, nil
}

// Save записывает переговоры с проверкой версии. Две конкурентные операции
// читают одну версию, но сохраняется только первая; вторая получает
// ErrVersionConflict и должна перечитать запись.
func (r *ConversationRepository) Save(ctx context.Context, c *models.Conversation) error {
	query := `
		UPDATE conversations SET
			status = :status,
			current_quote = :current_quote,
			quote_history = :quote_history,
			counter_offer_count = :counter_offer_count,
			client_signed_at = :client_signed_at,
			printer_signed_at = :printer_signed_at,
			printing_started_at = :printing_started_at,
			printing_completed_at = :printing_completed_at,
			photos_shared_at = :photos_shared_at,
			order_shipped_at = :order_shipped_at,
			paused_by = :paused_by,
			paused_at = :paused_at,
			pause_expires_at = :pause_expires_at,
			status_before_pause = :status_before_pause,
			cancelled_by = :cancelled_by,
			cancel_reason = :cancel_reason,
			cancelled_at = :cancelled_at,
			mediation_requested_by = :mediation_requested_by,
			mediation_reason = :mediation_reason,
			mediation_requested_at = :mediation_requested_at,
			version = version + 1,
			updated_at = NOW()
		WHERE id = :id AND version = :version
	`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, c)
	if err != nil {
		return fmt.Errorf("conversation repository: save %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation repository: save rows affected %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	c.Version++
	return nil
}

// ListExpiredPaused возвращает переговоры с истёкшей паузой для метлы.
func (r *ConversationRepository) ListExpiredPaused(ctx context.Context, now time.Time, limit int) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.SelectContext(ctx, &conversations, `
		SELECT * FROM conversations
		WHERE status = $1 AND pause_expires_at <= $2
		ORDER BY pause_expires_at LIMIT $3
	`, models.ConversationStatusPaused, now, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation repository: list expired paused %w", err)
	}
	return conversations, nil
}
