package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/makerlink/print3d-backend/internal/models"
)

type ProjectRepository struct {
	db *sqlx.DB
}

func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create сохраняет новый проект.
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (client_id, title, description, model_file_url, model_file_size, quantity, material, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		p.ClientID, p.Title, p.Description, p.ModelFileURL, p.ModelFileSize, p.Quantity, p.Material, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("project repository: create %w", err)
	}
	return nil
}

// GetByID возвращает проект по идентификатору.
func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM projects WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("project repository: get by id %w", err)
	}
	return &p, nil
}

// ListByClient возвращает проекты клиента.
func (r *ProjectRepository) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.SelectContext(ctx, &projects, `
		SELECT * FROM projects WHERE client_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, clientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("project repository: list by client %w", err)
	}
	return projects, nil
}

// ListOpen возвращает открытые проекты для ленты печатников.
func (r *ProjectRepository) ListOpen(ctx context.Context, limit, offset int) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.SelectContext(ctx, &projects, `
		SELECT * FROM projects
		WHERE status = $1 AND printer_found = FALSE
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, models.ProjectStatusOpen, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("project repository: list open %w", err)
	}
	return projects, nil
}

// SetPrinterFound закрывает проект для новых предложений.
func (r *ProjectRepository) SetPrinterFound(ctx context.Context, projectID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET printer_found = TRUE, updated_at = NOW() WHERE id = $1
	`, projectID)
	if err != nil {
		return fmt.Errorf("project repository: set printer found %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// AddRefusedPrinter добавляет печатника в список отказов проекта.
func (r *ProjectRepository) AddRefusedPrinter(ctx context.Context, projectID, printerID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET refused_printers = refused_printers || to_jsonb($2::text), updated_at = NOW()
		WHERE id = $1 AND NOT refused_printers @> to_jsonb($2::text)
	`, projectID, printerID.String())
	if err != nil {
		return fmt.Errorf("project repository: add refused printer %w", err)
	}
	// Ноль строк означает, что печатник уже в списке — это не ошибка.
	_ = res
	return nil
}
