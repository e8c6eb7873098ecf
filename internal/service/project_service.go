package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
	"github.com/makerlink/print3d-backend/internal/repository"
	"github.com/makerlink/print3d-backend/internal/validation"
)

// ProjectRepositoryIface описывает хранилище проектов.
type ProjectRepositoryIface interface {
	Create(ctx context.Context, p *models.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Project, error)
	ListOpen(ctx context.Context, limit, offset int) ([]models.Project, error)
	SetPrinterFound(ctx context.Context, projectID uuid.UUID) error
	AddRefusedPrinter(ctx context.Context, projectID, printerID uuid.UUID) error
}

// ProjectService управляет заявками клиентов на печать.
type ProjectService struct {
	repo ProjectRepositoryIface
}

func NewProjectService(repo ProjectRepositoryIface) *ProjectService {
	return &ProjectService{repo: repo}
}

// CreateProjectInput содержит данные новой заявки.
type CreateProjectInput struct {
	Title         string
	Description   string
	Quantity      int
	Material      *string
	ModelFileURL  *string
	ModelFileSize *int64
}

// CreateProject создаёт заявку клиента.
func (s *ProjectService) CreateProject(ctx context.Context, clientID uuid.UUID, in CreateProjectInput) (*models.Project, error) {
	if err := validation.ValidateProjectTitle(in.Title); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}
	if err := validation.ValidateProjectDescription(in.Description); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}
	if err := validation.ValidateQuantity(in.Quantity); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	project := &models.Project{
		ClientID:      clientID,
		Title:         in.Title,
		Description:   in.Description,
		Quantity:      in.Quantity,
		Material:      in.Material,
		ModelFileURL:  in.ModelFileURL,
		ModelFileSize: in.ModelFileSize,
		Status:        models.ProjectStatusOpen,
	}

	if err := s.repo.Create(ctx, project); err != nil {
		return nil, err
	}

	return project, nil
}

// GetProject возвращает проект.
func (s *ProjectService) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, apperror.ErrProjectNotFound
		}
		return nil, err
	}
	return project, nil
}

// ListClientProjects возвращает проекты клиента.
func (s *ProjectService) ListClientProjects(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByClient(ctx, clientID, limit, offset)
}

// ListOpenProjects возвращает открытые проекты для печатников.
func (s *ProjectService) ListOpenProjects(ctx context.Context, limit, offset int) ([]models.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListOpen(ctx, limit, offset)
}

// MarkPrinterFound закрывает проект для новых предложений. Доступно владельцу.
func (s *ProjectService) MarkPrinterFound(ctx context.Context, clientID, projectID uuid.UUID) (*models.Project, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}

	if err := s.repo.SetPrinterFound(ctx, projectID); err != nil {
		return nil, err
	}

	project.PrinterFound = true
	return project, nil
}
