package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
	"github.com/makerlink/print3d-backend/internal/repository"
)

// FavoriteRepositoryIface описывает хранилище избранных печатников.
type FavoriteRepositoryIface interface {
	Add(ctx context.Context, userID, printerID uuid.UUID) (*models.Favorite, error)
	Remove(ctx context.Context, userID, printerID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Favorite, error)
	Exists(ctx context.Context, userID, printerID uuid.UUID) (bool, error)
}

// FavoriteService управляет избранными печатниками клиентов.
type FavoriteService struct {
	repo  FavoriteRepositoryIface
	users AuthRepository
}

func NewFavoriteService(repo FavoriteRepositoryIface, users AuthRepository) *FavoriteService {
	return &FavoriteService{repo: repo, users: users}
}

// Add добавляет печатника в избранное. В избранное попадают только печатники.
func (s *FavoriteService) Add(ctx context.Context, userID, printerID uuid.UUID) (*models.Favorite, error) {
	printer, err := s.users.GetByID(ctx, printerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, err
	}
	if printer.Role != models.RolePrinter {
		return nil, apperror.NewBadRequest("в избранное можно добавить только печатника")
	}

	return s.repo.Add(ctx, userID, printerID)
}

// Remove убирает печатника из избранного.
func (s *FavoriteService) Remove(ctx context.Context, userID, printerID uuid.UUID) error {
	if err := s.repo.Remove(ctx, userID, printerID); err != nil {
		if errors.Is(err, repository.ErrFavoriteNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "печатник не в избранном")
		}
		return err
	}
	return nil
}

// List возвращает избранных печатников пользователя.
func (s *FavoriteService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Favorite, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// IsFavorite проверяет, добавлен ли печатник в избранное.
func (s *FavoriteService) IsFavorite(ctx context.Context, userID, printerID uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, userID, printerID)
}
