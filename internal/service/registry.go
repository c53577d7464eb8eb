// registry.go — чтение реестра сертификатов и операции оператора
// над жизненным циклом (отзыв).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apierrors "github.com/bigkaa/certanchor/internal/api/errors"
	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/domain/status"
	"github.com/bigkaa/certanchor/internal/repository"
)

// RegistryService — доступ к записям side-table через LRU-кэш.
type RegistryService struct {
	repo   repository.CertificateRepository
	cache  *CacheService
	events EventPublisher
	logger *slog.Logger
}

// NewRegistryService создаёт сервис реестра.
// events может быть nil — публикация событий выключена.
func NewRegistryService(
	repo repository.CertificateRepository,
	cache *CacheService,
	events EventPublisher,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		repo:   repo,
		cache:  cache,
		events: events,
		logger: logger.With(slog.String("component", "registry_service")),
	}
}

// Get возвращает запись по id (кэш → база).
// Возвращает repository.ErrNotFound, если записи нет.
func (s *RegistryService) Get(ctx context.Context, certificateID string) (*model.CertificateRecord, error) {
	if rec, ok := s.cache.Get(certificateID); ok {
		return rec, nil
	}

	rec, err := s.repo.GetByID(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(certificateID, rec)
	return rec, nil
}

// List возвращает записи по фильтрам (без кэша: выборки не кэшируются).
func (s *RegistryService) List(ctx context.Context, params repository.ListParams) ([]*model.CertificateRecord, int, error) {
	return s.repo.List(ctx, params)
}

// Revoke отзывает выпущенный сертификат.
//
// Отзыв — операция side-table, на ledger ничего не пишется: закреплённый
// proof неизменяем, факт отзыва — атрибут реестра. Переход issued →
// revoked необратим и требует confirm.
func (s *RegistryService) Revoke(ctx context.Context, certificateID string, confirm bool) (*model.CertificateRecord, *IssueError) {
	rec, err := s.repo.GetByID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &IssueError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Сертификат %s не найден", certificateID),
			}
		}
		return nil, &IssueError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка чтения записи",
		}
	}

	from := status.Status(rec.Status)
	if err := status.Transition(from, status.StatusRevoked, confirm); err != nil {
		var terr *status.TransitionError
		if errors.As(err, &terr) && terr.Code == "CONFIRMATION_REQUIRED" {
			return nil, &IssueError{
				StatusCode: 409,
				Code:       apierrors.CodeConfirmRequired,
				Message:    terr.Message,
			}
		}
		return nil, &IssueError{
			StatusCode: 409,
			Code:       apierrors.CodeInvalidTransition,
			Message:    err.Error(),
		}
	}

	if err := s.repo.UpdateStatus(ctx, certificateID, from, status.StatusRevoked); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, &IssueError{
				StatusCode: 409,
				Code:       apierrors.CodeInvalidTransition,
				Message:    "Статус записи изменился, повторите запрос",
			}
		}
		return nil, &IssueError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка обновления статуса",
		}
	}
	s.cache.Delete(certificateID)

	updated, err := s.repo.GetByID(ctx, certificateID)
	if err != nil {
		return nil, &IssueError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка чтения записи",
		}
	}

	s.logger.Info("Сертификат отозван",
		slog.String("certificate_id", certificateID),
	)
	if s.events != nil {
		s.events.CertificateRevoked(ctx, updated)
	}
	return updated, nil
}
