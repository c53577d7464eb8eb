// certificates.go — обработчики реестра сертификатов.
// POST /api/v1/certificates — выпуск (полный pipeline)
// GET  /api/v1/certificates — выборка по фильтрам
// GET  /api/v1/certificates/{id} — запись по UUID
// POST /api/v1/certificates/{id}/anchor — повторная анкеровка (issuer)
// POST /api/v1/certificates/{id}/revoke — отзыв (admin, требует confirm)
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/certanchor/internal/api/errors"
	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/repository"
	"github.com/bigkaa/certanchor/internal/service"
)

// CertificatesHandler — обработчик endpoints реестра сертификатов.
type CertificatesHandler struct {
	issue    *service.IssueService
	registry *service.RegistryService
	logger   *slog.Logger
}

// NewCertificatesHandler создаёт обработчик реестра.
func NewCertificatesHandler(
	issue *service.IssueService,
	registry *service.RegistryService,
	logger *slog.Logger,
) *CertificatesHandler {
	return &CertificatesHandler{
		issue:    issue,
		registry: registry,
		logger:   logger.With(slog.String("component", "certificates_handler")),
	}
}

// issueRequest — тело запроса выпуска сертификата.
type issueRequest struct {
	model.CertificateContent
	// ExpiresAt — опциональный срок действия (RFC3339)
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// listResponse — ответ выборки сертификатов.
type listResponse struct {
	Items  []*model.CertificateRecord `json:"items"`
	Total  int                        `json:"total"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

// revokeRequest — тело запроса отзыва.
type revokeRequest struct {
	// Confirm — явное подтверждение необратимого перехода
	Confirm bool `json:"confirm"`
}

// IssueCertificate — POST /api/v1/certificates.
// Выполняет полный pipeline: хэш → загрузка payload → анкеровка → issued.
func (h *CertificatesHandler) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	rec, issueErr := h.issue.Issue(r.Context(), service.IssueParams{
		Content:   req.CertificateContent,
		ExpiresAt: req.ExpiresAt,
	})
	if issueErr != nil {
		apierrors.WriteError(w, issueErr.StatusCode, issueErr.Code, issueErr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// GetCertificate — GET /api/v1/certificates/{id}.
func (h *CertificatesHandler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := certificateIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Сертификат %s не найден", id))
			return
		}
		h.logger.Error("Ошибка чтения записи",
			slog.String("certificate_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка чтения записи")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListCertificates — GET /api/v1/certificates.
// Фильтры: status, recipientEmail, courseName, issuedAfter, issuedBefore.
// Сортировка: sortBy (created_at|issued_at|course_name), sortOrder (asc|desc).
func (h *CertificatesHandler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := repository.ListParams{
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	params.Limit, params.Offset = paginationDefaults(q.Get("limit"), q.Get("offset"))

	if v := q.Get("status"); v != "" {
		params.Status = &v
	}
	if v := q.Get("recipientEmail"); v != "" {
		params.RecipientEmail = &v
	}
	if v := q.Get("courseName"); v != "" {
		params.CourseName = &v
	}
	if v := q.Get("issuedAfter"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный issuedAfter: ожидается RFC3339")
			return
		}
		params.IssuedAfter = &t
	}
	if v := q.Get("issuedBefore"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный issuedBefore: ожидается RFC3339")
			return
		}
		params.IssuedBefore = &t
	}

	items, total, err := h.registry.List(r.Context(), params)
	if err != nil {
		h.logger.Error("Ошибка выборки сертификатов",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка выборки")
		return
	}
	if items == nil {
		items = []*model.CertificateRecord{}
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:  items,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	})
}

// ResumeAnchor — POST /api/v1/certificates/{id}/anchor.
// Повторяет только шаг анкеровки для failed-записи с сохранённым CID.
func (h *CertificatesHandler) ResumeAnchor(w http.ResponseWriter, r *http.Request) {
	id, ok := certificateIDParam(w, r)
	if !ok {
		return
	}

	rec, issueErr := h.issue.ResumeAnchor(r.Context(), id)
	if issueErr != nil {
		apierrors.WriteError(w, issueErr.StatusCode, issueErr.Code, issueErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// RevokeCertificate — POST /api/v1/certificates/{id}/revoke.
// Переход issued → revoked необратим и требует confirm=true в теле.
func (h *CertificatesHandler) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := certificateIDParam(w, r)
	if !ok {
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	rec, issueErr := h.registry.Revoke(r.Context(), id, req.Confirm)
	if issueErr != nil {
		apierrors.WriteError(w, issueErr.StatusCode, issueErr.Code, issueErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// certificateIDParam извлекает и валидирует UUID из пути.
// При ошибке пишет 400 и возвращает ok=false.
func certificateIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор сертификата: ожидается UUID")
		return "", false
	}
	return id, true
}
