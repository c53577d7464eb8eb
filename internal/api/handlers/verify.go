// verify.go — публичные обработчики проверки сертификатов.
// GET  /api/v1/verify?cid=... | ?tx=... — проверка против ledger и store
// POST /api/v1/verify/fields — проверка plaintext-содержимого против хэша
//
// Проверка анонимна и без побочных эффектов: MISMATCH и NOT_FOUND —
// нормальные результаты (200), ошибка возвращается только при
// инфраструктурном сбое store/ledger.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/certanchor/internal/api/errors"
	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/ipfs"
	"github.com/bigkaa/certanchor/internal/ledger"
	"github.com/bigkaa/certanchor/internal/service"
)

// VerifyHandler — обработчик endpoints проверки.
type VerifyHandler struct {
	verify *service.VerifyService
	logger *slog.Logger
}

// NewVerifyHandler создаёт обработчик проверки.
func NewVerifyHandler(verify *service.VerifyService, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		verify: verify,
		logger: logger.With(slog.String("component", "verify_handler")),
	}
}

// verifyFieldsRequest — тело запроса проверки plaintext-содержимого.
type verifyFieldsRequest struct {
	Certificate  model.CertificateContent `json:"certificate"`
	ExpectedHash string                   `json:"expectedHash"`
}

// verifyFieldsResponse — ответ проверки plaintext-содержимого.
type verifyFieldsResponse struct {
	Status string `json:"status"`
}

// VerifyCertificate — GET /api/v1/verify.
// Требуется ровно один из параметров: cid или tx.
func (h *VerifyHandler) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	cid := r.URL.Query().Get("cid")
	tx := r.URL.Query().Get("tx")

	if (cid == "") == (tx == "") {
		apierrors.ValidationError(w, "Требуется ровно один параметр: cid или tx")
		return
	}

	var (
		result *model.VerificationResult
		err    error
	)
	if cid != "" {
		result, err = h.verify.VerifyByCID(r.Context(), cid)
	} else {
		result, err = h.verify.VerifyByTransaction(r.Context(), tx)
	}
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// VerifyCertificateFields — POST /api/v1/verify/fields.
// Проверка для держателя plaintext-содержимого: пересчитывает хэш
// и сравнивает с ожидаемым. Локальная операция, ledger не трогается.
func (h *VerifyHandler) VerifyCertificateFields(w http.ResponseWriter, r *http.Request) {
	var req verifyFieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.ExpectedHash == "" {
		apierrors.ValidationError(w, "Поле expectedHash обязательно")
		return
	}

	status := model.VerifyMismatch
	if h.verify.VerifyCertificateFields(req.Certificate, req.ExpectedHash) {
		status = model.VerifyMatch
	}

	writeJSON(w, http.StatusOK, verifyFieldsResponse{Status: status})
}

// writeVerifyError маппит инфраструктурную ошибку проверки в HTTP-ответ.
func (h *VerifyHandler) writeVerifyError(w http.ResponseWriter, err error) {
	h.logger.Error("Инфраструктурный сбой проверки",
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		apierrors.LedgerUnavailable(w, "Ledger недоступен, повторите запрос позже")
	case errors.Is(err, ipfs.ErrUnavailable):
		apierrors.StorageUnavailable(w, "Content store недоступен, повторите запрос позже")
	default:
		apierrors.InternalError(w, "Внутренняя ошибка проверки")
	}
}
