// admin.go — административные обработчики.
// POST /api/v1/admin/bootstrap — создание topic/collection на ledger.
//
// Bootstrap выполняется только явно оператором: автосоздание ресурсов
// при старте — известная операционная опасность. Endpoint доступен
// только при CA_LEDGER_ALLOW_BOOTSTRAP=true.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/certanchor/internal/api/errors"
	"github.com/bigkaa/certanchor/internal/ledger"
)

// AdminHandler — обработчик административных endpoints.
type AdminHandler struct {
	anchor         ledger.Anchor
	strategy       string
	allowBootstrap bool
	logger         *slog.Logger
}

// NewAdminHandler создаёт административный обработчик.
func NewAdminHandler(anchor ledger.Anchor, strategy string, allowBootstrap bool, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		anchor:         anchor,
		strategy:       strategy,
		allowBootstrap: allowBootstrap,
		logger:         logger.With(slog.String("component", "admin_handler")),
	}
}

// bootstrapResponse — ответ bootstrap: идентификатор созданного ресурса.
type bootstrapResponse struct {
	Strategy string `json:"strategy"`
	ID       string `json:"id"`
}

// Bootstrap — POST /api/v1/admin/bootstrap.
// Создаёт topic (consensus-log) или collection (token-mint) на ledger
// и возвращает идентификатор. Полученный id оператор фиксирует в
// конфигурации (CA_LEDGER_TOPIC_ID / CA_LEDGER_TOKEN_ID) и перезапускает
// сервис без bootstrap-режима.
func (h *AdminHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	if !h.allowBootstrap {
		apierrors.Forbidden(w, "Bootstrap выключен: установите CA_LEDGER_ALLOW_BOOTSTRAP=true")
		return
	}

	id, err := h.anchor.Bootstrap(r.Context())
	if err != nil {
		h.logger.Error("Ошибка bootstrap ledger",
			slog.String("strategy", h.strategy),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			apierrors.InsufficientFunds(w, "Баланс операторского аккаунта исчерпан")
		case errors.Is(err, ledger.ErrUnavailable):
			apierrors.LedgerUnavailable(w, "Ledger недоступен, повторите запрос позже")
		default:
			apierrors.InternalError(w, "Ошибка создания ресурса на ledger")
		}
		return
	}

	h.logger.Info("Ресурс ledger создан оператором",
		slog.String("strategy", h.strategy),
		slog.String("id", id),
	)
	writeJSON(w, http.StatusCreated, bootstrapResponse{
		Strategy: h.strategy,
		ID:       id,
	})
}
