// Пакет server — HTTP-сервер Anchor Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/certanchor/internal/api/handlers"
	"github.com/bigkaa/certanchor/internal/api/middleware"
	"github.com/bigkaa/certanchor/internal/config"
)

// Scopes для Service Accounts.
const (
	// ScopeIssue — выпуск сертификатов и повтор анкеровки.
	ScopeIssue = "certificates:issue"
	// ScopeAdmin — отзыв и bootstrap ledger.
	ScopeAdmin = "certificates:admin"
)

// Handlers — набор обработчиков API для монтирования маршрутов.
type Handlers struct {
	Health       *handlers.HealthHandler
	Certificates *handlers.CertificatesHandler
	Verify       *handlers.VerifyHandler
	Admin        *handlers.AdminHandler
}

// Server — HTTP-сервер Anchor Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
//
// Публичный контур (без аутентификации): health, metrics и verify —
// проверка сертификата анонимна, любой держатель CID или ссылки на
// транзакцию может убедиться в целостности.
// Защищённый контур (JWT): реестр и выпуск — issuer/admin,
// отзыв и bootstrap — только admin.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичный контур
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)
	router.Get("/api/v1/verify", h.Verify.VerifyCertificate)
	router.Post("/api/v1/verify/fields", h.Verify.VerifyCertificateFields)

	// Защищённый контур: issuer или admin
	router.Group(func(r chi.Router) {
		r.Use(jwtAuth.Middleware())
		r.Use(middleware.RequireRoleOrScope(
			[]string{middleware.RoleIssuer, middleware.RoleAdmin},
			[]string{ScopeIssue, ScopeAdmin},
		))

		r.Post("/api/v1/certificates", h.Certificates.IssueCertificate)
		r.Get("/api/v1/certificates", h.Certificates.ListCertificates)
		r.Get("/api/v1/certificates/{id}", h.Certificates.GetCertificate)
		r.Post("/api/v1/certificates/{id}/anchor", h.Certificates.ResumeAnchor)
	})

	// Защищённый контур: только admin
	router.Group(func(r chi.Router) {
		r.Use(jwtAuth.Middleware())
		r.Use(middleware.RequireRoleOrScope(
			[]string{middleware.RoleAdmin},
			[]string{ScopeAdmin},
		))

		r.Post("/api/v1/certificates/{id}/revoke", h.Certificates.RevokeCertificate)
		r.Post("/api/v1/admin/bootstrap", h.Admin.Bootstrap)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
