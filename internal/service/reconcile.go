// reconcile.go — фоновый reconcile зависших processing-записей.
//
// Pipeline выпуска может оборваться между durable-маркером анкеровки и
// фиксацией issued (рестарт пода, сбой записи в side-table). Такая
// запись остаётся в processing: выпуск не завершён, а повторная
// анкеровка и отзыв из processing запрещены. Reconcile переводит
// записи, не обновлявшиеся дольше порога, в failed — оттуда оператор
// сверяет ledger и решает: ResumeAnchor или новый выпуск.
// Запускается при старте и далее по тикеру (CA_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certanchor/internal/repository"
)

// Prometheus-метрики reconcile.
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ca_reconcile_runs_total",
		Help: "Общее количество запусков reconcile зависших записей.",
	})

	reconcileFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ca_reconcile_stale_failed_total",
		Help: "Общее количество processing-записей, переведённых в failed.",
	})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ca_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconcile в секундах.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)

// ReconcileService — фоновый reconcile зависших processing-записей.
type ReconcileService struct {
	repo       repository.CertificateRepository
	cache      *CacheService
	staleAfter time.Duration
	interval   time.Duration
	logger     *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewReconcileService создаёт сервис reconcile.
// staleAfter — порог давности последнего обновления processing-записи.
func NewReconcileService(
	repo repository.CertificateRepository,
	cache *CacheService,
	staleAfter time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		repo:       repo,
		cache:      cache,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconcile с периодическим тикером.
// Вызывается один раз при старте приложения.
func (s *ReconcileService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx)

	s.logger.Info("Reconcile зависших записей запущен",
		slog.String("interval", s.interval.String()),
		slog.String("stale_after", s.staleAfter.String()),
	)
}

// Stop останавливает фоновый процесс reconcile.
func (s *ReconcileService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Reconcile зависших записей остановлен")
}

// run — основной цикл фоновой горутины.
func (s *ReconcileService) run(ctx context.Context) {
	// Первый запуск — сразу после старта: именно рестарт процесса
	// и оставляет записи зависшими
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл reconcile.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (s *ReconcileService) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	cutoff := time.Now().UTC().Add(-s.staleAfter)

	ids, err := s.repo.FailStaleProcessing(ctx, cutoff)
	if err != nil {
		s.logger.Error("Ошибка reconcile зависших записей",
			slog.String("error", err.Error()),
		)
		return 0
	}

	for _, id := range ids {
		s.cache.Delete(id)
		// WARN на каждую запись: зависший processing — всегда следствие
		// аварийного обрыва pipeline, оператору нужно сверить ledger
		s.logger.Warn("Зависшая processing-запись переведена в failed",
			slog.String("certificate_id", id),
			slog.String("stale_after", s.staleAfter.String()),
		)
	}

	reconcileRunsTotal.Inc()
	reconcileFailedTotal.Add(float64(len(ids)))
	reconcileDuration.Observe(time.Since(start).Seconds())

	return len(ids)
}
