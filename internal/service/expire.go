// expire.go — фоновый sweep истёкших сертификатов.
//
// Периодически переводит issued-записи с истёкшим expires_at в expired.
// Sweep — операция side-table: ledger неизменяем, факт истечения срока —
// атрибут реестра. Запускается как горутина с периодическим тикером
// (CA_EXPIRE_SWEEP_INTERVAL).
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

// Prometheus-метрики sweep.
var (
	expireRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ca_expire_sweep_runs_total",
		Help: "Общее количество запусков sweep истёкших сертификатов.",
	})

	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ca_expire_sweep_expired_total",
		Help: "Общее количество сертификатов, помеченных как expired.",
	})

	expireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ca_expire_sweep_duration_seconds",
		Help:    "Длительность выполнения sweep в секундах.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)

// ExpireService — фоновый sweep истёкших сертификатов.
type ExpireService struct {
	repo     repository.CertificateRepository
	cache    *CacheService
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewExpireService создаёт сервис sweep.
func NewExpireService(
	repo repository.CertificateRepository,
	cache *CacheService,
	interval time.Duration,
	logger *slog.Logger,
) *ExpireService {
	return &ExpireService{
		repo:     repo,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "expire_sweep")),
	}
}

// Start запускает фоновую горутину sweep с периодическим тикером.
// Вызывается один раз при старте приложения.
func (s *ExpireService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(sweepCtx)

	s.logger.Info("Sweep истёкших сертификатов запущен",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновый процесс sweep.
func (s *ExpireService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Sweep истёкших сертификатов остановлен")
}

// run — основной цикл фоновой горутины.
func (s *ExpireService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
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

// RunOnce выполняет один цикл sweep.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (s *ExpireService) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	ids, err := s.repo.MarkExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Ошибка sweep истёкших сертификатов",
			slog.String("error", err.Error()),
		)
		return 0
	}

	// Без инвалидации кэш продолжал бы отдавать issued до истечения TTL
	for _, id := range ids {
		s.cache.Delete(id)
	}

	expireRunsTotal.Inc()
	expiredTotal.Add(float64(len(ids)))
	expireDuration.Observe(time.Since(start).Seconds())

	if len(ids) > 0 {
		s.logger.Info("Sweep завершён",
			slog.Int("expired", len(ids)),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return len(ids)
}
