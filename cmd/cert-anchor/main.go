// main.go — точка входа Anchor Module.
// Собирает все компоненты: config, logger, PostgreSQL (side-table),
// content store, стратегию анкеровки, сервисы, фоновые процессы
// и HTTP-сервер.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/certanchor/internal/api/handlers"
	"github.com/bigkaa/certanchor/internal/api/middleware"
	"github.com/bigkaa/certanchor/internal/config"
	"github.com/bigkaa/certanchor/internal/database"
	"github.com/bigkaa/certanchor/internal/events"
	"github.com/bigkaa/certanchor/internal/ipfs"
	"github.com/bigkaa/certanchor/internal/ledger"
	"github.com/bigkaa/certanchor/internal/repository"
	"github.com/bigkaa/certanchor/internal/server"
	"github.com/bigkaa/certanchor/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Anchor Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("ledger_strategy", cfg.LedgerStrategy),
	)

	ctx := context.Background()

	// 3. Миграции и подключение к PostgreSQL
	if err := database.Migrate(cfg, logger); err != nil {
		log.Fatalf("Ошибка применения миграций: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Ошибка подключения к PostgreSQL: %v", err)
	}
	defer pool.Close()

	repo := repository.NewCertificateRepository(pool)

	// 4. Content store (pinning API + gateway)
	store, err := ipfs.New(
		cfg.IPFSAPIURL,
		cfg.IPFSGatewayURL,
		cfg.IPFSCACert,
		cfg.IPFSTimeout,
		cfg.IPFSAPIKey,
		cfg.IPFSAPISecret,
		logger,
	)
	if err != nil {
		log.Fatalf("Ошибка инициализации content store: %v", err)
	}

	// 5. Стратегия анкеровки (выбор по конфигурации)
	var anchor ledger.Anchor
	switch cfg.LedgerStrategy {
	case config.StrategyNFT:
		anchor, err = ledger.NewNFTAnchor(
			cfg.LedgerRelayURL, cfg.LedgerMirrorURL, cfg.LedgerCACert, cfg.LedgerTimeout,
			cfg.LedgerOperatorID, cfg.LedgerOperatorKey,
			cfg.LedgerTokenID, cfg.IssuerOrg, logger,
		)
	default:
		anchor, err = ledger.NewTopicAnchor(
			cfg.LedgerRelayURL, cfg.LedgerMirrorURL, cfg.LedgerCACert, cfg.LedgerTimeout,
			cfg.LedgerOperatorID, cfg.LedgerOperatorKey,
			cfg.LedgerTopicID, logger,
		)
	}
	if err != nil {
		log.Fatalf("Ошибка инициализации стратегии анкеровки: %v", err)
	}

	// 6. Кэш записей реестра
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	// 7. Публикация доменных событий (опционально)
	var eventPublisher service.EventPublisher
	if cfg.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			log.Fatalf("Ошибка подключения к RabbitMQ: %v", err)
		}
		defer pub.Close()
		eventPublisher = pub
	} else {
		logger.Info("Публикация доменных событий выключена (CA_AMQP_URL не задан)")
	}

	// 8. Сервисный слой
	issueService := service.NewIssueService(repo, store, anchor, cache, eventPublisher,
		cfg.RetryAttempts, cfg.RetryBackoff, logger)
	verifyService := service.NewVerifyService(repo, store, anchor, logger)
	registryService := service.NewRegistryService(repo, cache, eventPublisher, logger)

	// 9. Фоновые процессы: sweep истёкших сертификатов и reconcile
	// зависших processing-записей (после рестарта между анкеровкой
	// и фиксацией)
	expireService := service.NewExpireService(repo, cache, cfg.ExpireSweepInterval, logger)
	expireService.Start(ctx)
	defer expireService.Stop()

	reconcileService := service.NewReconcileService(repo, cache,
		cfg.ProcessingStaleAfter, cfg.ReconcileInterval, logger)
	reconcileService.Start(ctx)
	defer reconcileService.Stop()

	// 10. Мониторинг зависимостей (topologymetrics)
	serviceID := cfg.DephealthName
	if serviceID == "" {
		serviceID = "anchor-module"
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthService, err := service.NewDephealthService(
		serviceID, cfg.DephealthGroup, sqlDB, cfg.DatabaseDSN(),
		cfg.IPFSGatewayURL, cfg.LedgerRelayURL,
		cfg.DephealthCheckInterval, logger,
	)
	if err != nil {
		log.Fatalf("Ошибка инициализации мониторинга зависимостей: %v", err)
	}
	if err := dephealthService.Start(ctx); err != nil {
		log.Fatalf("Ошибка запуска мониторинга зависимостей: %v", err)
	}
	defer dephealthService.Stop()

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSUrl, cfg.JWKSCACert, cfg.JWTIssuer,
		cfg.AdminGroups, cfg.IssuerGroups,
		cfg.JWKSClientTimeout, cfg.JWKSRefreshInterval, cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		log.Fatalf("Ошибка инициализации JWT middleware: %v", err)
	}
	defer jwtAuth.Close()

	// 12. Обработчики API
	keycloakChecker, err := middleware.NewKeycloakReadinessChecker(cfg.JWKSUrl, cfg.JWKSCACert, cfg.JWKSClientTimeout)
	if err != nil {
		log.Fatalf("Ошибка инициализации Keycloak readiness checker: %v", err)
	}
	h := server.Handlers{
		Health:       handlers.NewHealthHandler(database.NewReadinessChecker(pool), keycloakChecker),
		Certificates: handlers.NewCertificatesHandler(issueService, registryService, logger),
		Verify:       handlers.NewVerifyHandler(verifyService, logger),
		Admin:        handlers.NewAdminHandler(anchor, cfg.LedgerStrategy, cfg.AllowBootstrap, logger),
	}

	// 13. Запуск сервера (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, h, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Anchor Module остановлен")
}
