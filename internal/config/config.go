// Пакет config — загрузка и валидация конфигурации Anchor Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Стратегии анкеровки.
const (
	// StrategyTopic — consensus-log: proof публикуется сообщением в topic
	StrategyTopic = "topic"
	// StrategyNFT — token-mint: proof встраивается в метаданные токена
	StrategyNFT = "nft"
)

// Config содержит все параметры конфигурации Anchor Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL (side-table реестра) ---

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// --- JWT / JWKS ---

	// URL JWKS endpoint IdP
	JWKSUrl string
	// Путь к CA-сертификату для TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Ожидаемый issuer JWT (пустая строка — не проверяется)
	JWTIssuer string
	// Группы IdP, дающие роль issuer
	IssuerGroups []string
	// Группы IdP, дающие роль admin
	AdminGroups []string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Content store (pinning API + gateway) ---

	IPFSAPIURL     string
	IPFSGatewayURL string
	IPFSCACert     string
	IPFSTimeout    time.Duration
	IPFSAPIKey     string
	IPFSAPISecret  string

	// --- Ledger (relay + mirror node) ---

	// Стратегия анкеровки: topic или nft
	LedgerStrategy string
	// Базовый URL ledger relay (запись)
	LedgerRelayURL string
	// Базовый URL mirror node REST (чтение)
	LedgerMirrorURL string
	// Путь к CA-сертификату для TLS ledger endpoints (опционально)
	LedgerCACert string
	// Таймаут HTTP-запросов к ledger
	LedgerTimeout time.Duration
	// Id операторского аккаунта
	LedgerOperatorID string
	// Приватный ключ операторского аккаунта (передаётся relay)
	LedgerOperatorKey string
	// Id topic для стратегии topic
	LedgerTopicID string
	// Id коллекции для стратегии nft
	LedgerTokenID string
	// Организация выпустившего (поле org метаданных токена)
	IssuerOrg string
	// AllowBootstrap разрешает старт без topic/token id для первичного
	// bootstrap оператором через admin API. При false отсутствие id
	// выбранной стратегии — фатальная ошибка конфигурации.
	AllowBootstrap bool

	// --- Pipeline выпуска ---

	// Количество попыток при транзиентных ошибках store/ledger
	RetryAttempts int
	// Базовая задержка между попытками (экспоненциальный backoff)
	RetryBackoff time.Duration

	// --- Кэш записей реестра ---

	CacheSize int
	CacheTTL  time.Duration

	// --- Фоновые процессы ---

	// Интервал sweep истёкших сертификатов
	ExpireSweepInterval time.Duration
	// Интервал reconcile зависших processing-записей
	ReconcileInterval time.Duration
	// Порог давности processing-записи: не обновлялась дольше —
	// принудительный перевод в failed
	ProcessingStaleAfter time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics
	DephealthName string

	// --- События (AMQP, опционально) ---

	// URL RabbitMQ; пустая строка — публикация событий выключена
	AMQPURL string
	// Exchange для событий жизненного цикла сертификатов
	AMQPExchange string
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CA_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("CA_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("CA_PORT: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CA_PORT: значение %d вне допустимого диапазона", cfg.Port)
	}

	// CA_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CA_LOG_LEVEL: %w", err)
	}

	// CA_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CA_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("CA_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("CA_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("CA_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("CA_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("CA_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("CA_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("CA_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("CA_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("CA_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("CA_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("CA_DB_PORT: %w", err)
	}
	if cfg.DBUser, err = getEnvRequired("CA_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("CA_DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.DBName, err = getEnvRequired("CA_DB_NAME"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("CA_DB_SSLMODE", "disable")

	// --- JWT / JWKS ---

	if cfg.JWKSUrl, err = getEnvRequired("CA_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWKSCACert = getEnvDefault("CA_JWKS_CA_CERT", "")
	cfg.JWTIssuer = getEnvDefault("CA_JWT_ISSUER", "")
	cfg.IssuerGroups = splitGroups(getEnvDefault("CA_ISSUER_GROUPS", "certificate-issuers"))
	cfg.AdminGroups = splitGroups(getEnvDefault("CA_ADMIN_GROUPS", "certificate-admins"))
	if cfg.JWKSClientTimeout, err = getEnvDuration("CA_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("CA_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("CA_JWKS_REFRESH_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("CA_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("CA_JWT_LEEWAY", 30*time.Second); err != nil {
		return nil, fmt.Errorf("CA_JWT_LEEWAY: %w", err)
	}

	// --- Content store ---

	if cfg.IPFSAPIURL, err = getEnvRequired("CA_IPFS_API_URL"); err != nil {
		return nil, err
	}
	if cfg.IPFSGatewayURL, err = getEnvRequired("CA_IPFS_GATEWAY_URL"); err != nil {
		return nil, err
	}
	cfg.IPFSCACert = getEnvDefault("CA_IPFS_CA_CERT", "")
	if cfg.IPFSTimeout, err = getEnvDuration("CA_IPFS_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("CA_IPFS_TIMEOUT: %w", err)
	}
	if cfg.IPFSAPIKey, err = getEnvRequired("CA_IPFS_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.IPFSAPISecret, err = getEnvRequired("CA_IPFS_API_SECRET"); err != nil {
		return nil, err
	}

	// --- Ledger ---

	cfg.LedgerStrategy = getEnvDefault("CA_LEDGER_STRATEGY", StrategyTopic)
	if cfg.LedgerStrategy != StrategyTopic && cfg.LedgerStrategy != StrategyNFT {
		return nil, fmt.Errorf("CA_LEDGER_STRATEGY: недопустимое значение %q, допустимые: topic, nft", cfg.LedgerStrategy)
	}
	if cfg.LedgerRelayURL, err = getEnvRequired("CA_LEDGER_RELAY_URL"); err != nil {
		return nil, err
	}
	if cfg.LedgerMirrorURL, err = getEnvRequired("CA_LEDGER_MIRROR_URL"); err != nil {
		return nil, err
	}
	cfg.LedgerCACert = getEnvDefault("CA_LEDGER_CA_CERT", "")
	if cfg.LedgerTimeout, err = getEnvDuration("CA_LEDGER_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("CA_LEDGER_TIMEOUT: %w", err)
	}
	if cfg.LedgerOperatorID, err = getEnvRequired("CA_LEDGER_OPERATOR_ID"); err != nil {
		return nil, err
	}
	if cfg.LedgerOperatorKey, err = getEnvRequired("CA_LEDGER_OPERATOR_KEY"); err != nil {
		return nil, err
	}
	cfg.LedgerTopicID = getEnvDefault("CA_LEDGER_TOPIC_ID", "")
	cfg.LedgerTokenID = getEnvDefault("CA_LEDGER_TOKEN_ID", "")
	cfg.IssuerOrg = getEnvDefault("CA_ISSUER_ORG", "")
	cfg.AllowBootstrap = getEnvDefault("CA_LEDGER_ALLOW_BOOTSTRAP", "false") == "true"

	// Отсутствие идентификатора выбранной стратегии — фатальная ошибка
	// конфигурации. Автосоздание при старте недопустимо: каждый рестарт
	// плодил бы новый topic/коллекцию.
	if !cfg.AllowBootstrap {
		if cfg.LedgerStrategy == StrategyTopic && cfg.LedgerTopicID == "" {
			return nil, fmt.Errorf("CA_LEDGER_TOPIC_ID: обязателен для стратегии topic " +
				"(CA_LEDGER_ALLOW_BOOTSTRAP=true только для первичного bootstrap)")
		}
		if cfg.LedgerStrategy == StrategyNFT && cfg.LedgerTokenID == "" {
			return nil, fmt.Errorf("CA_LEDGER_TOKEN_ID: обязателен для стратегии nft " +
				"(CA_LEDGER_ALLOW_BOOTSTRAP=true только для первичного bootstrap)")
		}
	}

	// --- Pipeline ---

	if cfg.RetryAttempts, err = getEnvInt("CA_RETRY_ATTEMPTS", 3); err != nil {
		return nil, fmt.Errorf("CA_RETRY_ATTEMPTS: %w", err)
	}
	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("CA_RETRY_ATTEMPTS: значение должно быть положительным")
	}
	if cfg.RetryBackoff, err = getEnvDuration("CA_RETRY_BACKOFF", time.Second); err != nil {
		return nil, fmt.Errorf("CA_RETRY_BACKOFF: %w", err)
	}

	// --- Кэш ---

	if cfg.CacheSize, err = getEnvInt("CA_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("CA_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("CA_CACHE_SIZE: значение должно быть положительным")
	}
	if cfg.CacheTTL, err = getEnvDuration("CA_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("CA_CACHE_TTL: %w", err)
	}

	// --- Фоновые процессы ---

	if cfg.ExpireSweepInterval, err = getEnvDuration("CA_EXPIRE_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("CA_EXPIRE_SWEEP_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval, err = getEnvDuration("CA_RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("CA_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ProcessingStaleAfter, err = getEnvDuration("CA_PROCESSING_STALE_AFTER", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("CA_PROCESSING_STALE_AFTER: %w", err)
	}
	// Порог меньше интервала pipeline-ретраев переводил бы в failed
	// ещё живые выпуски
	if cfg.ProcessingStaleAfter < time.Minute {
		return nil, fmt.Errorf("CA_PROCESSING_STALE_AFTER: значение %s меньше минимального 1m", cfg.ProcessingStaleAfter)
	}
	if cfg.DephealthCheckInterval, err = getEnvDuration("CA_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("CA_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("CA_DEPHEALTH_GROUP", "anchor-module")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	// --- События ---

	cfg.AMQPURL = getEnvDefault("CA_AMQP_URL", "")
	cfg.AMQPExchange = getEnvDefault("CA_AMQP_EXCHANGE", "certificates")

	return cfg, nil
}

// DatabaseDSN возвращает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h)", val)
	}
	return d, nil
}

// splitGroups разбирает список групп через запятую.
func splitGroups(s string) []string {
	parts := strings.Split(s, ",")
	groups := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			groups = append(groups, trimmed)
		}
	}
	return groups
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
