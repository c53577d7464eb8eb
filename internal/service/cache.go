// Пакет service — бизнес-логика Anchor Module.
// CacheService — LRU-кэш записей реестра сертификатов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ca_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей реестра.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ca_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей реестра.",
	})
)

// CacheService — LRU-кэш записей реестра с автоматическим TTL.
// Каждый экземпляр модуля имеет собственный in-memory кэш
// (per-instance, stateless архитектура). Side-table — не источник
// истины, поэтому устаревание записи в кэше безопасно: проверка
// всё равно идёт против content store и ledger.
type CacheService struct {
	cache *expirable.LRU[string, *model.CertificateRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество записей в кэше.
// ttl — время жизни записи после добавления.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.CertificateRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает запись реестра из кэша по certificateID.
// Возвращает (запись, true) при hit или (nil, false) при miss.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(certificateID string) (*model.CertificateRecord, bool) {
	val, ok := c.cache.Get(certificateID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(certificateID string, record *model.CertificateRecord) {
	c.cache.Add(certificateID, record)
}

// Delete удаляет запись из кэша (инвалидация при смене статуса).
func (c *CacheService) Delete(certificateID string) {
	c.cache.Remove(certificateID)
}
