// Пакет service — бизнес-логика Data Import.
// CacheService — LRU-кэш терминальных импортов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dataimport/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "di_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш импортов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "di_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша импортов.",
	})
)

// CacheService — LRU-кэш импортов с автоматическим TTL.
// Кэшируются только терминальные импорты (completed/failed):
// их строки неизменяемы, поэтому кэш не может отдать устаревший статус.
type CacheService struct {
	cache *expirable.LRU[string, *model.Import]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.Import](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает импорт из кэша по id.
// Возвращает (импорт, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(importID string) (*model.Import, bool) {
	val, ok := c.cache.Get(importID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет импорт в кэш. Нетерминальные импорты игнорируются:
// их статус и счетчики еще меняются.
func (c *CacheService) Set(imp *model.Import) {
	if imp == nil || !imp.Terminal() {
		return
	}
	c.cache.Add(imp.ID, imp)
}

// Delete удаляет импорт из кэша (инвалидация при удалении импорта).
func (c *CacheService) Delete(importID string) {
	c.cache.Remove(importID)
}
