// cache.go — LRU-кэш записей слотов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package registry

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upload_registry_cache_hits_total",
		Help: "Общее количество попаданий в кэш записей слотов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upload_registry_cache_misses_total",
		Help: "Общее количество промахов кэша записей слотов.",
	})
)

// recordCache — кэш записей. Хранит копии, наружу отдаёт копии.
type recordCache struct {
	cache *expirable.LRU[string, model.Slot]
}

func newRecordCache(maxSize int, ttl time.Duration) *recordCache {
	return &recordCache{cache: expirable.NewLRU[string, model.Slot](maxSize, nil, ttl)}
}

// Get возвращает копию записи при hit.
func (c *recordCache) Get(id string) (*model.Slot, bool) {
	val, ok := c.cache.Get(id)
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	return &val, true
}

// Set добавляет или обновляет запись.
func (c *recordCache) Set(id string, slot *model.Slot) {
	c.cache.Add(id, *slot)
}

// Delete инвалидирует запись.
func (c *recordCache) Delete(id string) {
	c.cache.Remove(id)
}
