// cache.go — in-memory LRU-кэш payload документов с TTL.
// Снижает нагрузку на диск и PostgreSQL при повторных скачиваниях:
// размер документа ограничен (SD_MAX_FILE_SIZE), поэтому хранение
// payload в памяти безопасно.
package service

import (
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_pdf_cache_hits_total",
		Help: "Количество попаданий в LRU-кэш payload",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_pdf_cache_misses_total",
		Help: "Количество промахов LRU-кэша payload",
	})
)

// CacheService — LRU-кэш payload документов (ключ — id документа).
type CacheService struct {
	lru    *expirable.LRU[string, []byte]
	logger *slog.Logger
}

// NewCacheService создаёт кэш указанного размера с TTL записей.
func NewCacheService(size int, ttl time.Duration, logger *slog.Logger) *CacheService {
	return &CacheService{
		lru:    expirable.NewLRU[string, []byte](size, nil, ttl),
		logger: logger.With(slog.String("component", "pdf_cache")),
	}
}

// Get возвращает payload из кэша. Второе значение false при промахе.
func (c *CacheService) Get(id string) ([]byte, bool) {
	data, ok := c.lru.Get(id)
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return data, ok
}

// Add помещает payload в кэш.
func (c *CacheService) Add(id string, payload []byte) {
	c.lru.Add(id, payload)
}

// Remove удаляет payload из кэша (при удалении или перезаписи документа).
func (c *CacheService) Remove(id string) {
	c.lru.Remove(id)
}

// Len возвращает текущее количество записей в кэше.
func (c *CacheService) Len() int {
	return c.lru.Len()
}
