// metrics.go — Prometheus HTTP метрики studydocs.
// Регистрирует метрики: sd_http_requests_total, sd_http_request_duration_seconds.
// Бизнес-метрики (sd_documents_total, sd_pending_documents и др.)
// экспортируются отсюда и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sd_http_requests_total",
			Help: "Общее количество HTTP-запросов к studydocs",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sd_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к studydocs в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// DocumentsTotal — текущее количество документов по хранилищам (gauge).
	DocumentsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sd_documents_total",
			Help: "Текущее количество документов в хранилище",
		},
		[]string{"store"},
	)

	// PendingDocuments — количество документов, ожидающих зеркалирования (gauge).
	PendingDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sd_pending_documents",
			Help: "Количество локальных документов, не зеркалированных в PostgreSQL",
		},
	)

	// PrimaryReachable — доступность первичного хранилища (1 = да, 0 = нет).
	PrimaryReachable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sd_primary_reachable",
			Help: "Доступность первичного хранилища (1 = доступно)",
		},
	)

	// OperationsTotal — общее количество операций над документами.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sd_operations_total",
			Help: "Общее количество операций над документами",
		},
		[]string{"operation", "result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет UUID-сегменты пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/pdf/a1b2c3d4-... → /api/pdf/{id}
func normalizePath(path string) string {
	switch {
	case path == "/health/live",
		path == "/health/ready",
		path == "/metrics",
		path == "/api/health",
		path == "/api/documents",
		path == "/api/stats/counts",
		path == "/api/database/status",
		path == "/api/database/reconnect",
		path == "/api/admin/documents":
		return path
	case strings.HasPrefix(path, "/api/pdf/") && isUUIDSegment(path, "/api/pdf/"):
		return "/api/pdf/{id}"
	case strings.HasPrefix(path, "/api/admin/documents/") && isUUIDSegment(path, "/api/admin/documents/"):
		return "/api/admin/documents/{id}"
	}
	return path
}

// isUUIDSegment проверяет, является ли сегмент пути после prefix UUID-ом.
func isUUIDSegment(path, prefix string) bool {
	segment := path[len(prefix):]
	// Формат UUID: 8-4-4-4-12
	if len(segment) != 36 {
		return false
	}
	for i, c := range segment {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
		} else {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}
