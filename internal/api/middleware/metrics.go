// metrics.go — Prometheus метрики upload-backend.
// HTTP-метрики: upload_http_requests_total, upload_http_request_duration_seconds.
// Бизнес-метрики слотов экспортируются для обновления из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_http_requests_total",
			Help: "Общее количество HTTP-запросов к upload-backend",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upload_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к upload-backend в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// OperationsTotal — количество операций над слотами по результату.
	// result — success или класс ошибки (unauthorized, size_mismatch, ...).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_slot_operations_total",
			Help: "Общее количество операций над слотами",
		},
		[]string{"operation", "result"},
	)

	// PayloadBytesTotal — объём принятых payload в байтах.
	PayloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_payload_bytes_total",
			Help: "Общий объём успешно загруженных payload в байтах",
		},
	)

	// RecoveredTransactionsTotal — обработанные при старте WAL-транзакции.
	RecoveredTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_wal_recovered_total",
			Help: "Количество незавершённых WAL-транзакций, обработанных при восстановлении",
		},
		[]string{"operation", "action"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
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

// normalizePath сводит пути payload к шаблону для ограничения кардинальности.
// /files/{uuid}/{имя} → /files/{id}/{filename}. Прочие неизвестные пути → other.
func normalizePath(path string) string {
	switch path {
	case "/", "/health/live", "/health/ready", "/metrics", "/api/v1/info":
		return path
	}

	if rest, ok := strings.CutPrefix(path, "/files/"); ok {
		id, _, found := strings.Cut(rest, "/")
		if found && model.ValidSlotID(id) {
			return "/files/{id}/{filename}"
		}
		return "/files/other"
	}
	return "other"
}
