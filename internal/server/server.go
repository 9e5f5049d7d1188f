// Пакет server — HTTP-сервер upload-backend с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/goartstore/upload-backend/internal/api/errors"
	"github.com/bigkaa/goartstore/upload-backend/internal/api/handlers"
	"github.com/bigkaa/goartstore/upload-backend/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-backend/internal/config"
)

// FilesPrefix — префикс путей payload. Публичные базовые URL должны
// указывать на него напрямую или через reverse proxy.
const FilesPrefix = "/files"

// Handlers — набор обработчиков, монтируемых в роутер.
type Handlers struct {
	Upload *handlers.UploadHandler
	Health *handlers.HealthHandler
	System *handlers.SystemHandler
}

// Server — HTTP-сервер upload-backend.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers) *Server {
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: NewRouter(logger, h),
		// ReadTimeout и WriteTimeout не заданы: передача крупного payload
		// в обе стороны ограничена только скоростью клиента
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер со всеми endpoints.
//
//	POST   /                          — запросы слотов (upload, delete, list)
//	PUT    /files/{id}/{filename}     — загрузка payload
//	GET    /files/{id}/{filename}     — скачивание payload (и HEAD)
//	DELETE /files/{id}/{filename}     — удаление payload
//	GET    /health/live, /health/ready, /api/v1/info, /metrics
//
// Прочие методы на путях слотов — 403 Access not allowed.
func NewRouter(logger *slog.Logger, h Handlers) http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.MethodNotAllowed(h.Upload.NotAllowed)
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, http.StatusNotFound, 0, "Not found.", nil)
	})

	router.Post("/", h.Upload.RequestSlot)

	payloadPath := FilesPrefix + "/{id}/{filename}"
	router.Put(payloadPath, h.Upload.Upload)
	router.Get(payloadPath, h.Upload.Download)
	router.Head(payloadPath, h.Upload.Download)
	router.Delete(payloadPath, h.Upload.Delete)

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/api/v1/info", h.System.GetInfo)
	router.Handle("/metrics", promhttp.Handler())

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// UPLOAD_SHUTDOWN_TIMEOUT.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
