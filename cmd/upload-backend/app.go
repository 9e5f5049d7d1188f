// app.go — инициализация компонентов по конфигурации.
package main

import (
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/upload-backend/internal/config"
	"github.com/bigkaa/goartstore/upload-backend/internal/service"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/registry"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/wal"
)

// app — собранные компоненты upload-backend.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	store    *filestore.FileStore
	slots    *service.SlotService
}

// newApp загружает конфигурацию и инициализирует хранилища.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}

	logger := config.SetupLogger(cfg)

	// 1. Реестр слотов
	reg, err := registry.New(cfg.SlotDir, registry.WithCache(cfg.RegistryCacheSize, cfg.RegistryCacheTTL))
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации реестра: %w", err)
	}

	// 2. Файловое хранилище
	store, err := filestore.New(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации FileStore: %w", err)
	}

	// 3. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации WAL: %w", err)
	}

	// 4. Сервис слотов
	slots, err := service.NewSlotService(cfg, reg, store, walEngine, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации сервиса слотов: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		store:    store,
		slots:    slots,
	}, nil
}

// recoverWAL обрабатывает незавершённые WAL-транзакции.
func (a *app) recoverWAL() (service.RecoveryReport, error) {
	report, err := a.slots.Recover()
	if err != nil {
		return report, err
	}
	if report.Pending > 0 {
		a.logger.Info("WAL recovery завершён",
			slog.Int("pending", report.Pending),
			slog.Int("completed", report.Completed),
			slog.Int("rolled_back", report.RolledBack),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}
