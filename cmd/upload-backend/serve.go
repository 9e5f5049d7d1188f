package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-backend/internal/api/handlers"
	"github.com/bigkaa/goartstore/upload-backend/internal/config"
	"github.com/bigkaa/goartstore/upload-backend/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер",
		Long: `Запускает HTTP-сервер. Перед приёмом запросов обрабатываются
незавершённые WAL-транзакции, оставшиеся после сбоя.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

func runServe(_ *cobra.Command, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	cfg := a.cfg

	a.logger.Info("upload-backend запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("public_base_url", cfg.PublicBaseURL),
		slog.String("delete_mode", string(cfg.DeleteMode)),
		slog.Int64("max_file_size", cfg.MaxFileSize),
	)

	// WAL recovery до приёма запросов
	if _, err := a.recoverWAL(); err != nil {
		return fmt.Errorf("ошибка восстановления WAL: %w", err)
	}

	srv := server.New(cfg, a.logger, server.Handlers{
		Upload: handlers.NewUploadHandler(a.slots, a.logger),
		Health: handlers.NewHealthHandler(cfg.StorageDir, cfg.SlotDir, cfg.WALDir),
		System: handlers.NewSystemHandler(cfg, a.store, a.logger),
	})

	if err := srv.Run(); err != nil {
		a.logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return err
	}

	a.logger.Info("upload-backend остановлен")
	return nil
}
