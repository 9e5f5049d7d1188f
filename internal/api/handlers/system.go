// system.go — обработчик GET /api/v1/info (информация об upload-backend).
// Публичный endpoint для мониторинга и проверки настроек XMPP-сервером.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/upload-backend/internal/config"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
)

// UsageProvider — источник информации о ёмкости тома хранения.
type UsageProvider interface {
	Usage() (filestore.Usage, error)
}

// CapacityInfo — ёмкость тома хранения в байтах.
type CapacityInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// InfoResponse — ответ GET /api/v1/info.
type InfoResponse struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	MaxFileSize int64  `json:"max_file_size"`
	DeleteMode  string `json:"delete_mode"`
	// DeleteTokenValidity — срок действия токена удаления в секундах
	DeleteTokenValidity int64 `json:"delete_token_validity"`
	// Capacity отсутствует, если statfs недоступен
	Capacity *CapacityInfo `json:"capacity,omitempty"`
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg    *config.Config
	usage  UsageProvider
	logger *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(cfg *config.Config, usage UsageProvider, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		cfg:    cfg,
		usage:  usage,
		logger: logger.With(slog.String("component", "system_handler")),
	}
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	resp := InfoResponse{
		Service:             serviceName,
		Version:             config.Version,
		MaxFileSize:         h.cfg.MaxFileSize,
		DeleteMode:          string(h.cfg.DeleteMode),
		DeleteTokenValidity: int64(h.cfg.DeleteTokenValidity.Seconds()),
	}

	if h.usage != nil {
		usage, err := h.usage.Usage()
		if err != nil {
			h.logger.Warn("Не удалось получить ёмкость тома", slog.String("error", err.Error()))
		} else {
			resp.Capacity = &CapacityInfo{
				TotalBytes:     usage.Total,
				UsedBytes:      usage.Used,
				AvailableBytes: usage.Available,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
