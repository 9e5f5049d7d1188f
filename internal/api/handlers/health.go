// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/upload-backend/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// serviceName — имя сервиса в ответах health и info.
const serviceName = "upload-backend"

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// storageDir — директория payload (обязательна для готовности)
	storageDir string
	// slotDir — директория реестра слотов (обязательна для готовности)
	slotDir string
	// walDir — директория WAL (недоступность снижает статус до degraded)
	walDir string
}

// NewHealthHandler создаёт обработчик health endpoints.
// Пустой путь отключает соответствующую проверку.
func NewHealthHandler(storageDir, slotDir, walDir string) *HealthHandler {
	return &HealthHandler{
		version:    config.Version,
		storageDir: storageDir,
		slotDir:    slotDir,
		walDir:     walDir,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет запись в директории payload, реестра и WAL.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	storageCheck := checkWritable(h.storageDir, "Директория payload недоступна для записи: ")
	registryCheck := checkWritable(h.slotDir, "Директория реестра недоступна для записи: ")
	if storageCheck["status"] != "ok" || registryCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Без WAL запросы обслуживаются, но восстановление после сбоя невозможно
	walCheck := checkWritable(h.walDir, "Директория WAL недоступна для записи: ")
	if walCheck["status"] != "ok" && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks": map[string]any{
			"storage":  storageCheck,
			"registry": registryCheck,
			"wal":      walCheck,
		},
	}

	writeJSON(w, httpStatus, resp)
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, failPrefix string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failPrefix + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
