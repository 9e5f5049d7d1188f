package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/upload-backend/internal/config"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
)

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler("", "", "")

	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получено %d", rec.Code)
	}
	var body map[string]any
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" || body["service"] != "upload-backend" {
		t.Errorf("неверный ответ: %v", body)
	}
}

func TestHealthReady(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "missing")

	tests := []struct {
		name       string
		storage    string
		slots      string
		wal        string
		wantStatus int
		want       string
	}{
		{"все доступны", root, root, root, http.StatusOK, "ok"},
		{"нет WAL", root, root, missing, http.StatusOK, "degraded"},
		{"нет хранилища", missing, root, root, http.StatusServiceUnavailable, statusFail},
		{"нет реестра", root, missing, root, http.StatusServiceUnavailable, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.storage, tt.slots, tt.wal)

			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("ожидался статус %d, получено %d", tt.wantStatus, rec.Code)
			}
			var body map[string]any
			decodeJSON(t, rec, &body)
			if body["status"] != tt.want {
				t.Errorf("ожидался status %s, получено %v", tt.want, body["status"])
			}
		})
	}

	// Проверочный файл не остаётся в директории
	if _, err := os.Stat(filepath.Join(root, ".health_check")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("файл .health_check должен удаляться: %v", err)
	}
}

type fakeUsage struct {
	usage filestore.Usage
	err   error
}

func (f fakeUsage) Usage() (filestore.Usage, error) { return f.usage, f.err }

func TestGetInfo(t *testing.T) {
	cfg := &config.Config{
		MaxFileSize:         2048,
		DeleteMode:          config.DeleteModeToken,
		DeleteTokenValidity: 5 * time.Minute,
	}

	t.Run("с ёмкостью", func(t *testing.T) {
		h := NewSystemHandler(cfg, fakeUsage{usage: filestore.Usage{Total: 100, Used: 40, Available: 60}}, testLogger())

		rec := httptest.NewRecorder()
		h.GetInfo(rec, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))

		var info InfoResponse
		decodeJSON(t, rec, &info)
		if info.MaxFileSize != 2048 || info.DeleteMode != "token" || info.DeleteTokenValidity != 300 {
			t.Errorf("неверные параметры: %+v", info)
		}
		if info.Capacity == nil || info.Capacity.AvailableBytes != 60 {
			t.Errorf("неверная ёмкость: %+v", info.Capacity)
		}
	})

	t.Run("statfs недоступен", func(t *testing.T) {
		h := NewSystemHandler(cfg, fakeUsage{err: errors.New("statfs failed")}, testLogger())

		rec := httptest.NewRecorder()
		h.GetInfo(rec, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("ожидался статус 200, получено %d", rec.Code)
		}
		var info InfoResponse
		decodeJSON(t, rec, &info)
		if info.Capacity != nil {
			t.Errorf("ёмкость должна отсутствовать, получено %+v", info.Capacity)
		}
	})
}
