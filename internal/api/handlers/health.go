// health.go — обработчики health endpoints для probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Oberon01/web-storage/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// ReadinessChecker — интерфейс для проверки готовности хранилищ.
type ReadinessChecker interface {
	Ready() bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// storage — хранилища метаданных и blob-ов
	storage ReadinessChecker
	// walDir — путь к директории журнала (пусто — проверка отключена)
	walDir string
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(storage ReadinessChecker, walDir string) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		storage: storage,
		walDir:  walDir,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "web-storage",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Хранилища не готовы → 503 fail. Журнал недоступен → 200 degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	storageCheck := map[string]any{"status": "ok"}
	if h.storage != nil && !h.storage.Ready() {
		storageCheck = map[string]any{
			"status":  statusFail,
			"message": "Хранилище метаданных или blob-ов недоступно",
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	walCheck := h.checkWAL()
	if walCheck["status"] != "ok" && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "web-storage",
		"checks": map[string]any{
			"storage": storageCheck,
			"wal":     walCheck,
		},
	})
}

// checkWAL проверяет доступность директории журнала на запись.
func (h *HealthHandler) checkWAL() map[string]any {
	if h.walDir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.walDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория WAL недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
