// system.go — обработчик GET /api/v1/stats (сводка по хранилищу).
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/Oberon01/web-storage/internal/api/errors"
	"github.com/Oberon01/web-storage/internal/domain/model"
	"github.com/Oberon01/web-storage/internal/storage/filestore"
)

// DiskUsageProvider — источник информации о дисковом пространстве.
// Реализация: filestore.FileStore (только локальный бэкенд).
type DiskUsageProvider interface {
	DiskUsage() (filestore.DiskUsage, error)
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	files  FileService
	disk   DiskUsageProvider
	logger *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// disk может быть nil (blob-ы не на локальном диске).
func NewSystemHandler(files FileService, disk DiskUsageProvider, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		files:  files,
		disk:   disk,
		logger: logger.With(slog.String("component", "system_handler")),
	}
}

type statsResponse struct {
	model.Stats
	Disk *filestore.DiskUsage `json:"disk,omitempty"`
}

// GetStats обрабатывает GET /api/v1/stats.
// Количество файлов по категориям, суммарный размер и, для локального
// хранилища, занятость диска.
func (h *SystemHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.files.Stats(r.Context())
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	resp := statsResponse{Stats: stats}
	if h.disk != nil {
		usage, err := h.disk.DiskUsage()
		if err != nil {
			h.logger.Warn("Не удалось получить занятость диска", slog.String("error", err.Error()))
		} else {
			resp.Disk = &usage
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
