// handler.go — общие типы и вспомогательные функции HTTP handlers.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

// FileService — операции ядра хранилища, используемые handlers.
// Реализация: service.Engine.
type FileService interface {
	Upload(ctx context.Context, filename string, r io.Reader) (model.FileRecord, error)
	Get(ctx context.Context, id string) (model.FileRecord, error)
	List(ctx context.Context, category *model.Category) ([]model.FileRecord, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (model.Stats, error)
	ServeContent(w http.ResponseWriter, r *http.Request, id string, attachment bool) error
	Ready() bool
}

// fileResponse — представление записи в API: запись плюс URL содержимого.
type fileResponse struct {
	model.FileRecord
	URL string `json:"url"`
}

// toFileResponse преобразует доменную запись в API-формат.
func toFileResponse(rec model.FileRecord) fileResponse {
	return fileResponse{
		FileRecord: rec,
		URL:        "/api/v1/files/" + rec.ID + "/content",
	}
}

// fileListResponse — ответ на запросы, возвращающие несколько записей.
type fileListResponse struct {
	Files []fileResponse `json:"files"`
	Total int            `json:"total"`
}

func toFileList(records []model.FileRecord) fileListResponse {
	files := make([]fileResponse, 0, len(records))
	for _, rec := range records {
		files = append(files, toFileResponse(rec))
	}
	return fileListResponse{Files: files, Total: len(files)}
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
