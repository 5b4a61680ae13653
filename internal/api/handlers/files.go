// files.go — HTTP handlers для файловых операций.
// Upload, List, Get metadata, Content (предпросмотр/скачивание), Delete.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Oberon01/web-storage/internal/api/errors"
	"github.com/Oberon01/web-storage/internal/domain/model"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	files  FileService
	logger *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(files FileService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		files:  files,
		logger: logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /api/v1/files/upload.
// Multipart form: одна или несколько частей "file". Части читаются потоком,
// без буферизации в памяти или на диске. Остальные поля игнорируются.
//
// Файлы сохраняются по порядку. Ошибка прерывает пакет: уже сохранённые
// файлы остаются в хранилище.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}

	var uploaded []model.FileRecord
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			apierrors.ValidationError(w, "Ошибка разбора multipart: "+err.Error())
			return
		}

		filename := part.FileName()
		if part.FormName() != "file" || filename == "" {
			part.Close()
			continue
		}

		rec, err := h.files.Upload(r.Context(), filename, part)
		part.Close()
		if err != nil {
			if len(uploaded) > 0 {
				h.logger.Warn("Пакетная загрузка прервана",
					slog.Int("uploaded", len(uploaded)),
					slog.String("failed_filename", filename),
				)
			}
			apierrors.FromService(w, err)
			return
		}
		uploaded = append(uploaded, rec)
	}

	if len(uploaded) == 0 {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}

	writeJSON(w, http.StatusCreated, toFileList(uploaded))
}

// ListFiles обрабатывает GET /api/v1/files.
// Фильтр: category (all, documents, media). Порядок — порядок загрузки.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	category, err := model.ParseCategoryFilter(r.URL.Query().Get("category"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	records, err := h.files.List(r.Context(), category)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileList(records))
}

// GetFileMetadata обрабатывает GET /api/v1/files/{id}.
func (h *FilesHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := h.files.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// FileContent обрабатывает GET /api/v1/files/{id}/content.
// По умолчанию inline (предпросмотр); ?download=true — скачивание.
// Поддерживает Range requests (206) и ETag (If-None-Match → 304).
func (h *FilesHandler) FileContent(w http.ResponseWriter, r *http.Request) {
	attachment, _ := strconv.ParseBool(r.URL.Query().Get("download"))

	if err := h.files.ServeContent(w, r, chi.URLParam(r, "id"), attachment); err != nil {
		apierrors.FromService(w, err)
	}
}

// DeleteFile обрабатывает DELETE /api/v1/files/{id}.
// Метаданные удаляются всегда, отсутствие blob-а не ошибка.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.files.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierrors.FromService(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
