// download.go — отдача содержимого файла (предпросмотр и скачивание).
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/Oberon01/web-storage/internal/api/middleware"
	"github.com/Oberon01/web-storage/internal/domain/model"
)

// ServeContent отдаёт содержимое файла клиенту.
// attachment=false — inline (предпросмотр в браузере), true — скачивание.
//
// Для blob-ов с поддержкой Seek используется http.ServeContent:
// Range requests (206), If-None-Match (304 по ETag = checksum), Content-Length.
// Остальные отдаются потоком целиком.
//
// Ошибки возвращаются до записи заголовков: model.ErrNotFound, если нет
// записи или blob-а.
func (e *Engine) ServeContent(w http.ResponseWriter, r *http.Request, id string, attachment bool) error {
	// 1. Метаданные
	rec, err := e.Get(r.Context(), id)
	if err != nil {
		return err
	}

	// 2. Blob. Таймаут движка не применяется: чтение длится, пока клиент читает
	body, info, err := e.blobs.Open(r.Context(), rec.Path)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			e.logger.Error("Blob отсутствует для существующей записи",
				slog.String("file_id", id),
				slog.String("locator", rec.Path),
			)
		}
		return err
	}
	defer body.Close()

	// 3. Заголовки
	contentType := info.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(rec.Name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": rec.Name}))
	h.Set("X-Content-Type-Options", "nosniff")
	if rec.Checksum != "" {
		h.Set("ETag", fmt.Sprintf("%q", rec.Checksum))
	}

	// 4. Отдача
	if rs, ok := body.(io.ReadSeeker); ok {
		h.Set("Accept-Ranges", "bytes")
		http.ServeContent(w, r, rec.Name, info.ModTime, rs)
	} else {
		if info.Size > 0 {
			h.Set("Content-Length", fmt.Sprint(info.Size))
		}
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			if _, err := io.Copy(w, body); err != nil {
				e.logger.Warn("Передача содержимого прервана",
					slog.String("file_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()

	e.logger.Debug("Файл отдан",
		slog.String("file_id", id),
		slog.String("filename", rec.Name),
		slog.Int64("size", rec.Size),
	)
	return nil
}
