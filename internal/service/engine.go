// Пакет service — ядро хранилища: загрузка, удаление и выборка файлов.
// engine.go — фасад Engine, объединяющий классификатор, хранилище blob-ов,
// хранилище метаданных и журнал транзакций.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Oberon01/web-storage/internal/api/middleware"
	"github.com/Oberon01/web-storage/internal/domain/model"
	"github.com/Oberon01/web-storage/internal/storage/wal"
)

// MetadataStore — долговременное отображение id → FileRecord.
// Реализации: metastore.JSONStore, pgstore.Store.
type MetadataStore interface {
	// List возвращает все записи в порядке вставки.
	List(ctx context.Context) ([]model.FileRecord, error)
	// Get возвращает запись или model.ErrNotFound.
	Get(ctx context.Context, id string) (model.FileRecord, error)
	// Insert добавляет запись; повторяющийся id — model.ErrConflict.
	Insert(ctx context.Context, rec model.FileRecord) error
	// Remove удаляет запись или возвращает model.ErrNotFound.
	Remove(ctx context.Context, id string) error
	// Ready сообщает о готовности хранилища.
	Ready() bool
}

// BlobStore — хранилище содержимого файлов.
// Реализации: filestore.FileStore, s3store.Store.
type BlobStore interface {
	Put(ctx context.Context, originalFilename string, r io.Reader) (model.PutResult, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, model.BlobInfo, error)
	Delete(ctx context.Context, locator string) error
	Exists(ctx context.Context, locator string) (bool, error)
	Ready() bool
}

// Engine — фасад хранилища. Безопасен для конкурентного использования:
// сериализация мутаций метаданных обеспечивается MetadataStore.
type Engine struct {
	meta    MetadataStore
	blobs   BlobStore
	journal *wal.WAL
	timeout time.Duration
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine создаёт фасад хранилища.
// journal может быть nil — тогда операции не журналируются.
// timeout ограничивает обращения к хранилищам и журналу (не чтение тела
// загрузки); 0 — без ограничения.
func NewEngine(meta MetadataStore, blobs BlobStore, journal *wal.WAL, timeout time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		meta:    meta,
		blobs:   blobs,
		journal: journal,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "engine")),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Upload сохраняет файл и создаёт запись метаданных.
//
// Поток:
//  1. Классификация имени
//  2. Blob.Put (streaming + SHA-256); ошибка → ErrUploadFailed, метаданные не создаются
//  3. WAL Begin (file_create, id + локатор)
//  4. Meta.Insert
//  5. WAL Commit
//
// Ошибка вставки метаданных → best-effort удаление blob-а, WAL Rollback, ошибка вызывающему.
//
// Таймаут движка не распространяется на чтение r: тело запроса может
// поступать сколь угодно долго. Put прерывается только отменой ctx вызывающего.
func (e *Engine) Upload(ctx context.Context, filename string, r io.Reader) (model.FileRecord, error) {
	start := time.Now()

	// 1. Классификация
	fileType, category := model.Classify(filename)

	// 2. Запись blob-а
	put, err := e.blobs.Put(ctx, filename, r)
	if err != nil {
		e.logger.Error("Ошибка сохранения blob-а",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		e.observe("upload", "error", start)
		return model.FileRecord{}, fmt.Errorf("%w: %w", model.ErrUploadFailed, err)
	}

	// 3. Запись метаданных
	rec := model.FileRecord{
		ID:         e.newID(),
		Name:       filename,
		Type:       fileType,
		Category:   category,
		Size:       put.Size,
		UploadDate: e.now().UTC(),
		Path:       put.Locator,
		Checksum:   put.Checksum,
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var tx *wal.Entry
	if e.journal != nil {
		tx, err = e.journal.Begin(wal.OpFileCreate, rec.ID, rec.Path)
		if err != nil {
			e.discardBlob(ctx, rec.Path)
			e.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
			e.observe("upload", "error", start)
			return model.FileRecord{}, fmt.Errorf("%w: %w", model.ErrUploadFailed, err)
		}
	}

	// 4. Вставка в хранилище метаданных
	if err := e.meta.Insert(ctx, rec); err != nil {
		e.discardBlob(ctx, rec.Path)
		e.finishTx(tx, false)
		e.logger.Error("Ошибка записи метаданных, blob удалён",
			slog.String("file_id", rec.ID),
			slog.String("locator", rec.Path),
			slog.String("error", err.Error()),
		)
		e.observe("upload", "error", start)
		return model.FileRecord{}, fmt.Errorf("запись метаданных %s: %w", rec.ID, err)
	}

	// 5. Коммит
	e.finishTx(tx, true)
	e.observe("upload", "success", start)
	e.refreshGauges(ctx)

	e.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.Name),
		slog.String("type", string(rec.Type)),
		slog.Int64("size", rec.Size),
	)
	return rec, nil
}

// Delete удаляет файл.
//
// Удаление метаданных авторитетно, удаление blob-а — best-effort:
// ошибка удаления blob-а (включая его отсутствие) логируется и не
// возвращается. Возможные исходы: {удалены метаданные и blob,
// удалены метаданные, blob остался}.
//
// Если удаление метаданных не удалось (кроме ErrNotFound), транзакция
// file_delete остаётся в журнале: Recover при следующем старте завершит
// удаление записи, чей blob уже мог быть удалён.
func (e *Engine) Delete(ctx context.Context, id string) error {
	start := time.Now()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	// 1. Поиск записи
	rec, err := e.meta.Get(ctx, id)
	if err != nil {
		e.observe("delete", resultOf(err), start)
		return err
	}

	var tx *wal.Entry
	if e.journal != nil {
		tx, err = e.journal.Begin(wal.OpFileDelete, rec.ID, rec.Path)
		if err != nil {
			e.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
			e.observe("delete", "error", start)
			return err
		}
	}

	// 2. Blob — best-effort
	e.deleteBlobBestEffort(ctx, rec)

	// 3. Метаданные — результат операции
	if err := e.meta.Remove(ctx, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			e.finishTx(tx, false)
		}
		e.logger.Error("Ошибка удаления метаданных",
			slog.String("file_id", id),
			slog.Bool("wal_pending", tx != nil && !errors.Is(err, model.ErrNotFound)),
			slog.String("error", err.Error()),
		)
		e.observe("delete", resultOf(err), start)
		return err
	}

	e.finishTx(tx, true)
	e.observe("delete", "success", start)
	e.refreshGauges(ctx)

	e.logger.Info("Файл удалён",
		slog.String("file_id", id),
		slog.String("filename", rec.Name),
	)
	return nil
}

// Get возвращает запись по id.
func (e *Engine) Get(ctx context.Context, id string) (model.FileRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.meta.Get(ctx, id)
}

// List возвращает все записи или только записи категории.
// Категория сравнивается по производному значению из типа.
func (e *Engine) List(ctx context.Context, category *model.Category) ([]model.FileRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	records, err := e.meta.List(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]model.FileRecord, 0, len(records))
	for _, rec := range records {
		if category != nil && !rec.MatchesCategory(*category) {
			continue
		}
		rec.Normalize()
		result = append(result, rec)
	}
	return result, nil
}

// Stats возвращает сводку по хранилищу.
func (e *Engine) Stats(ctx context.Context) (model.Stats, error) {
	records, err := e.List(ctx, nil)
	if err != nil {
		return model.Stats{}, err
	}
	return model.ComputeStats(records), nil
}

// Ready сообщает о готовности хранилищ метаданных и blob-ов.
func (e *Engine) Ready() bool {
	return e.meta.Ready() && e.blobs.Ready()
}

// RefreshMetrics пересчитывает gauge-метрики по текущему состоянию.
func (e *Engine) RefreshMetrics(ctx context.Context) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	e.refreshGauges(ctx)
}

// deleteBlobBestEffort удаляет blob, логируя и поглощая ошибки.
func (e *Engine) deleteBlobBestEffort(ctx context.Context, rec model.FileRecord) {
	err := e.blobs.Delete(ctx, rec.Path)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		e.logger.Warn("Blob уже отсутствует, удаляются только метаданные",
			slog.String("file_id", rec.ID),
			slog.String("locator", rec.Path),
		)
	default:
		e.logger.Error("Ошибка удаления blob-а, возможна утечка",
			slog.String("file_id", rec.ID),
			slog.String("locator", rec.Path),
			slog.String("error", err.Error()),
		)
	}
}

// discardBlob удаляет blob, для которого не удалось создать метаданные.
func (e *Engine) discardBlob(ctx context.Context, locator string) {
	// Контекст операции мог истечь: очистка получает собственный таймаут
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := e.blobs.Delete(ctx, locator); err != nil && !errors.Is(err, model.ErrNotFound) {
		e.logger.Error("Не удалось удалить осиротевший blob",
			slog.String("locator", locator),
			slog.String("error", err.Error()),
		)
	}
}

// finishTx завершает транзакцию журнала. Ошибка журнала не влияет на результат.
func (e *Engine) finishTx(tx *wal.Entry, commit bool) {
	if tx == nil {
		return
	}
	var err error
	if commit {
		err = e.journal.Commit(tx.TransactionID)
	} else {
		err = e.journal.Rollback(tx.TransactionID)
	}
	if err != nil {
		e.logger.Error("Ошибка завершения WAL-транзакции",
			slog.String("tx_id", tx.TransactionID),
			slog.Bool("commit", commit),
			slog.String("error", err.Error()),
		)
	}
}

// refreshGauges обновляет метрики количества и объёма файлов.
func (e *Engine) refreshGauges(ctx context.Context) {
	records, err := e.meta.List(ctx)
	if err != nil {
		e.logger.Warn("Не удалось обновить метрики", slog.String("error", err.Error()))
		return
	}
	s := model.ComputeStats(records)
	middleware.FilesTotal.WithLabelValues(string(model.CategoryDocument)).Set(float64(s.Documents))
	middleware.FilesTotal.WithLabelValues(string(model.CategoryMedia)).Set(float64(s.Media))
	middleware.StorageBytes.Set(float64(s.TotalBytes))
}

// observe записывает метрики операции.
func (e *Engine) observe(op, result string, start time.Time) {
	middleware.OperationsTotal.WithLabelValues(op, result).Inc()
	middleware.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// withTimeout ограничивает операцию таймаутом движка.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// cleanupTimeout — ограничение на очистку после неудачной операции.
const cleanupTimeout = 10 * time.Second

// resultOf — значение лейбла result для метрик.
func resultOf(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
