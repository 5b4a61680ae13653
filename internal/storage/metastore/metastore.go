// Пакет metastore — хранилище метаданных на основе одного JSON-документа.
//
// Вся коллекция FileRecord хранится в {dataDir}/files.json и перезаписывается
// целиком при каждой мутации (через docfile, атомарно).
//
// Мутации (Insert, Remove) выполняют цикл «прочитать с диска → изменить →
// записать» под двумя блокировками: sync.Mutex внутри процесса и
// эксклюзивный flock() на {document}.lock между процессами. Обновления не теряются.
//
// Чтения (List, Get) не берут блокировку записи: они обслуживаются из
// in-memory снимка (index), который перечитывается, если документ на диске
// был заменён другим процессом (смена inode после rename).
package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Oberon01/web-storage/internal/domain/model"
	"github.com/Oberon01/web-storage/internal/storage/docfile"
	"github.com/Oberon01/web-storage/internal/storage/index"
)

const (
	// lockSuffix — суффикс файла межпроцессной блокировки.
	lockSuffix = ".lock"
	// lockRetryInterval — интервал повторных попыток захвата flock.
	lockRetryInterval = 10 * time.Millisecond
)

// JSONStore — хранилище метаданных в JSON-документе.
type JSONStore struct {
	path     string
	lockPath string
	idx      *index.Index
	logger   *slog.Logger

	// writeMu сериализует мутации внутри процесса.
	writeMu sync.Mutex

	// snapMu защищает loaded — FileInfo документа, из которого построен снимок.
	snapMu sync.Mutex
	loaded os.FileInfo
}

// Open открывает (или создаёт) хранилище в директории dataDir.
//
// Отсутствующий документ создаётся пустым. Повреждённый документ
// переносится в {document}.corrupt-{timestamp}, хранилище стартует пустым.
// Категории, расходящиеся с типом, исправляются и записываются обратно.
func Open(dataDir string, logger *slog.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: создание директории данных %s: %w", model.ErrIO, dataDir, err)
	}

	path := filepath.Join(dataDir, docfile.DefaultName)
	s := &JSONStore{
		path:     path,
		lockPath: path + lockSuffix,
		idx:      index.New(logger),
		logger:   logger.With(slog.String("component", "metastore")),
	}

	unlock, err := s.acquireFileLock(context.Background())
	if err != nil {
		return nil, err
	}
	defer unlock()

	if n, err := docfile.CleanupTemp(path); err != nil {
		s.logger.Warn("Не удалось очистить временные файлы", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("Удалены временные файлы прерванной записи", slog.Int("count", n))
	}

	records, err := s.loadForOpen()
	if err != nil {
		return nil, err
	}

	if repaired := s.idx.Replace(records); repaired > 0 {
		// Исправленные категории сохраняются, чтобы документ не расходился со снимком
		if err := docfile.Write(path, s.idx.List(nil)); err != nil {
			return nil, err
		}
	}

	if err := s.markLoaded(); err != nil {
		return nil, err
	}

	s.logger.Info("Хранилище метаданных открыто",
		slog.String("path", path),
		slog.Int("records", s.idx.Count()),
	)
	return s, nil
}

// loadForOpen читает документ при старте с восстановлением после повреждения.
func (s *JSONStore) loadForOpen() ([]model.FileRecord, error) {
	records, err := docfile.Read(s.path)
	switch {
	case err == nil:
		return records, nil

	case errors.Is(err, model.ErrNotFound):
		s.logger.Info("Документ метаданных отсутствует, создаётся пустой",
			slog.String("path", s.path),
		)

	case errors.Is(err, model.ErrParse):
		target, mvErr := docfile.MoveAside(s.path, time.Now())
		if mvErr != nil {
			return nil, mvErr
		}
		s.logger.Error("Документ метаданных повреждён, хранилище инициализировано пустым",
			slog.String("path", s.path),
			slog.String("backup", target),
			slog.String("error", err.Error()),
		)

	default:
		return nil, err
	}

	if err := docfile.Write(s.path, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

// Path возвращает путь к документу метаданных.
func (s *JSONStore) Path() string {
	return s.path
}

// Ready сообщает, загружен ли снимок.
func (s *JSONStore) Ready() bool {
	return s.idx.IsReady()
}

// List возвращает все записи в порядке вставки.
func (s *JSONStore) List(ctx context.Context) ([]model.FileRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.refresh()
	return s.idx.List(nil), nil
}

// Get возвращает запись по id.
func (s *JSONStore) Get(ctx context.Context, id string) (model.FileRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return model.FileRecord{}, err
	}
	s.refresh()
	rec, ok := s.idx.Get(id)
	if !ok {
		return model.FileRecord{}, fmt.Errorf("%w: запись %s", model.ErrNotFound, id)
	}
	return rec, nil
}

// Insert добавляет запись. Повторяющийся id — ErrConflict.
func (s *JSONStore) Insert(ctx context.Context, rec model.FileRecord) error {
	rec.Normalize()
	return s.mutate(ctx, func(records []model.FileRecord) ([]model.FileRecord, error) {
		for i := range records {
			if records[i].ID == rec.ID {
				return nil, fmt.Errorf("%w: запись %s", model.ErrConflict, rec.ID)
			}
		}
		return append(records, rec), nil
	})
}

// Remove удаляет запись по id. Отсутствующий id — ErrNotFound.
func (s *JSONStore) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(records []model.FileRecord) ([]model.FileRecord, error) {
		for i := range records {
			if records[i].ID == id {
				return append(records[:i:i], records[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: запись %s", model.ErrNotFound, id)
	})
}

// mutate выполняет цикл read-modify-write под обеими блокировками.
// Коллекция читается с диска, а не из снимка: другой процесс мог её изменить.
func (s *JSONStore) mutate(ctx context.Context, fn func([]model.FileRecord) ([]model.FileRecord, error)) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	unlock, err := s.acquireFileLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := docfile.Read(s.path)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		// Документ удалён извне — продолжаем с пустой коллекцией
		current = nil
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if err := docfile.Write(s.path, next); err != nil {
		return err
	}

	s.idx.Replace(next)
	if err := s.markLoaded(); err != nil {
		s.logger.Warn("Не удалось получить состояние документа", slog.String("error", err.Error()))
	}
	return nil
}

// refresh перечитывает снимок, если документ на диске был заменён.
// Ошибка чтения не прерывает операцию: используется прежний снимок.
func (s *JSONStore) refresh() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	st, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if s.loaded != nil && os.SameFile(s.loaded, st) {
		return
	}

	records, err := docfile.Read(s.path)
	if err != nil {
		s.logger.Warn("Не удалось перечитать документ метаданных",
			slog.String("error", err.Error()),
		)
		return
	}
	s.idx.Replace(records)
	s.loaded = st
}

// markLoaded запоминает состояние документа, соответствующее текущему снимку.
func (s *JSONStore) markLoaded() error {
	st, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", model.ErrIO, s.path, err)
	}
	s.snapMu.Lock()
	s.loaded = st
	s.snapMu.Unlock()
	return nil
}

// acquireFileLock захватывает эксклюзивный flock() на {document}.lock.
// Неблокирующие попытки повторяются до истечения ctx (→ ErrTimeout).
func (s *JSONStore) acquireFileLock(ctx context.Context) (func(), error) {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: открытие файла блокировки %s: %w", model.ErrIO, s.lockPath, err)
	}

	fd := int(f.Fd())
	for {
		err = syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EINTR) {
			f.Close()
			return nil, fmt.Errorf("%w: flock %s: %w", model.ErrIO, s.lockPath, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("%w: ожидание блокировки метаданных: %w", model.ErrTimeout, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		_ = syscall.Flock(fd, syscall.LOCK_UN)
		f.Close()
	}, nil
}

// ctxErr преобразует завершённый контекст в ErrTimeout.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrTimeout, err)
	}
	return nil
}
