// Пакет docfile — чтение и запись документа метаданных (files.json).
// Документ — JSON-массив всех FileRecord, перезаписывается целиком
// при каждой мутации. Запись атомарна: temp → fsync → rename → fsync dir,
// поэтому читатель видит либо старую, либо новую версию целиком.
package docfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

// DefaultName — имя документа в директории данных.
const DefaultName = "files.json"

// tmpPattern — шаблон временного файла рядом с документом.
const tmpPattern = ".*.tmp"

// Write атомарно записывает коллекцию записей в документ.
// Паттерн: JSON → temp файл в той же директории → fsync → atomic rename → fsync директории.
// nil-срез записывается как пустой массив.
func Write(path string, records []model.FileRecord) error {
	if records == nil {
		records = []model.FileRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации документа: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: не удалось создать директорию %s: %w", model.ErrIO, dir, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+tmpPattern)
	if err != nil {
		return fmt.Errorf("%w: ошибка создания временного файла: %w", model.ErrIO, err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: ошибка записи: %w", model.ErrIO, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: ошибка fsync: %w", model.ErrIO, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: ошибка закрытия файла: %w", model.ErrIO, err)
	}

	if err := os.Chmod(tmpPath, 0o640); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: ошибка установки прав: %w", model.ErrIO, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: ошибка атомарного переименования: %w", model.ErrIO, err)
	}

	// rename должен пережить сбой питания
	return syncDir(dir)
}

// Read читает и десериализует документ.
// Отсутствующий файл — ErrNotFound, невалидный JSON — ErrParse.
func Read(path string) ([]model.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: документ %s: %w", model.ErrNotFound, path, err)
		}
		return nil, fmt.Errorf("%w: ошибка чтения документа %s: %w", model.ErrIO, path, err)
	}

	var records []model.FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrParse, path, err)
	}

	return records, nil
}

// MoveAside переименовывает повреждённый документ в {path}.corrupt-{timestamp},
// сохраняя его для ручного разбора. Возвращает новый путь.
func MoveAside(path string, now time.Time) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405"))
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("%w: ошибка переименования %s: %w", model.ErrIO, path, err)
	}
	return target, nil
}

// CleanupTemp удаляет временные файлы, оставшиеся после прерванной записи.
func CleanupTemp(path string) (int, error) {
	matches, err := filepath.Glob(path + tmpPattern)
	if err != nil {
		return 0, fmt.Errorf("ошибка поиска временных файлов: %w", err)
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}

// syncDir выполняет fsync директории.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: ошибка открытия директории %s: %w", model.ErrIO, dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("%w: ошибка fsync директории %s: %w", model.ErrIO, dir, err)
	}
	return nil
}
