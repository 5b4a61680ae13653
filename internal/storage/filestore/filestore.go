// Пакет filestore — локальное хранилище blob-ов.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение, удаление и информацию о ёмкости диска.
// Blob хранится под уникальным именем (локатором) прямо в корне хранилища.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

// maxBaseLen — ограничение длины очищенного имени в локаторе.
const maxBaseLen = 50

// FileStore — управление blob-ами на локальном диске.
type FileStore struct {
	// root — корневая директория хранения (WS_UPLOAD_DIR)
	root string
	// now — источник времени для префикса локатора
	now func() time.Time
}

// New создаёт FileStore. Директория создаётся при первой записи.
func New(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

// Root возвращает путь к корню хранилища.
func (fs *FileStore) Root() string {
	return fs.root
}

// Put записывает данные из reader под новым уникальным локатором.
// Формат имени: {unixMillis}-{uuid8}-{name}{ext}
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется, ничего не остаётся.
func (fs *FileStore) Put(ctx context.Context, originalFilename string, reader io.Reader) (model.PutResult, error) {
	if err := os.MkdirAll(fs.root, 0o750); err != nil {
		return model.PutResult{}, fmt.Errorf("%w: не удалось создать директорию %s: %w", model.ErrIO, fs.root, err)
	}

	locator := generateLocator(originalFilename, fs.now())
	fullPath := filepath.Join(fs.root, locator)
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return model.PutResult{}, fmt.Errorf("%w: ошибка создания временного файла: %w", model.ErrIO, err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(&ctxReader{ctx: ctx, r: reader}, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return model.PutResult{}, writeErr("ошибка записи данных", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return model.PutResult{}, fmt.Errorf("%w: ошибка fsync: %w", model.ErrIO, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return model.PutResult{}, fmt.Errorf("%w: ошибка закрытия файла: %w", model.ErrIO, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return model.PutResult{}, fmt.Errorf("%w: ошибка атомарного переименования: %w", model.ErrIO, err)
	}

	return model.PutResult{
		Locator:  locator,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения. Возвращаемый *os.File реализует io.ReadSeeker.
// Вызывающий код обязан закрыть reader.
func (fs *FileStore) Open(_ context.Context, locator string) (io.ReadCloser, model.BlobInfo, error) {
	fullPath, err := fs.resolve(locator)
	if err != nil {
		return nil, model.BlobInfo{}, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.BlobInfo{}, fmt.Errorf("%w: blob %s", model.ErrNotFound, locator)
		}
		return nil, model.BlobInfo{}, fmt.Errorf("%w: ошибка открытия %s: %w", model.ErrIO, locator, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, model.BlobInfo{}, fmt.Errorf("%w: stat %s: %w", model.ErrIO, locator, err)
	}

	return f, model.BlobInfo{
		Size:        st.Size(),
		ModTime:     st.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(locator)),
	}, nil
}

// Delete удаляет blob. Отсутствующий blob — ErrNotFound.
func (fs *FileStore) Delete(_ context.Context, locator string) error {
	fullPath, err := fs.resolve(locator)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: blob %s", model.ErrNotFound, locator)
		}
		return fmt.Errorf("%w: ошибка удаления %s: %w", model.ErrIO, locator, err)
	}
	return nil
}

// Exists проверяет существование blob-а.
func (fs *FileStore) Exists(_ context.Context, locator string) (bool, error) {
	fullPath, err := fs.resolve(locator)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %w", model.ErrIO, locator, err)
	}
	return true, nil
}

// Ready проверяет доступность корня хранилища.
// Отсутствующий корень допустим: он будет создан при первой записи.
func (fs *FileStore) Ready() bool {
	st, err := os.Stat(fs.root)
	if err != nil {
		return os.IsNotExist(err)
	}
	return st.IsDir()
}

// resolve превращает локатор в путь на диске.
// Локатор — голое имя файла: разделители пути и ".." отклоняются.
func (fs *FileStore) resolve(locator string) (string, error) {
	if !ValidLocator(locator) {
		return "", fmt.Errorf("%w: недопустимый локатор %q", model.ErrValidation, locator)
	}
	return filepath.Join(fs.root, locator), nil
}

// ValidLocator проверяет, что локатор — голое имя файла без перехода по директориям.
func ValidLocator(locator string) bool {
	if locator == "" || locator == "." || locator == ".." {
		return false
	}
	if strings.ContainsAny(locator, `/\`) || strings.Contains(locator, "..") {
		return false
	}
	return !strings.HasSuffix(locator, ".tmp")
}

// GenerateLocator генерирует уникальное имя для хранения blob-а.
// Экспортируется для других реализаций хранилища (s3store).
func GenerateLocator(originalFilename string, now time.Time) string {
	return generateLocator(originalFilename, now)
}

// generateLocator генерирует имя файла для хранения.
// Формат: {unixMillis}-{uuid8}-{name}{ext}
// Пример: 1760870400000-a1b2c3d4-My_Photo.jpg
func generateLocator(originalFilename string, now time.Time) string {
	// Клиент может прислать путь — оставляем только последний элемент
	base := originalFilename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	ext := filepath.Ext(base)
	name := sanitize(strings.TrimSuffix(base, ext))
	if ext != "" {
		ext = "." + strings.ToLower(sanitizeExt(ext[1:]))
		if ext == "." {
			ext = ""
		}
	}

	// Ограничиваем длину имени для предотвращения проблем с FS
	if r := []rune(name); len(r) > maxBaseLen {
		name = string(r[:maxBaseLen])
	}

	uid := uuid.New().String()[:8] // Короткий UUID для уникальности
	return fmt.Sprintf("%d-%s-%s%s", now.UnixMilli(), uid, name, ext)
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Пробелы заменяются на '_'; остаются буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case r == ' ':
			result.WriteRune('_')
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF): // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет в расширении только латиницу и цифры.
func sanitizeExt(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ctxReader прерывает чтение после отмены контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// writeErr сопоставляет ошибку потоковой записи виду ошибки.
func writeErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", model.ErrTimeout, msg, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrIO, msg, err)
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func parentDir(path string) string {
	return filepath.Dir(filepath.Clean(path))
}
