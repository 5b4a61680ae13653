package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Oberon01/web-storage/internal/domain/model"
	"github.com/Oberon01/web-storage/internal/storage/docfile"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// newRecord создаёт тестовую запись с классифицированным типом.
func newRecord(id, name string) model.FileRecord {
	ft, cat := model.Classify(name)
	return model.FileRecord{
		ID:         id,
		Name:       name,
		Type:       ft,
		Category:   cat,
		Size:       int64(len(name)),
		UploadDate: time.Now().UTC().Truncate(time.Millisecond),
		Path:       "blob-" + id,
	}
}

// openStore открывает хранилище в директории, завершая тест при ошибке.
func openStore(t *testing.T, dir string) *JSONStore {
	t.Helper()
	s, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

// TestOpen_CreatesEmptyDocument проверяет создание пустого документа.
func TestOpen_CreatesEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if !s.Ready() {
		t.Error("хранилище должно быть ready после Open")
	}
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ожидалась пустая коллекция, получено %d", len(list))
	}

	data, err := os.ReadFile(filepath.Join(dir, docfile.DefaultName))
	if err != nil {
		t.Fatalf("документ не создан: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("ожидался пустой массив, получено %q", data)
	}
}

// TestInsertGetRemove проверяет базовый цикл мутаций.
func TestInsertGetRemove(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	rec := newRecord("id-1", "report.pdf")
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "id-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != rec.Name || got.Path != rec.Path || !got.UploadDate.Equal(rec.UploadDate) {
		t.Errorf("запись не совпадает: %+v vs %+v", got, rec)
	}

	if err := s.Remove(ctx, "id-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, "id-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("после Remove ожидалась ErrNotFound, получено %v", err)
	}
}

// TestInsert_Conflict проверяет отказ при повторяющемся id.
func TestInsert_Conflict(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	if err := s.Insert(ctx, newRecord("dup", "a.txt")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert(ctx, newRecord("dup", "b.txt"))
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("ожидалась ErrConflict, получено %v", err)
	}

	list, _ := s.List(ctx)
	if len(list) != 1 || list[0].Name != "a.txt" {
		t.Errorf("конфликт не должен менять коллекцию: %v", list)
	}
}

// TestRemove_NotFound проверяет удаление несуществующей записи.
func TestRemove_NotFound(t *testing.T) {
	s := openStore(t, t.TempDir())
	if err := s.Remove(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestList_InsertionOrderAndIdempotent проверяет порядок вставки
// и повторяемость List без мутаций.
func TestList_InsertionOrderAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	for _, id := range []string{"z", "a", "m"} {
		if err := s.Insert(ctx, newRecord(id, id+".png")); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	first, _ := s.List(ctx)
	second, _ := s.List(ctx)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("ожидалось 3 записи: %d, %d", len(first), len(second))
	}
	for i, id := range []string{"z", "a", "m"} {
		if first[i].ID != id || second[i].ID != id {
			t.Errorf("позиция %d: ожидался %s, получено %s / %s", i, id, first[i].ID, second[i].ID)
		}
	}
}

// TestDurability_Reopen проверяет сохранность записей после перезапуска.
func TestDurability_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openStore(t, dir)
	if err := s.Insert(ctx, newRecord("keep", "photo.jpg")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, newRecord("drop", "notes.txt")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Remove(ctx, "drop"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	reopened := openStore(t, dir)
	list, _ := reopened.List(ctx)
	if len(list) != 1 || list[0].ID != "keep" {
		t.Errorf("после перезапуска ожидалась одна запись keep, получено %v", list)
	}
}

// TestOpen_CorruptDocument проверяет восстановление после повреждения документа.
func TestOpen_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, docfile.DefaultName)
	if err := os.WriteFile(path, []byte("not json at all"), 0o640); err != nil {
		t.Fatalf("ошибка создания файла: %v", err)
	}

	s := openStore(t, dir)
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ожидалась пустая коллекция, получено %d", len(list))
	}

	backups, _ := filepath.Glob(path + ".corrupt-*")
	if len(backups) != 1 {
		t.Fatalf("ожидалась одна резервная копия, найдено %v", backups)
	}
	data, _ := os.ReadFile(backups[0])
	if string(data) != "not json at all" {
		t.Errorf("содержимое резервной копии изменено: %q", data)
	}
}

// TestOpen_RepairsCategory проверяет исправление категорий при загрузке.
func TestOpen_RepairsCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, docfile.DefaultName)

	bad := newRecord("v", "movie.mkv")
	bad.Category = model.CategoryDocument
	if err := docfile.Write(path, []model.FileRecord{bad}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s := openStore(t, dir)
	got, err := s.Get(context.Background(), "v")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Category != model.CategoryMedia {
		t.Errorf("категория: ожидалась media, получена %q", got.Category)
	}

	onDisk, _ := docfile.Read(path)
	if onDisk[0].Category != model.CategoryMedia {
		t.Errorf("исправление должно быть сохранено, на диске %q", onDisk[0].Category)
	}
}

// TestOpen_RemovesTempFiles проверяет очистку temp файлов прерванной записи.
func TestOpen_RemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, docfile.DefaultName+".42.tmp")
	os.WriteFile(stale, []byte("[{"), 0o640)

	openStore(t, dir)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("временный файл должен быть удалён")
	}
}

// TestConcurrentInsert_NoLostUpdates проверяет, что параллельные вставки
// не теряют обновлений.
func TestConcurrentInsert_NoLostUpdates(t *testing.T) {
	const n = 50
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			return s.Insert(ctx, newRecord(fmt.Sprintf("id-%d", i), fmt.Sprintf("file-%d.pdf", i)))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	list, _ := s.List(ctx)
	if len(list) != n {
		t.Errorf("ожидалось %d записей, получено %d", n, len(list))
	}
}

// TestConcurrentInsert_TwoStores проверяет сериализацию мутаций
// двух экземпляров над одним документом (межпроцессный flock).
func TestConcurrentInsert_TwoStores(t *testing.T) {
	const n = 20
	ctx := context.Background()
	dir := t.TempDir()
	a := openStore(t, dir)
	b := openStore(t, dir)

	var g errgroup.Group
	for i := range n {
		store := a
		if i%2 == 1 {
			store = b
		}
		g.Go(func() error {
			return store.Insert(ctx, newRecord(fmt.Sprintf("id-%d", i), fmt.Sprintf("f-%d.txt", i)))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for name, store := range map[string]*JSONStore{"a": a, "b": b} {
		list, _ := store.List(ctx)
		if len(list) != n {
			t.Errorf("хранилище %s: ожидалось %d записей, получено %d", name, n, len(list))
		}
	}

	if _, err := os.Stat(filepath.Join(dir, docfile.DefaultName+lockSuffix)); err != nil {
		t.Errorf("файл блокировки должен существовать: %v", err)
	}
}

// TestRefresh_SeesOtherWriter проверяет перечитывание снимка после записи другим экземпляром.
func TestRefresh_SeesOtherWriter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reader := openStore(t, dir)
	writer := openStore(t, dir)

	if err := writer.Insert(ctx, newRecord("x", "x.gif")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := reader.Get(ctx, "x"); err != nil {
		t.Errorf("читатель должен увидеть запись другого экземпляра: %v", err)
	}
}

// TestInsert_LockTimeout проверяет ErrTimeout, пока flock удерживается другим владельцем.
func TestInsert_LockTimeout(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	f, err := os.OpenFile(filepath.Join(dir, docfile.DefaultName+lockSuffix), os.O_RDWR, 0o640)
	if err != nil {
		t.Fatalf("открытие файла блокировки: %v", err)
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		t.Fatalf("flock: %v", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = s.Insert(ctx, newRecord("late", "late.txt"))
	if !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("ожидалась ErrTimeout, получено %v", err)
	}
}

// TestCanceledContext проверяет отказ операций с отменённым контекстом.
func TestCanceledContext(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.List(ctx); !errors.Is(err, model.ErrTimeout) {
		t.Errorf("List: ожидалась ErrTimeout, получено %v", err)
	}
	if err := s.Insert(ctx, newRecord("1", "a.txt")); !errors.Is(err, model.ErrTimeout) {
		t.Errorf("Insert: ожидалась ErrTimeout, получено %v", err)
	}
}
