package index

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// createTestRecord создаёт тестовую запись.
func createTestRecord(id string, ft model.FileType) model.FileRecord {
	return model.FileRecord{
		ID:         id,
		Name:       fmt.Sprintf("file_%s.%s", id, ft),
		Type:       ft,
		Category:   model.CategoryOf(ft),
		Size:       1024,
		UploadDate: time.Now().UTC(),
		Path:       fmt.Sprintf("stored_%s.%s", id, ft),
	}
}

// TestNew проверяет создание пустого индекса.
func TestNew(t *testing.T) {
	idx := New(testLogger())

	if idx.Count() != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", idx.Count())
	}
	if idx.IsReady() {
		t.Error("новый индекс не должен быть ready")
	}
}

// TestReplace проверяет замену снимка и сохранение порядка вставки.
func TestReplace(t *testing.T) {
	idx := New(testLogger())

	idx.Replace([]model.FileRecord{
		createTestRecord("c", model.TypePDF),
		createTestRecord("a", model.TypePNG),
		createTestRecord("b", model.TypeTXT),
	})

	if !idx.IsReady() {
		t.Error("индекс должен быть ready после Replace")
	}
	if idx.Count() != 3 {
		t.Fatalf("ожидалось 3 записи, получено %d", idx.Count())
	}

	list := idx.List(nil)
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("позиция %d: ожидался %q, получен %q", i, id, list[i].ID)
		}
	}
}

// TestReplace_RepairsCategory проверяет исправление рассогласованной категории.
func TestReplace_RepairsCategory(t *testing.T) {
	idx := New(testLogger())

	bad := createTestRecord("x", model.TypeMP4)
	bad.Category = model.CategoryDocument

	if repaired := idx.Replace([]model.FileRecord{bad}); repaired != 1 {
		t.Errorf("ожидалось 1 исправление, получено %d", repaired)
	}

	got, ok := idx.Get("x")
	if !ok {
		t.Fatal("запись не найдена")
	}
	if got.Category != model.CategoryMedia {
		t.Errorf("категория: ожидалась media, получена %q", got.Category)
	}
}

// TestReplace_SkipsDuplicateIDs проверяет отбрасывание дубликатов.
func TestReplace_SkipsDuplicateIDs(t *testing.T) {
	idx := New(testLogger())

	first := createTestRecord("dup", model.TypePDF)
	second := createTestRecord("dup", model.TypePNG)
	idx.Replace([]model.FileRecord{first, second})

	if idx.Count() != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", idx.Count())
	}
	got, _ := idx.Get("dup")
	if got.Type != model.TypePDF {
		t.Errorf("должна остаться первая запись, получен тип %q", got.Type)
	}
}

// TestReplace_CopiesData проверяет, что Replace копирует срез.
func TestReplace_CopiesData(t *testing.T) {
	idx := New(testLogger())

	records := []model.FileRecord{createTestRecord("file-1", model.TypePDF)}
	idx.Replace(records)

	records[0].Size = 999

	got, _ := idx.Get("file-1")
	if got.Size == 999 {
		t.Error("Replace должен копировать данные, а не хранить ссылку")
	}
}

// TestGet_NotFound проверяет поиск несуществующей записи.
func TestGet_NotFound(t *testing.T) {
	idx := New(testLogger())

	if _, ok := idx.Get("nonexistent"); ok {
		t.Error("Get для несуществующей записи должен возвращать false")
	}
}

// TestList_FilterByCategory проверяет фильтрацию по категории.
func TestList_FilterByCategory(t *testing.T) {
	idx := New(testLogger())
	idx.Replace([]model.FileRecord{
		createTestRecord("1", model.TypePDF),
		createTestRecord("2", model.TypeJPG),
		createTestRecord("3", model.TypeOther),
		createTestRecord("4", model.TypeWEBM),
	})

	media := model.CategoryMedia
	got := idx.List(&media)
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "4" {
		t.Errorf("media: ожидались [2 4], получено %v", ids(got))
	}

	doc := model.CategoryDocument
	got = idx.List(&doc)
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("document: ожидались [1 3], получено %v", ids(got))
	}
}

// TestList_ReturnsCopy проверяет, что изменения результата не влияют на индекс.
func TestList_ReturnsCopy(t *testing.T) {
	idx := New(testLogger())
	idx.Replace([]model.FileRecord{createTestRecord("1", model.TypePDF)})

	list := idx.List(nil)
	list[0].Name = "changed"

	got, _ := idx.Get("1")
	if got.Name == "changed" {
		t.Error("List должен возвращать копию")
	}
}

// TestConcurrentAccess проверяет отсутствие гонок при параллельном доступе.
func TestConcurrentAccess(t *testing.T) {
	idx := New(testLogger())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			records := make([]model.FileRecord, 0, n)
			for j := range n {
				records = append(records, createTestRecord(fmt.Sprintf("%d-%d", n, j), model.TypePDF))
			}
			idx.Replace(records)
		}(i)
		go func() {
			defer wg.Done()
			_ = idx.List(nil)
			_ = idx.Count()
			_, _ = idx.Get("0-0")
		}()
	}
	wg.Wait()
}

func ids(records []model.FileRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
