// Пакет index — потокобезопасный in-memory снимок коллекции FileRecord.
//
// Снимок заменяется целиком (Replace) после каждой успешной записи
// документа метаданных и при его повторном чтении. Сохраняет порядок
// вставки. Вторичных индексов нет: фильтрация по категории — полный проход.
package index

import (
	"log/slog"
	"sync"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

// Index — потокобезопасный снимок метаданных.
// Использует sync.RWMutex для конкурентного чтения и
// эксклюзивной замены.
type Index struct {
	mu      sync.RWMutex
	records []model.FileRecord // порядок вставки
	pos     map[string]int     // id → позиция в records
	ready   bool               // снимок загружен
	logger  *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите Replace.
func New(logger *slog.Logger) *Index {
	return &Index{
		pos:    make(map[string]int),
		logger: logger.With(slog.String("component", "index")),
	}
}

// Replace заменяет содержимое индекса копией records.
// Категории пересчитываются из типа; записи с повторяющимся id
// отбрасываются (остаётся первая). Возвращает число исправленных категорий.
func (idx *Index) Replace(records []model.FileRecord) int {
	copied := make([]model.FileRecord, 0, len(records))
	pos := make(map[string]int, len(records))
	repaired := 0

	for _, rec := range records {
		if _, dup := pos[rec.ID]; dup {
			idx.logger.Warn("Дубликат id в документе метаданных, запись пропущена",
				slog.String("file_id", rec.ID),
			)
			continue
		}
		if rec.Normalize() {
			repaired++
		}
		pos[rec.ID] = len(copied)
		copied = append(copied, rec)
	}

	idx.mu.Lock()
	idx.records = copied
	idx.pos = pos
	idx.ready = true
	idx.mu.Unlock()

	if repaired > 0 {
		idx.logger.Warn("Исправлены категории, расходящиеся с типом",
			slog.Int("count", repaired),
		)
	}
	return repaired
}

// IsReady возвращает true, если снимок загружен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Get возвращает копию записи по id.
func (idx *Index) Get(id string) (model.FileRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i, ok := idx.pos[id]
	if !ok {
		return model.FileRecord{}, false
	}
	return idx.records[i], true
}

// List возвращает копию записей в порядке вставки.
// category == nil — без фильтра.
func (idx *Index) List(category *model.Category) []model.FileRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make([]model.FileRecord, 0, len(idx.records))
	for _, rec := range idx.records {
		if category != nil && !rec.MatchesCategory(*category) {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// Count возвращает общее количество записей.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}
