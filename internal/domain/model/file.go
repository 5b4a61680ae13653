// Пакет model — доменные модели web-storage.
// FileRecord — единственная персистентная сущность: используется
// как in-memory представление и как элемент документа files.json.
package model

import (
	"time"
)

// Category — грубая классификация файла, производная от FileType.
type Category string

const (
	// CategoryDocument — документы и всё нераспознанное
	CategoryDocument Category = "document"
	// CategoryMedia — изображения и видео
	CategoryMedia Category = "media"
)

// FileRecord — метаданные загруженного файла.
// Все поля неизменяемы после создания: запись создаётся один раз при загрузке
// и один раз удаляется.
type FileRecord struct {
	// ID — уникальный идентификатор (UUID v4), никогда не переиспользуется
	ID string `json:"id"`

	// Name — оригинальное имя файла, переданное клиентом
	Name string `json:"name"`

	// Type — тег типа файла по расширению
	Type FileType `json:"type"`

	// Category — производное поле. Хранится для совместимости формата,
	// но при загрузке всегда пересчитывается из Type (см. Normalize).
	Category Category `json:"category"`

	// Size — размер записанных данных в байтах
	Size int64 `json:"size"`

	// UploadDate — дата и время загрузки (UTC)
	UploadDate time.Time `json:"uploadDate"`

	// Path — локатор blob-а: имя файла относительно корня хранилища.
	Path string `json:"path"`

	// Checksum — SHA-256 содержимого, посчитанный при записи
	Checksum string `json:"checksum,omitempty"`
}

// Normalize пересчитывает Category из Type.
// Возвращает true, если сохранённое значение расходилось с производным.
func (r *FileRecord) Normalize() bool {
	derived := CategoryOf(r.Type)
	if r.Category == derived {
		return false
	}
	r.Category = derived
	return true
}

// MatchesCategory проверяет принадлежность записи категории.
// Сравнение выполняется по производной категории, а не по сохранённой.
func (r *FileRecord) MatchesCategory(c Category) bool {
	return CategoryOf(r.Type) == c
}

// Stats — сводка по хранилищу.
type Stats struct {
	Total      int   `json:"total"`
	Documents  int   `json:"documents"`
	Media      int   `json:"media"`
	TotalBytes int64 `json:"totalSize"`
}

// ComputeStats считает сводку по набору записей.
func ComputeStats(records []FileRecord) Stats {
	var s Stats
	for i := range records {
		s.Total++
		s.TotalBytes += records[i].Size
		if records[i].MatchesCategory(CategoryMedia) {
			s.Media++
		} else {
			s.Documents++
		}
	}
	return s
}
