package model

import (
	"fmt"
	"strings"
)

// FileType — тег типа файла. Закрытое перечисление + OTHER для остального.
type FileType string

// Документы
const (
	TypePDF  FileType = "pdf"
	TypeDOC  FileType = "doc"
	TypeDOCX FileType = "docx"
	TypeXLS  FileType = "xls"
	TypeXLSX FileType = "xlsx"
	TypePPT  FileType = "ppt"
	TypePPTX FileType = "pptx"
	TypeTXT  FileType = "txt"
	TypeDWG  FileType = "dwg"
	TypeDXF  FileType = "dxf"
)

// Изображения
const (
	TypeJPG  FileType = "jpg"
	TypeJPEG FileType = "jpeg"
	TypePNG  FileType = "png"
	TypeGIF  FileType = "gif"
	TypeWEBP FileType = "webp"
	TypeSVG  FileType = "svg"
)

// Видео
const (
	TypeMP4  FileType = "mp4"
	TypeMOV  FileType = "mov"
	TypeAVI  FileType = "avi"
	TypeMKV  FileType = "mkv"
	TypeWEBM FileType = "webm"
)

// TypeOther — нераспознанное расширение.
const TypeOther FileType = "other"

// knownTypes — таблица расширение → тег.
var knownTypes = map[string]FileType{
	"pdf": TypePDF, "doc": TypeDOC, "docx": TypeDOCX,
	"xls": TypeXLS, "xlsx": TypeXLSX, "ppt": TypePPT, "pptx": TypePPTX,
	"txt": TypeTXT, "dwg": TypeDWG, "dxf": TypeDXF,

	"jpg": TypeJPG, "jpeg": TypeJPEG, "png": TypePNG,
	"gif": TypeGIF, "webp": TypeWEBP, "svg": TypeSVG,

	"mp4": TypeMP4, "mov": TypeMOV, "avi": TypeAVI,
	"mkv": TypeMKV, "webm": TypeWEBM,
}

// mediaTypes — теги, относящиеся к категории media.
var mediaTypes = map[FileType]struct{}{
	TypeJPG: {}, TypeJPEG: {}, TypePNG: {}, TypeGIF: {}, TypeWEBP: {}, TypeSVG: {},
	TypeMP4: {}, TypeMOV: {}, TypeAVI: {}, TypeMKV: {}, TypeWEBM: {},
}

// Classify определяет тип и категорию по имени файла.
// Расширение — подстрока после последней точки без учёта регистра;
// имя без точки даёт пустой ключ и, следовательно, TypeOther.
func Classify(filename string) (FileType, Category) {
	t := TypeOf(filename)
	return t, CategoryOf(t)
}

// TypeOf возвращает тег типа по имени файла.
func TypeOf(filename string) FileType {
	ext := ""
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		ext = strings.ToLower(filename[i+1:])
	}
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	return TypeOther
}

// CategoryOf — чистая функция FileType → Category.
func CategoryOf(t FileType) Category {
	if _, ok := mediaTypes[t]; ok {
		return CategoryMedia
	}
	return CategoryDocument
}

// ParseCategoryFilter разбирает значение фильтра списка.
// "" и "all" — без фильтра (nil). Принимаются единственное и
// множественное число: "document", "documents", "media".
func ParseCategoryFilter(s string) (*Category, error) {
	var c Category
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return nil, nil
	case "document", "documents":
		c = CategoryDocument
	case "media":
		c = CategoryMedia
	default:
		return nil, fmt.Errorf("%w: недопустимая категория %q, допустимые: all, documents, media", ErrValidation, s)
	}
	return &c, nil
}
