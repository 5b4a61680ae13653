// blob.go — результаты операций хранилища blob-ов.
package model

import "time"

// PutResult — результат записи blob-а.
type PutResult struct {
	// Locator — имя blob-а относительно корня хранилища
	Locator string
	// Size — количество фактически записанных байт
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// BlobInfo — сведения об открытом blob-е.
type BlobInfo struct {
	Size        int64
	ModTime     time.Time
	ContentType string
}
