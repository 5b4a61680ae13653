// disk_usage.go — получение информации об ёмкости диска.
// Платформозависимый код для Unix-подобных систем.
package filestore

import (
	"fmt"
	"syscall"
)

// DiskUsage — ёмкость файловой системы, на которой лежит корень хранилища.
type DiskUsage struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// DiskUsage возвращает информацию о дисковом пространстве корня хранилища.
// Если корень ещё не создан, используется родительская директория.
func (fs *FileStore) DiskUsage() (DiskUsage, error) {
	path := fs.root
	if !dirExists(path) {
		path = parentDir(path)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)

	return DiskUsage{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}
