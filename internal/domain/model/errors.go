// errors.go — виды ошибок ядра хранилища.
package model

import "errors"

var (
	// ErrIO — ошибка чтения/записи на диск.
	ErrIO = errors.New("ошибка ввода-вывода")
	// ErrNotFound — запись или blob не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrConflict — запись с таким id уже существует.
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrParse — документ метаданных повреждён.
	ErrParse = errors.New("документ метаданных повреждён")
	// ErrUploadFailed — blob не записан, метаданные не создавались.
	ErrUploadFailed = errors.New("загрузка не удалась")
	// ErrTimeout — операция не уложилась в отведённое время.
	ErrTimeout = errors.New("превышено время ожидания")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("ошибка валидации")
)
