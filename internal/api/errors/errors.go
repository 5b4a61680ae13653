// Пакет errors — конструкторы стандартных ошибок API web-storage.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeTimeout         = "TIMEOUT"
	CodeUploadFailed    = "UPLOAD_FAILED"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromService записывает ответ по ошибке ядра хранилища.
//
//	ErrValidation   → 400
//	ErrNotFound     → 404
//	ErrConflict     → 409
//	ErrTimeout      → 504
//	ErrUploadFailed → 500 UPLOAD_FAILED
//	остальное       → 500 INTERNAL_ERROR
//
// Текст внутренних ошибок клиенту не передаётся.
func FromService(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, model.ErrValidation):
		ValidationError(w, err.Error())
	case stderrors.Is(err, model.ErrNotFound):
		NotFound(w, "Файл не найден")
	case stderrors.Is(err, model.ErrConflict):
		WriteError(w, http.StatusConflict, CodeConflict, "Запись с таким идентификатором уже существует")
	case stderrors.Is(err, model.ErrTimeout):
		WriteError(w, http.StatusGatewayTimeout, CodeTimeout, "Превышено время ожидания хранилища")
	case stderrors.Is(err, model.ErrUploadFailed):
		WriteError(w, http.StatusInternalServerError, CodeUploadFailed, "Не удалось сохранить файл")
	default:
		InternalError(w, "Внутренняя ошибка хранилища")
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Unavailable — 503 сервис не готов.
func Unavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
