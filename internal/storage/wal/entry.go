// Пакет wal — файловый журнал незавершённых операций хранилища.
// Каждая открытая транзакция — отдельный файл {tx_id}.wal.json в WS_WAL_DIR.
// Завершённые транзакции (commit/rollback) из журнала удаляются:
// после рестарта в нём остаются только операции, прерванные сбоем.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpFileCreate — загрузка: blob записан, запись метаданных ещё не вставлена
	OpFileCreate OperationType = "file_create"
	// OpFileDelete — удаление: blob удаляется, запись метаданных ещё существует
	OpFileDelete OperationType = "file_delete"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// FileID — id записи метаданных
	FileID string `json:"file_id"`

	// Locator — локатор blob-а, затронутого операцией.
	// Нужен для отката загрузки, запись метаданных которой не появилась.
	Locator string `json:"locator"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`
}

// walFileName возвращает имя файла журнала для данной транзакции.
func walFileName(txID string) string {
	return txID + walSuffix
}

const walSuffix = ".wal.json"
