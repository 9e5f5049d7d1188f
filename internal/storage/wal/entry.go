// Пакет wal — файловый Write-Ahead Log многошаговых операций со слотами.
// Каждая незавершённая транзакция — отдельный файл {tx_id}.wal.json
// в UPLOAD_WAL_DIR. Наличие файла означает, что операция не завершена;
// завершение (commit или rollback) удаляет файл.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpSlotCreate — выдача слота: запись в реестре + директория слота.
	// Восстановление: откат, если слот создан не полностью.
	OpSlotCreate OperationType = "slot_create"
	// OpPayloadWrite — запись payload при PUT.
	// Восстановление: payload, не совпадающий с заявкой слота, удаляется.
	OpPayloadWrite OperationType = "payload_write"
	// OpSlotDelete — удаление: надгробие в реестре + удаление payload.
	// Восстановление: доведение до конца (удалить payload и директорию).
	OpSlotDelete OperationType = "slot_delete"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// SlotID — идентификатор слота
	SlotID string `json:"slot_id"`

	// Filename — percent-encoded имя payload (пусто, если не известно)
	Filename string `json:"filename,omitempty"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + walSuffix
}

const walSuffix = ".wal.json"
