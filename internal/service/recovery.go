// recovery.go — восстановление после сбоя по незавершённым WAL-транзакциям.
//
// Выполняется при старте до приёма запросов (serve) или вручную (recover).
// Для каждой pending-транзакции:
//   - slot_create: полностью созданный слот сохраняется, иначе запись
//     и директория удаляются
//   - payload_write: недописанный staging-файл удаляется; опубликованный
//     payload сохраняется, только если совпадает с заявкой слота по
//     размеру и типу, иначе удаляется
//   - slot_delete: удаление доводится до конца (надгробие и payload)
//
// Обработанная транзакция удаляется из WAL. При ошибке ввода-вывода
// транзакция остаётся pending до следующего запуска.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bigkaa/goartstore/upload-backend/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/registry"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/wal"
)

// Действия восстановления (метка action метрики).
const (
	ActionCompleted  = "completed"
	ActionRolledBack = "rolled_back"
	ActionFailed     = "failed"
)

// RecoveryReport — итог восстановления.
type RecoveryReport struct {
	Pending    int
	Completed  int
	RolledBack int
	Failed     int
}

// Recover обрабатывает все незавершённые WAL-транзакции.
// Ошибка возвращается, только если WAL не удалось прочитать.
func (s *SlotService) Recover() (RecoveryReport, error) {
	entries, err := s.walEngine.Pending()
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("ошибка чтения WAL: %w", err)
	}

	report := RecoveryReport{Pending: len(entries)}
	if len(entries) == 0 {
		return report, nil
	}

	s.logger.Warn("Найдены незавершённые WAL-транзакции", slog.Int("count", len(entries)))

	for _, entry := range entries {
		action, err := s.recoverEntry(entry)
		if err != nil {
			action = ActionFailed
			s.logger.Error("Ошибка восстановления транзакции",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("slot_id", entry.SlotID),
				slog.String("error", err.Error()),
			)
		} else {
			s.commit(entry)
			s.logger.Info("Транзакция восстановлена",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("slot_id", entry.SlotID),
				slog.String("action", action),
			)
		}

		switch action {
		case ActionCompleted:
			report.Completed++
		case ActionRolledBack:
			report.RolledBack++
		default:
			report.Failed++
		}
		middleware.RecoveredTransactionsTotal.WithLabelValues(string(entry.Operation), action).Inc()
	}

	s.logger.Info("Восстановление завершено",
		slog.Int("completed", report.Completed),
		slog.Int("rolled_back", report.RolledBack),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *SlotService) recoverEntry(entry *wal.Entry) (string, error) {
	switch entry.Operation {
	case wal.OpSlotCreate:
		return s.recoverSlotCreate(entry)
	case wal.OpPayloadWrite:
		return s.recoverPayloadWrite(entry)
	case wal.OpSlotDelete:
		return s.recoverSlotDelete(entry)
	default:
		return "", fmt.Errorf("неизвестная операция WAL %q", entry.Operation)
	}
}

// recoverSlotCreate сохраняет слот, если запись и директория созданы,
// иначе откатывает создание.
func (s *SlotService) recoverSlotCreate(entry *wal.Entry) (string, error) {
	if s.registry.Exists(entry.SlotID) && s.store.HasDirectory(entry.SlotID) {
		return ActionCompleted, nil
	}

	if err := s.registry.Remove(entry.SlotID); err != nil {
		return "", err
	}
	if err := s.store.RemoveDirectory(entry.SlotID); err != nil {
		return "", err
	}
	return ActionRolledBack, nil
}

// recoverPayloadWrite разбирает прерванную загрузку. Недописанный
// staging-файл удаляется всегда. Опубликованный payload проверен до
// публикации и сохраняется, если по-прежнему совпадает с заявкой.
func (s *SlotService) recoverPayloadWrite(entry *wal.Entry) (string, error) {
	slot, err := s.registry.Load(entry.SlotID)
	switch {
	case errors.Is(err, registry.ErrSlotNotFound):
		if err := s.store.Discard(entry.SlotID, entry.Filename); err != nil {
			return "", err
		}
		return ActionRolledBack, nil
	case err != nil:
		return "", err
	}

	size, err := s.store.Size(entry.SlotID, slot.Filename)
	switch {
	case errors.Is(err, filestore.ErrPayloadNotFound):
		if err := s.store.Discard(entry.SlotID, slot.Filename); err != nil {
			return "", err
		}
		return ActionRolledBack, nil
	case err != nil:
		return "", err
	}

	if !slot.IsDeleted() {
		detect := func() (*mimetype.MIME, error) {
			return s.store.DetectContentType(entry.SlotID, slot.Filename)
		}
		verr := s.verifyPayload(slot, size, detect)
		if verr == nil {
			if err := s.store.DiscardStaged(entry.SlotID, slot.Filename); err != nil {
				return "", err
			}
			return ActionCompleted, nil
		}
		if verr.Kind == KindServerError {
			return "", verr
		}
	}

	if err := s.store.Discard(entry.SlotID, slot.Filename); err != nil {
		return "", err
	}
	return ActionRolledBack, nil
}

// recoverSlotDelete доводит удаление до конца: авторизация уже пройдена
// до начала транзакции.
func (s *SlotService) recoverSlotDelete(entry *wal.Entry) (string, error) {
	_, err := s.registry.Update(entry.SlotID, func(rec *model.Slot) error {
		if !rec.IsDeleted() {
			markDeleted(rec, s.now().UTC())
		}
		return nil
	})
	if err != nil && !errors.Is(err, registry.ErrSlotNotFound) {
		return "", err
	}

	if err := s.store.Delete(entry.SlotID, entry.Filename); err != nil && !errors.Is(err, filestore.ErrPayloadNotFound) {
		return "", err
	}
	if err := s.store.RemoveDirectory(entry.SlotID); err != nil {
		s.logger.Warn("Директория слота не удалена",
			slog.String("slot_id", entry.SlotID),
			slog.String("error", err.Error()),
		)
	}
	return ActionCompleted, nil
}
