package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTransactionNotFound — транзакция уже завершена или не существовала.
var ErrTransactionNotFound = errors.New("WAL-транзакция не найдена")

// WAL — файловый Write-Ahead Log.
// Перед многошаговой операцией создаётся запись, после успешного
// завершения или компенсации запись удаляется. При рестарте оставшиеся
// записи — это операции, прерванные сбоем.
type WAL struct {
	// dir — директория хранения WAL-файлов (UPLOAD_WAL_DIR)
	dir string
	// mu — сериализует запись WAL-файлов
	mu sync.Mutex
	// logger — логгер
	logger *slog.Logger
}

// New создаёт новый WAL. Создаёт директорию, если она не существует,
// и проверяет её доступность на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Begin записывает начало операции над слотом.
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (w *WAL) Begin(op OperationType, slotID, filename string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		SlotID:        slotID,
		Filename:      filename,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать WAL-запись: %w", err)
	}

	w.logger.Debug("WAL транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(entry.Operation)),
		slog.String("slot_id", entry.SlotID),
	)

	return entry, nil
}

// Commit завершает транзакцию после успешной операции.
func (w *WAL) Commit(entry *Entry) error {
	if err := w.finish(entry); err != nil {
		return err
	}
	w.logger.Debug("WAL транзакция завершена",
		slog.String("tx_id", entry.TransactionID),
		slog.String("slot_id", entry.SlotID),
		slog.Duration("duration", time.Since(entry.StartedAt)),
	)
	return nil
}

// Rollback завершает транзакцию после компенсации частичных изменений.
func (w *WAL) Rollback(entry *Entry) error {
	if err := w.finish(entry); err != nil {
		return err
	}
	w.logger.Debug("WAL транзакция отменена",
		slog.String("tx_id", entry.TransactionID),
		slog.String("slot_id", entry.SlotID),
	)
	return nil
}

// Pending возвращает незавершённые транзакции в порядке начала.
// Повреждённые записи пропускаются с предупреждением.
func (w *WAL) Pending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirEntries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	var pending []*Entry
	for _, de := range dirEntries {
		name := de.Name()
		if !de.Type().IsRegular() || !strings.HasSuffix(name, walSuffix) {
			continue
		}

		entry, err := w.readEntry(strings.TrimSuffix(name, walSuffix))
		if err != nil {
			w.logger.Warn("Не удалось прочитать WAL-запись при восстановлении",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		w.logger.Warn("Обнаружена незавершённая WAL-транзакция",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("slot_id", entry.SlotID),
			slog.Time("started_at", entry.StartedAt),
		)
		pending = append(pending, entry)
	}

	slices.SortFunc(pending, func(a, b *Entry) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	return pending, nil
}

// finish удаляет файл транзакции.
func (w *WAL) finish(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, walFileName(entry.TransactionID))
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, entry.TransactionID)
		}
		return fmt.Errorf("не удалось удалить WAL-запись %s: %w", entry.TransactionID, err)
	}
	return nil
}

// writeEntry атомарно записывает WAL-запись на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readEntry читает WAL-запись из файла.
func (w *WAL) readEntry(txID string) (*Entry, error) {
	path := filepath.Join(w.dir, walFileName(txID))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	if entry.TransactionID != txID {
		return nil, fmt.Errorf("запись содержит чужой tx_id %q", entry.TransactionID)
	}

	return &entry, nil
}
