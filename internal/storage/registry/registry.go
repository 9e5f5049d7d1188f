// Пакет registry — реестр слотов: одна JSON-запись {id}.json на слот.
// Запись — единственный источник истины о существовании и метаданных слота.
// Время создания слота не хранится в записи: это mtime файла записи.
//
// Все операции записи выполняются атомарно: temp → fsync → link/rename.
// Create никогда не перезаписывает существующую запись (os.Link
// завершается ошибкой, если целевой файл уже есть).
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

// RecordSuffix — суффикс файла записи слота.
const RecordSuffix = ".json"

// maxRecordSize — максимальный допустимый размер записи (4 КБ).
// Ограничение гарантирует атомарность записи.
const maxRecordSize = 4096

// enumerateBatch — размер пачки при чтении директории в Enumerate.
const enumerateBatch = 128

var (
	// ErrSlotNotFound — записи слота нет в реестре.
	ErrSlotNotFound = errors.New("слот не найден")
	// ErrSlotExists — запись с таким идентификатором уже существует.
	ErrSlotExists = errors.New("слот уже существует")
	// ErrInvalidID — идентификатор не в канонической форме.
	ErrInvalidID = errors.New("некорректный идентификатор слота")
)

// WriteError — ошибка записи в реестр. Оборачивает причину
// (ErrSlotExists, ErrInvalidID или ошибку файловой системы).
type WriteError struct {
	ID  string
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("реестр: %s слота %s: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Registry — файловый реестр слотов.
type Registry struct {
	// dir — директория записей (UPLOAD_SLOT_DIR)
	dir string
	// cache — кэш записей (nil, если отключён)
	cache *recordCache
}

// Option — опция конструктора Registry.
type Option func(*Registry)

// WithCache включает LRU-кэш записей с TTL. size <= 0 — кэш отключён.
// Кэш корректен только при единственном экземпляре сервиса на реестр.
func WithCache(size int, ttl time.Duration) Option {
	return func(r *Registry) {
		if size > 0 {
			r.cache = newRecordCache(size, ttl)
		}
	}
}

// New создаёт реестр. Создаёт директорию, если она не существует,
// и проверяет её доступность на запись.
func New(dir string, opts ...Option) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию реестра %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".registry_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория реестра %s недоступна для записи: %w", dir, err)
	}
	_ = os.Remove(testFile)

	r := &Registry{dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RecordPath возвращает путь к файлу записи слота.
func (r *Registry) RecordPath(id string) string {
	return filepath.Join(r.dir, id+RecordSuffix)
}

// Create записывает новую запись слота.
// Возвращает *WriteError с ErrSlotExists, если запись уже существует.
func (r *Registry) Create(id string, slot *model.Slot) error {
	if !model.ValidSlotID(id) {
		return &WriteError{ID: id, Op: "create", Err: ErrInvalidID}
	}

	record := *slot
	record.ID = id
	data, err := encode(&record)
	if err != nil {
		return &WriteError{ID: id, Op: "create", Err: err}
	}

	tmpPath, err := r.writeTemp(id, data)
	if err != nil {
		return &WriteError{ID: id, Op: "create", Err: err}
	}
	defer os.Remove(tmpPath)

	// Link атомарен и эксклюзивен: запись либо появляется целиком, либо никак
	path := r.RecordPath(id)
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return &WriteError{ID: id, Op: "create", Err: ErrSlotExists}
		}
		return &WriteError{ID: id, Op: "create", Err: fmt.Errorf("ошибка создания записи: %w", err)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &WriteError{ID: id, Op: "create", Err: fmt.Errorf("ошибка stat записи: %w", err)}
	}
	record.CreatedAt = info.ModTime().UTC()
	*slot = record

	if r.cache != nil {
		r.cache.Set(id, &record)
	}
	return nil
}

// Load возвращает запись слота или ErrSlotNotFound.
func (r *Registry) Load(id string) (*model.Slot, error) {
	if !model.ValidSlotID(id) {
		return nil, ErrSlotNotFound
	}

	if r.cache != nil {
		if slot, ok := r.cache.Get(id); ok {
			return slot, nil
		}
	}

	slot, err := r.read(id)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(id, slot)
	}
	return slot, nil
}

// Update применяет mutate к существующей записи и атомарно сохраняет её.
// Read-modify-write без блокировки: при конкурентных вызовах побеждает
// последний писатель. Ошибка mutate возвращается как есть, запись не меняется.
// mtime файла восстанавливается, чтобы CreatedAt оставался временем создания.
func (r *Registry) Update(id string, mutate func(*model.Slot) error) (*model.Slot, error) {
	slot, err := r.read(id)
	if err != nil {
		return nil, err
	}
	createdAt := slot.CreatedAt

	if err := mutate(slot); err != nil {
		return nil, err
	}
	slot.ID = id
	slot.CreatedAt = createdAt

	data, err := encode(slot)
	if err != nil {
		return nil, &WriteError{ID: id, Op: "update", Err: err}
	}

	tmpPath, err := r.writeTemp(id, data)
	if err != nil {
		return nil, &WriteError{ID: id, Op: "update", Err: err}
	}

	path := r.RecordPath(id)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, &WriteError{ID: id, Op: "update", Err: fmt.Errorf("ошибка атомарного переименования: %w", err)}
	}

	// Не критично: при ошибке CreatedAt сдвинется на время обновления
	_ = os.Chtimes(path, createdAt, createdAt)

	if r.cache != nil {
		r.cache.Set(id, slot)
	}

	result := *slot
	return &result, nil
}

// Exists проверяет наличие записи без десериализации.
func (r *Registry) Exists(id string) bool {
	if !model.ValidSlotID(id) {
		return false
	}
	_, err := os.Stat(r.RecordPath(id))
	return err == nil
}

// Remove удаляет запись слота. Используется только для отката
// наполовину созданного слота. Отсутствие записи — не ошибка.
func (r *Registry) Remove(id string) error {
	if !model.ValidSlotID(id) {
		return &WriteError{ID: id, Op: "remove", Err: ErrInvalidID}
	}

	if r.cache != nil {
		r.cache.Delete(id)
	}

	err := os.Remove(r.RecordPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &WriteError{ID: id, Op: "remove", Err: err}
	}
	return nil
}

// Enumerate возвращает ленивую последовательность идентификаторов всех слотов.
// Директория читается пачками; каждый вызов начинает обход заново.
// Ошибка чтения директории отдаётся последним элементом.
func (r *Registry) Enumerate() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		d, err := os.Open(r.dir)
		if err != nil {
			yield("", fmt.Errorf("ошибка открытия директории реестра %s: %w", r.dir, err))
			return
		}
		defer d.Close()

		for {
			entries, err := d.ReadDir(enumerateBatch)
			for _, entry := range entries {
				if !entry.Type().IsRegular() {
					continue
				}
				name := entry.Name()
				if !strings.HasSuffix(name, RecordSuffix) {
					continue
				}
				id := strings.TrimSuffix(name, RecordSuffix)
				if !model.ValidSlotID(id) {
					continue
				}
				if !yield(id, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("ошибка чтения директории реестра %s: %w", r.dir, err))
				return
			}
		}
	}
}

// read читает запись с диска в обход кэша.
func (r *Registry) read(id string) (*model.Slot, error) {
	if !model.ValidSlotID(id) {
		return nil, ErrSlotNotFound
	}

	path := r.RecordPath(id)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("ошибка stat записи %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи %s: %w", path, err)
	}

	var slot model.Slot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи %s: %w", path, err)
	}
	if slot.ID != id {
		return nil, fmt.Errorf("запись %s содержит чужой идентификатор %q", path, slot.ID)
	}

	slot.CreatedAt = info.ModTime().UTC()
	return &slot, nil
}

// writeTemp записывает data во временный файл в директории реестра.
// Паттерн: temp файл → запись → fsync → close. Возвращает путь temp-файла.
func (r *Registry) writeTemp(id string, data []byte) (string, error) {
	f, err := os.CreateTemp(r.dir, "."+id+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return tmpPath, nil
}

// encode сериализует запись и проверяет ограничение размера.
// HTML-экранирование отключено: "<" в JID не раздувает запись в шесть раз.
func encode(slot *model.Slot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(slot); err != nil {
		return nil, fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	data := buf.Bytes()
	if len(data) > maxRecordSize {
		return nil, fmt.Errorf("размер записи (%d байт) превышает максимум (%d байт)", len(data), maxRecordSize)
	}
	return data, nil
}
