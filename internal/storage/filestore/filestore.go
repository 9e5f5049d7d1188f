// Пакет filestore — операции с payload-файлами слотов на диске.
// Раскладка: {storageDir}/{slotID}/{encodedFilename}.
// Загрузка идёт через staging-файл {encodedFilename}.part: его
// эксклюзивное создание — проверка допуска загрузки, а публикация
// через os.Link — момент перехода слота в uploaded.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

var (
	// ErrPayloadExists — payload слота уже загружен.
	ErrPayloadExists = errors.New("payload уже существует")
	// ErrPayloadNotFound — payload слота отсутствует.
	ErrPayloadNotFound = errors.New("payload не найден")
	// ErrInvalidName — идентификатор или имя файла не годятся как компонент пути.
	ErrInvalidName = errors.New("некорректное имя payload")
)

// StorageError — ошибка файловой системы при работе с директорией слота.
type StorageError struct {
	ID  string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("хранилище: %s слота %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// FileStore — управление payload-файлами слотов.
type FileStore struct {
	// storageDir — корневая директория хранения (UPLOAD_STORAGE_DIR)
	storageDir string
}

// Usage — информация о ёмкости тома хранения.
type Usage struct {
	Total     int64
	Used      int64
	Available int64
}

// New создаёт новый FileStore. Создаёт директорию, если она не существует.
func New(storageDir string) (*FileStore, error) {
	if err := os.MkdirAll(storageDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранения %s: %w", storageDir, err)
	}

	return &FileStore{storageDir: storageDir}, nil
}

// ReserveDirectory создаёт пустую директорию слота.
func (fs *FileStore) ReserveDirectory(id string) error {
	dir, err := fs.slotDir(id)
	if err != nil {
		return &StorageError{ID: id, Op: "reserve", Err: err}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &StorageError{ID: id, Op: "reserve", Err: err}
	}
	return nil
}

// RemoveDirectory удаляет пустую директорию слота.
// Отсутствие директории — не ошибка.
func (fs *FileStore) RemoveDirectory(id string) error {
	dir, err := fs.slotDir(id)
	if err != nil {
		return &StorageError{ID: id, Op: "rmdir", Err: err}
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{ID: id, Op: "rmdir", Err: err}
	}
	return nil
}

// HasDirectory проверяет, зарезервирована ли директория слота.
func (fs *FileStore) HasDirectory(id string) bool {
	dir, err := fs.slotDir(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// SlotIDs возвращает идентификаторы всех директорий слотов.
// Записи с неканоническими именами пропускаются.
func (fs *FileStore) SlotIDs() ([]string, error) {
	entries, err := os.ReadDir(fs.storageDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории хранения %s: %w", fs.storageDir, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && model.ValidSlotID(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Purge удаляет директорию слота вместе с содержимым.
func (fs *FileStore) Purge(id string) error {
	dir, err := fs.slotDir(id)
	if err != nil {
		return &StorageError{ID: id, Op: "purge", Err: err}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &StorageError{ID: id, Op: "purge", Err: err}
	}
	return nil
}

// Staged — принятый, но ещё не опубликованный payload.
// Байты пишутся в {имя}.part, под итоговым именем файл появляется
// только после Publish: до этого слот остаётся в created.
type Staged struct {
	id        string
	path      string
	finalPath string
	f         *os.File
}

// Stage эксклюзивно создаёт staging-файл payload. Это проверка допуска
// загрузки: ErrPayloadExists, если payload уже опубликован или в слот
// уже идёт загрузка.
func (fs *FileStore) Stage(id, filename string) (*Staged, error) {
	finalPath, err := fs.payloadPath(id, filename)
	if err != nil {
		return nil, err
	}

	// Директория могла не пережить сбой между резервированием и загрузкой
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		return nil, &StorageError{ID: id, Op: "stage", Err: err}
	}

	path := finalPath + partSuffix
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrPayloadExists
		}
		return nil, &StorageError{ID: id, Op: "stage", Err: err}
	}

	st := &Staged{id: id, path: path, finalPath: finalPath, f: f}

	// Предыдущая загрузка могла быть опубликована до создания staging-файла
	if _, err := os.Lstat(finalPath); err == nil {
		_ = st.Discard()
		return nil, ErrPayloadExists
	}
	return st, nil
}

// Write копирует тело в staging-файл. Читается не более declaredSize+1
// байт, чтобы вызывающий код мог обнаружить тело длиннее заявленного.
// Возвращает число записанных байт. Файл закрывается в любом случае.
func (st *Staged) Write(r io.Reader, declaredSize int64) (int64, error) {
	f := st.f
	st.f = nil
	if f == nil {
		return 0, &StorageError{ID: st.id, Op: "write", Err: errors.New("staging-файл уже закрыт")}
	}

	written, err := io.CopyN(f, r, declaredSize+1)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return written, &StorageError{ID: st.id, Op: "write", Err: fmt.Errorf("ошибка записи данных: %w", err)}
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		return written, &StorageError{ID: st.id, Op: "write", Err: fmt.Errorf("ошибка fsync: %w", err)}
	}

	if err := f.Close(); err != nil {
		return written, &StorageError{ID: st.id, Op: "write", Err: fmt.Errorf("ошибка закрытия файла: %w", err)}
	}
	return written, nil
}

// DetectContentType определяет MIME-тип записанного staging-файла.
func (st *Staged) DetectContentType() (*mimetype.MIME, error) {
	mtype, err := mimetype.DetectFile(st.path)
	if err != nil {
		return nil, &StorageError{ID: st.id, Op: "detect", Err: err}
	}
	return mtype, nil
}

// Publish делает payload видимым под итоговым именем. os.Link не
// перезаписывает существующий файл: второй Publish получает ErrPayloadExists.
func (st *Staged) Publish() error {
	if st.f != nil {
		return &StorageError{ID: st.id, Op: "publish", Err: errors.New("staging-файл не дописан")}
	}
	if err := os.Link(st.path, st.finalPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrPayloadExists
		}
		return &StorageError{ID: st.id, Op: "publish", Err: err}
	}
	// Оставшийся staging-файл блокирует только повторный Stage,
	// который и так отклоняется; Delete удалит его вместе с payload
	_ = os.Remove(st.path)
	return nil
}

// Discard удаляет staging-файл. Отсутствие файла — не ошибка.
func (st *Staged) Discard() error {
	if st.f != nil {
		st.f.Close()
		st.f = nil
	}
	if err := os.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{ID: st.id, Op: "discard", Err: err}
	}
	return nil
}

// Exists проверяет наличие payload.
func (fs *FileStore) Exists(id, filename string) bool {
	path, err := fs.payloadPath(id, filename)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete удаляет payload, затем пытается удалить директорию слота.
// Ошибка удаления директории игнорируется.
// Возвращает ErrPayloadNotFound, если payload отсутствует.
func (fs *FileStore) Delete(id, filename string) error {
	path, err := fs.payloadPath(id, filename)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrPayloadNotFound
		}
		return &StorageError{ID: id, Op: "delete", Err: err}
	}

	_ = os.Remove(path + partSuffix)
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Discard удаляет staging-файл и опубликованный payload, оставляя
// директорию слота. Используется при восстановлении прерванной загрузки.
// Отсутствие файлов — не ошибка.
func (fs *FileStore) Discard(id, filename string) error {
	path, err := fs.payloadPath(id, filename)
	if err != nil {
		return err
	}
	for _, p := range []string{path + partSuffix, path} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &StorageError{ID: id, Op: "discard", Err: err}
		}
	}
	return nil
}

// DiscardStaged удаляет только staging-файл, оставляя опубликованный payload.
func (fs *FileStore) DiscardStaged(id, filename string) error {
	path, err := fs.payloadPath(id, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path + partSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{ID: id, Op: "discard", Err: err}
	}
	return nil
}

// Size возвращает размер payload на диске.
func (fs *FileStore) Size(id, filename string) (int64, error) {
	path, err := fs.payloadPath(id, filename)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrPayloadNotFound
		}
		return 0, &StorageError{ID: id, Op: "stat", Err: err}
	}
	return info.Size(), nil
}

// Open открывает payload для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(id, filename string) (*os.File, error) {
	path, err := fs.payloadPath(id, filename)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrPayloadNotFound
		}
		return nil, &StorageError{ID: id, Op: "open", Err: err}
	}
	return f, nil
}

// DetectContentType определяет MIME-тип сохранённого payload по содержимому.
func (fs *FileStore) DetectContentType(id, filename string) (*mimetype.MIME, error) {
	path, err := fs.payloadPath(id, filename)
	if err != nil {
		return nil, err
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrPayloadNotFound
		}
		return nil, &StorageError{ID: id, Op: "detect", Err: err}
	}
	return mtype, nil
}

// Usage возвращает ёмкость тома хранения (statfs).
func (fs *FileStore) Usage() (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(fs.storageDir, &stat); err != nil {
		return Usage{}, fmt.Errorf("ошибка statfs %s: %w", fs.storageDir, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)

	return Usage{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}

// slotDir возвращает директорию слота. id проверяется по канонической
// форме, так как используется как компонент пути.
func (fs *FileStore) slotDir(id string) (string, error) {
	if !model.ValidSlotID(id) {
		return "", ErrInvalidName
	}
	return filepath.Join(fs.storageDir, id), nil
}

// payloadPath возвращает путь к payload.
// filename — percent-encoded имя, не может содержать разделитель пути.
func (fs *FileStore) payloadPath(id, filename string) (string, error) {
	dir, err := fs.slotDir(id)
	if err != nil {
		return "", err
	}
	if !ValidFilename(filename) {
		return "", ErrInvalidName
	}
	return filepath.Join(dir, filename), nil
}
