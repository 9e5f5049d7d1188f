package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func testSlot() *model.Slot {
	return &model.Slot{
		Filename:     "photo%20one.png",
		Size:         1024,
		ContentType:  "image/png",
		OwnerJID:     "alice@example.com",
		RecipientJID: "bob@example.com",
	}
}

// TestCreateAndLoad проверяет запись и чтение записи слота.
func TestCreateAndLoad(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New().String()

	slot := testSlot()
	if err := r.Create(id, slot); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if slot.ID != id {
		t.Errorf("ID после Create: ожидалось %q, получено %q", id, slot.ID)
	}
	if slot.CreatedAt.IsZero() {
		t.Error("CreatedAt должен быть заполнен после Create")
	}

	loaded, err := r.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Filename != "photo%20one.png" || loaded.Size != 1024 || loaded.OwnerJID != "alice@example.com" {
		t.Errorf("прочитанная запись не совпадает: %+v", loaded)
	}
	if !loaded.CreatedAt.Equal(slot.CreatedAt) {
		t.Errorf("CreatedAt: ожидалось %v, получено %v", slot.CreatedAt, loaded.CreatedAt)
	}

	// Временные файлы не должны оставаться
	entries, _ := os.ReadDir(r.dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("временный файл не должен оставаться: %s", e.Name())
		}
	}
}

// TestCreate_Exclusive проверяет, что существующая запись не перезаписывается.
func TestCreate_Exclusive(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New().String()

	if err := r.Create(id, testSlot()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	other := testSlot()
	other.OwnerJID = "mallory@example.com"
	err := r.Create(id, other)
	if !errors.Is(err, ErrSlotExists) {
		t.Fatalf("ожидалась ErrSlotExists, получено %v", err)
	}
	var werr *WriteError
	if !errors.As(err, &werr) || werr.ID != id {
		t.Errorf("ожидалась *WriteError с ID %q, получено %v", id, err)
	}

	loaded, err := r.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.OwnerJID != "alice@example.com" {
		t.Errorf("запись перезаписана: владелец %q", loaded.OwnerJID)
	}
}

// TestCreate_Concurrent проверяет, что из конкурентных Create успешен ровно один.
func TestCreate_Concurrent(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New().String()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Create(id, testSlot()); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("ожидался ровно один успешный Create, получено %d", success)
	}
}

// TestCreate_InvalidID проверяет отказ для неканонических идентификаторов.
func TestCreate_InvalidID(t *testing.T) {
	r := newTestRegistry(t)

	for _, id := range []string{"", "../escape", "not-a-uuid"} {
		if err := r.Create(id, testSlot()); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Create(%q): ожидалась ErrInvalidID, получено %v", id, err)
		}
	}
}

// TestLoad_NotFound проверяет ErrSlotNotFound для отсутствующих записей.
func TestLoad_NotFound(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Load(uuid.New().String()); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("ожидалась ErrSlotNotFound, получено %v", err)
	}
	if _, err := r.Load("../../etc/passwd"); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("ожидалась ErrSlotNotFound для некорректного id, получено %v", err)
	}
}

// TestUpdate проверяет модификацию записи и сохранение времени создания.
func TestUpdate(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New().String()

	slot := testSlot()
	if err := r.Create(id, slot); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Отодвигаем mtime в прошлое, чтобы сдвиг был заметен
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(r.RecordPath(id), past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	expiry := time.Now().UTC().Add(5 * time.Minute)
	updated, err := r.Update(id, func(s *model.Slot) error {
		s.DeleteToken = "token"
		s.DeleteTokenExpiry = &expiry
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.DeleteToken != "token" {
		t.Errorf("DeleteToken: ожидалось %q, получено %q", "token", updated.DeleteToken)
	}

	loaded, err := r.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DeleteToken != "token" {
		t.Error("обновление не сохранено на диск")
	}
	if !loaded.CreatedAt.Equal(past.UTC()) {
		t.Errorf("CreatedAt должен сохраниться: ожидалось %v, получено %v", past.UTC(), loaded.CreatedAt)
	}
}

// TestUpdate_MutateError проверяет, что ошибка mutate не меняет запись.
func TestUpdate_MutateError(t *testing.T) {
	r := newTestRegistry(t)
	id := uuid.New().String()
	if err := r.Create(id, testSlot()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sentinel := errors.New("отказ")
	_, err := r.Update(id, func(s *model.Slot) error {
		s.OwnerJID = "mallory@example.com"
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("ожидалась ошибка mutate, получено %v", err)
	}

	loaded, _ := r.Load(id)
	if loaded.OwnerJID != "alice@example.com" {
		t.Errorf("запись изменена несмотря на ошибку: %q", loaded.OwnerJID)
	}
}

// TestUpdate_NotFound проверяет Update несуществующей записи.
func TestUpdate_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Update(uuid.New().String(), func(*model.Slot) error { return nil })
	if !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("ожидалась ErrSlotNotFound, получено %v", err)
	}
}

// TestRemove проверяет удаление записи.
func TestRemove(t *testing.T) {
	r := newTestRegistry(t, WithCache(16, time.Minute))
	id := uuid.New().String()
	if err := r.Create(id, testSlot()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !r.Exists(id) {
		t.Fatal("запись должна существовать")
	}

	if err := r.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Exists(id) {
		t.Error("запись должна быть удалена")
	}
	if _, err := r.Load(id); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("после Remove ожидалась ErrSlotNotFound (кэш инвалидирован), получено %v", err)
	}

	// Повторное удаление — не ошибка
	if err := r.Remove(id); err != nil {
		t.Errorf("повторный Remove: %v", err)
	}
}

// TestEnumerate проверяет перечисление записей и пропуск посторонних файлов.
func TestEnumerate(t *testing.T) {
	r := newTestRegistry(t)

	want := make(map[string]bool)
	for range enumerateBatch + 5 {
		id := uuid.New().String()
		if err := r.Create(id, testSlot()); err != nil {
			t.Fatalf("Create: %v", err)
		}
		want[id] = true
	}

	// Посторонние файлы и директории
	_ = os.WriteFile(filepath.Join(r.dir, "README.txt"), []byte("x"), 0o640)
	_ = os.WriteFile(filepath.Join(r.dir, ".abc.tmp"), []byte("x"), 0o640)
	_ = os.WriteFile(filepath.Join(r.dir, "not-a-uuid.json"), []byte("{}"), 0o640)
	_ = os.Mkdir(filepath.Join(r.dir, uuid.New().String()+".json"), 0o750)

	got := make(map[string]bool)
	for id, err := range r.Enumerate() {
		if err != nil {
			t.Fatalf("Enumerate: %v", err)
		}
		if got[id] {
			t.Errorf("дубликат id %s", id)
		}
		got[id] = true
	}

	if len(got) != len(want) {
		t.Fatalf("ожидалось %d записей, получено %d", len(want), len(got))
	}
	for id := range want {
		if !got[id] {
			t.Errorf("запись %s не перечислена", id)
		}
	}
}

// TestEnumerate_EarlyStop проверяет досрочную остановку обхода.
func TestEnumerate_EarlyStop(t *testing.T) {
	r := newTestRegistry(t)
	for range 3 {
		if err := r.Create(uuid.New().String(), testSlot()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	count := 0
	for range r.Enumerate() {
		count++
		break
	}
	if count != 1 {
		t.Errorf("ожидался 1 элемент до break, получено %d", count)
	}
}

// TestCache проверяет чтение через кэш и write-through при Update.
func TestCache(t *testing.T) {
	r := newTestRegistry(t, WithCache(16, time.Minute))
	id := uuid.New().String()
	if err := r.Create(id, testSlot()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.cache.cache.Len() != 1 {
		t.Fatalf("Create должен заполнить кэш, Len = %d", r.cache.cache.Len())
	}

	first, err := r.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Изменение копии не должно затрагивать кэш
	first.OwnerJID = "changed@example.com"

	second, _ := r.Load(id)
	if second.OwnerJID != "alice@example.com" {
		t.Errorf("кэш отдал изменённую копию: %q", second.OwnerJID)
	}

	now := time.Now().UTC()
	if _, err := r.Update(id, func(s *model.Slot) error {
		s.DeletedAt = &now
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	third, _ := r.Load(id)
	if !third.IsDeleted() {
		t.Error("кэш должен обновляться при Update")
	}
}

// TestWithCache_Disabled проверяет, что нулевой размер отключает кэш.
func TestWithCache_Disabled(t *testing.T) {
	r := newTestRegistry(t, WithCache(0, time.Minute))
	if r.cache != nil {
		t.Error("кэш должен быть отключён при size=0")
	}
}

// TestEncode_TooLarge проверяет ограничение размера записи.
func TestEncode_TooLarge(t *testing.T) {
	r := newTestRegistry(t)
	slot := testSlot()
	slot.Filename = strings.Repeat("a", maxRecordSize)

	err := r.Create(uuid.New().String(), slot)
	if err == nil {
		t.Fatal("ожидалась ошибка для слишком большой записи")
	}
}
