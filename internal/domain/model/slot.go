// Пакет model — доменные модели upload-backend.
// Slot — единая структура записи слота, используется как in-memory
// представление и как формат файла записи в реестре слотов.
package model

import (
	"regexp"
	"time"
)

// slotIDPattern — каноническая текстовая форма UUID: 8-4-4-4-12 hex.
var slotIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidSlotID проверяет, что id имеет каноническую форму идентификатора слота.
// Идентификаторы используются как имена файлов, поэтому проверка
// обязательна для всего, что пришло из URL.
func ValidSlotID(id string) bool {
	return slotIDPattern.MatchString(id)
}

// SlotState — состояние слота. В записи не хранится, вычисляется
// из надгробия (DeletedAt) и наличия payload на диске.
type SlotState string

const (
	// StateCreated — слот выдан, payload ещё не загружен
	StateCreated SlotState = "created"
	// StateUploaded — payload загружен (терминально для upload)
	StateUploaded SlotState = "uploaded"
	// StateDeleted — payload удалён, запись помечена надгробием (терминально)
	StateDeleted SlotState = "deleted"
)

// Slot — запись слота. Соответствует содержимому {id}.json в реестре.
// CreatedAt не сериализуется: это время модификации файла записи.
type Slot struct {
	// ID — уникальный идентификатор слота (UUID v4)
	ID string `json:"id"`

	// Filename — percent-encoded оригинальное имя файла
	Filename string `json:"filename"`

	// Size — заявленный размер файла в байтах
	Size int64 `json:"size"`

	// ContentType — заявленный MIME-тип (опционально)
	ContentType string `json:"content_type,omitempty"`

	// OwnerJID — bare JID пользователя, запросившего слот
	OwnerJID string `json:"user_jid"`

	// RecipientJID — bare JID получателя (опционально)
	RecipientJID string `json:"recipient_jid,omitempty"`

	// DeleteToken — одноразовый токен удаления (опционально)
	DeleteToken string `json:"delete_token,omitempty"`

	// DeleteTokenExpiry — время истечения токена удаления (UTC)
	DeleteTokenExpiry *time.Time `json:"delete_token_expiry,omitempty"`

	// DeletedAt — время удаления payload. nil для живых слотов.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// CreatedAt — время создания записи (mtime файла записи)
	CreatedAt time.Time `json:"-"`
}

// IsDeleted проверяет, помечен ли слот надгробием.
func (s *Slot) IsDeleted() bool {
	return s.DeletedAt != nil
}

// HasDeleteToken проверяет, выдан ли для слота токен удаления.
func (s *Slot) HasDeleteToken() bool {
	return s.DeleteToken != "" && s.DeleteTokenExpiry != nil
}

// IsDeleteTokenExpired проверяет истечение токена удаления.
// Токен без срока считается истёкшим.
func (s *Slot) IsDeleteTokenExpired(now time.Time) bool {
	if s.DeleteTokenExpiry == nil {
		return true
	}
	return now.After(*s.DeleteTokenExpiry)
}

// State вычисляет состояние слота. payloadExists — наличие файла на диске.
func (s *Slot) State(payloadExists bool) SlotState {
	switch {
	case s.IsDeleted():
		return StateDeleted
	case payloadExists:
		return StateUploaded
	default:
		return StateCreated
	}
}
