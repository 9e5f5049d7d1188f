// Пакет service — бизнес-логика upload-backend.
// slots.go — SlotService: выдача слотов, авторизация, одноразовая
// загрузка и удаление payload поверх реестра и файлового хранилища.
package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/upload-backend/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-backend/internal/config"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/jid"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/registry"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/wal"
)

// SlotService — сервис жизненного цикла слотов.
// Не хранит состояние между запросами: всё состояние — в реестре и хранилище.
type SlotService struct {
	cfg       *config.Config
	registry  *registry.Registry
	store     *filestore.FileStore
	walEngine *wal.WAL
	tokens    *tokenIssuer
	now       func() time.Time
	logger    *slog.Logger
}

// Option — опция конструктора SlotService.
type Option func(*SlotService)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *SlotService) {
		s.now = now
	}
}

// NewSlotService создаёт сервис слотов.
func NewSlotService(
	cfg *config.Config,
	reg *registry.Registry,
	store *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
	opts ...Option,
) (*SlotService, error) {
	tokens, err := newTokenIssuer(cfg.DeleteTokenSecret)
	if err != nil {
		return nil, err
	}

	s := &SlotService{
		cfg:       cfg,
		registry:  reg,
		store:     store,
		walEngine: walEngine,
		tokens:    tokens,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "slot_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ограничения строковых полей записи слота. Вместе с максимальным
// именем файла запись гарантированно помещается в лимит реестра.
const (
	maxJIDLength         = 512
	maxContentTypeLength = 255
)

// checkRecordField проверяет строку, сохраняемую в записи слота:
// длину в байтах, UTF-8 и отсутствие управляющих символов.
func checkRecordField(v string, maxLen int) error {
	if len(v) > maxLen {
		return fmt.Errorf("длина %d байт превышает максимум %d", len(v), maxLen)
	}
	if !utf8.ValidString(v) {
		return errors.New("некорректная последовательность UTF-8")
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return errors.New("недопустимый управляющий символ")
	}
	return nil
}

// UploadSlotRequest — запрос слота загрузки.
type UploadSlotRequest struct {
	ServerKey    string
	RequesterJID string
	RecipientJID string
	// Filename — исходное (не закодированное) имя файла
	Filename    string
	Size        int64
	ContentType string
}

// UploadSlot — выданный слот загрузки.
type UploadSlot struct {
	ID     string `json:"-"`
	PutURL string `json:"put"`
	GetURL string `json:"get"`
}

// RequestUploadSlot проверяет запрос и регистрирует новый слот.
//
// Поток:
//  1. Проверка ключа сервера
//  2. Проверка размера и имени файла
//  3. WAL Begin (slot_create)
//  4. Запись в реестре
//  5. Резервирование директории
//  6. WAL Commit
//
// При ошибке резервирования запись удаляется, чтобы не оставить
// наполовину созданный слот.
func (s *SlotService) RequestUploadSlot(req UploadSlotRequest) (*UploadSlot, error) {
	slot, err := s.requestUploadSlot(req)
	s.observe("request_upload_slot", err)
	return slot, err
}

func (s *SlotService) requestUploadSlot(req UploadSlotRequest) (*UploadSlot, error) {
	if !s.validServerKey(req.ServerKey) {
		return nil, unauthorized("Server is not allowed to request an upload slot")
	}
	if strings.TrimSpace(req.RequesterJID) == "" {
		return nil, missingParameter("user_jid")
	}
	if req.Filename == "" {
		return nil, missingParameter("filename")
	}

	if req.Size <= 0 {
		return nil, &Error{Kind: KindInvalidRequest, Reason: ReasonEmptyFile, Message: "File is empty."}
	}
	if req.Size > s.cfg.MaxFileSize {
		return nil, &Error{
			Kind:    KindInvalidRequest,
			Reason:  ReasonTooLarge,
			Message: "File too large.",
			Params:  map[string]any{"max_file_size": s.cfg.MaxFileSize},
		}
	}

	encoded := filestore.EncodeFilename(req.Filename)
	if bad, found := s.forbiddenSubstring(req.Filename, encoded); found {
		return nil, &Error{
			Kind:    KindInvalidRequest,
			Reason:  ReasonInvalidFilename,
			Message: "Invalid character found in filename.",
			Params:  map[string]any{"invalid_character": bad},
		}
	}
	if !filestore.ValidFilename(encoded) {
		return nil, invalidParameter("filename", fmt.Errorf("имя %q непригодно для хранения", encoded))
	}

	owner := jid.Bare(req.RequesterJID)
	if err := checkRecordField(owner, maxJIDLength); err != nil {
		return nil, invalidParameter("user_jid", err)
	}
	recipient := jid.Bare(req.RecipientJID)
	if err := checkRecordField(recipient, maxJIDLength); err != nil {
		return nil, invalidParameter("recipient_jid", err)
	}
	contentType := strings.TrimSpace(req.ContentType)
	if err := checkRecordField(contentType, maxContentTypeLength); err != nil {
		return nil, invalidParameter("content_type", err)
	}

	id := uuid.New().String()
	slot := &model.Slot{
		Filename:     encoded,
		Size:         req.Size,
		ContentType:  contentType,
		OwnerJID:     owner,
		RecipientJID: recipient,
	}

	walEntry, err := s.walEngine.Begin(wal.OpSlotCreate, id, encoded)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, serverError("Could not create slot registry entry.", err)
	}

	if err := s.registry.Create(id, slot); err != nil {
		s.rollback(walEntry)
		s.logger.Error("Ошибка записи слота в реестр",
			slog.String("slot_id", id),
			slog.String("error", err.Error()),
		)
		return nil, serverError("Could not create slot registry entry.", err)
	}

	if err := s.store.ReserveDirectory(id); err != nil {
		if rmErr := s.registry.Remove(id); rmErr != nil {
			// Запись останется pending в WAL и будет удалена при восстановлении
			s.logger.Error("Ошибка отката записи слота",
				slog.String("slot_id", id),
				slog.String("error", rmErr.Error()),
			)
			return nil, serverError("Could not create directory for upload.", err)
		}
		s.rollback(walEntry)
		s.logger.Error("Ошибка резервирования директории слота",
			slog.String("slot_id", id),
			slog.String("error", err.Error()),
		)
		return nil, serverError("Could not create directory for upload.", err)
	}

	s.commit(walEntry)

	s.logger.Info("Слот загрузки выдан",
		slog.String("slot_id", id),
		slog.String("filename", encoded),
		slog.Int64("size", req.Size),
		slog.String("owner", slot.OwnerJID),
	)

	return &UploadSlot{
		ID:     id,
		PutURL: s.putURL(id, encoded),
		GetURL: s.getURL(id, encoded),
	}, nil
}

// ParseSlotPath извлекает идентификатор слота и имя файла из
// экранированного пути URL: последние два сегмента. Имя приводится
// к канонической RFC 3986 форме, в которой оно хранится в реестре.
func ParseSlotPath(escapedPath string) (id, filename string, err error) {
	escapedPath = strings.TrimRight(escapedPath, "/")
	slash := strings.LastIndex(escapedPath, "/")
	if slash < 0 {
		return "", "", errors.New("в пути нет идентификатора слота")
	}
	rawName := escapedPath[slash+1:]
	prefix := escapedPath[:slash]
	id = prefix[strings.LastIndex(prefix, "/")+1:]

	if !model.ValidSlotID(id) {
		return "", "", fmt.Errorf("некорректный идентификатор слота %q", id)
	}

	name, err := url.PathUnescape(rawName)
	if err != nil {
		return "", "", fmt.Errorf("некорректное имя файла %q: %w", rawName, err)
	}
	if name == "" {
		return "", "", errors.New("пустое имя файла")
	}
	return id, filestore.EncodeFilename(name), nil
}

// --- Вспомогательные методы ---

// validServerKey сравнивает ключ со всеми допустимыми за постоянное время.
func (s *SlotService) validServerKey(key string) bool {
	if key == "" {
		return false
	}
	valid := 0
	for _, allowed := range s.cfg.ServerKeys {
		valid |= subtle.ConstantTimeCompare([]byte(allowed), []byte(key))
	}
	return valid == 1
}

// forbiddenSubstring ищет запрещённую подстроку без учёта регистра
// в исходном и в закодированном имени.
func (s *SlotService) forbiddenSubstring(raw, encoded string) (string, bool) {
	lowerRaw := strings.ToLower(raw)
	lowerEncoded := strings.ToLower(encoded)
	for _, bad := range s.cfg.InvalidFilenameChars {
		lowerBad := strings.ToLower(bad)
		if strings.Contains(lowerRaw, lowerBad) || strings.Contains(lowerEncoded, lowerBad) {
			return bad, true
		}
	}
	return "", false
}

func (s *SlotService) putURL(id, filename string) string {
	return s.cfg.PublicBaseURL + "/" + id + "/" + filename
}

func (s *SlotService) getURL(id, filename string) string {
	return s.cfg.PublicGetBaseURL + "/" + id + "/" + filename
}

// loadSlot читает запись слота. Отсутствие слота — notFound,
// прочие ошибки реестра — ServerError.
func (s *SlotService) loadSlot(id string, notFound *Error) (*model.Slot, error) {
	slot, err := s.registry.Load(id)
	if err != nil {
		if errors.Is(err, registry.ErrSlotNotFound) {
			return nil, notFound
		}
		s.logger.Error("Ошибка чтения записи слота",
			slog.String("slot_id", id),
			slog.String("error", err.Error()),
		)
		return nil, serverError("Could not read slot registry entry.", err)
	}
	return slot, nil
}

// commit завершает WAL-транзакцию. Ошибка не критична: операция уже
// выполнена, а повторная обработка при восстановлении идемпотентна.
func (s *SlotService) commit(entry *wal.Entry) {
	if err := s.walEngine.Commit(entry); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", entry.TransactionID),
			slog.String("slot_id", entry.SlotID),
			slog.String("error", err.Error()),
		)
	}
}

// rollback завершает WAL-транзакцию после компенсации.
func (s *SlotService) rollback(entry *wal.Entry) {
	if err := s.walEngine.Rollback(entry); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("slot_id", entry.SlotID),
			slog.String("error", err.Error()),
		)
	}
}

// observe обновляет счётчик операций по результату.
func (s *SlotService) observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = AsError(err).Kind.String()
	}
	middleware.OperationsTotal.WithLabelValues(operation, result).Inc()
}
