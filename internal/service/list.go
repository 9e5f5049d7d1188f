// list.go — список слотов пользователя.
package service

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/jid"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

// ListRequest — запрос списка слотов.
type ListRequest struct {
	ServerKey string
	JID       string
	// Limit — максимум элементов, <= 0 — без ограничения
	Limit      int
	Offset     int
	Descending bool
}

// SlotList — страница списка слотов.
type SlotList struct {
	// Count — общее число слотов пользователя (до пагинации)
	Count   int        `json:"count"`
	HasMore bool       `json:"hasMore"`
	Items   []ListItem `json:"list"`
}

// ListItem — элемент списка слотов.
type ListItem struct {
	// URL — GET URL, пустой если payload отсутствует
	URL          string   `json:"url"`
	SentTime     int64    `json:"sent_time"`
	FileInfo     FileInfo `json:"fileinfo"`
	SenderJID    string   `json:"sender_jid"`
	RecipientJID string   `json:"recipient_jid"`
	// ID и State нужны CLI, в JSON-ответ не попадают
	ID    string          `json:"-"`
	State model.SlotState `json:"-"`
}

// FileInfo — заявленные параметры файла.
type FileInfo struct {
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	ContentType string `json:"content_type"`
}

// List возвращает слоты, где bare JID совпадает с владельцем или получателем.
func (s *SlotService) List(req ListRequest) (*SlotList, error) {
	list, err := s.list(req, true)
	s.observe("list", err)
	return list, err
}

// ListForJID — List без проверки ключа сервера (для CLI оператора).
func (s *SlotService) ListForJID(req ListRequest) (*SlotList, error) {
	return s.list(req, false)
}

func (s *SlotService) list(req ListRequest, checkKey bool) (*SlotList, error) {
	if checkKey && !s.validServerKey(req.ServerKey) {
		return nil, unauthorized("Server is not allowed to list files")
	}
	if strings.TrimSpace(req.JID) == "" {
		return nil, missingParameter("user_jid")
	}
	if req.Offset < 0 {
		return nil, invalidParameter("offset", fmt.Errorf("отрицательное смещение %d", req.Offset))
	}

	owner := jid.Bare(req.JID)
	var slots []*model.Slot

	for id, err := range s.registry.Enumerate() {
		if err != nil {
			s.logger.Error("Ошибка обхода реестра слотов", slog.String("error", err.Error()))
			return nil, serverError("Could not read slot registry.", err)
		}
		slot, err := s.registry.Load(id)
		if err != nil {
			// Запись могла быть удалена откатом после перечисления
			s.logger.Warn("Пропуск записи слота",
				slog.String("slot_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if jid.Equal(slot.OwnerJID, owner) || jid.Equal(slot.RecipientJID, owner) {
			slots = append(slots, slot)
		}
	}

	slices.SortStableFunc(slots, func(a, b *model.Slot) int {
		if req.Descending {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	page := paginate(slots, req.Offset, req.Limit)
	items := make([]ListItem, 0, len(page))
	for _, slot := range page {
		items = append(items, s.listItem(slot))
	}

	return &SlotList{
		Count:   len(slots),
		HasMore: req.Offset+len(items) < len(slots),
		Items:   items,
	}, nil
}

// listItem формирует элемент списка. URL заполняется только при наличии payload.
func (s *SlotService) listItem(slot *model.Slot) ListItem {
	exists := !slot.IsDeleted() && s.store.Exists(slot.ID, slot.Filename)

	item := ListItem{
		SentTime: slot.CreatedAt.Unix(),
		FileInfo: FileInfo{
			Filename:    slot.Filename,
			Filesize:    slot.Size,
			ContentType: slot.ContentType,
		},
		SenderJID:    slot.OwnerJID,
		RecipientJID: slot.RecipientJID,
		ID:           slot.ID,
		State:        slot.State(exists),
	}
	if exists {
		item.URL = s.getURL(slot.ID, slot.Filename)
	}
	return item
}

// paginate возвращает срез [offset, offset+limit). limit <= 0 — до конца.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 {
		end = min(end, offset+limit)
	}
	return items[offset:end]
}
