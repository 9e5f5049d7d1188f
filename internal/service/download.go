// download.go — отдача payload по GET URL слота.
package service

import (
	"errors"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/slotstate"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
)

// Open открывает payload слота для отдачи целиком.
// Вызывающий код обязан закрыть файл.
//
// SlotNotFound — слота нет, имя не совпадает или слот удалён;
// PayloadNotFound — payload ещё не загружен.
func (s *SlotService) Open(id, filename string) (*os.File, *model.Slot, error) {
	f, slot, err := s.open(id, filename)
	s.observe("download", err)
	return f, slot, err
}

func (s *SlotService) open(id, filename string) (*os.File, *model.Slot, error) {
	notFound := &Error{Kind: KindSlotNotFound, Message: "The slot does not exist."}

	slot, err := s.loadSlot(id, notFound)
	if err != nil {
		return nil, nil, err
	}
	if slot.Filename != filename || slot.IsDeleted() {
		return nil, nil, notFound
	}

	state := slot.State(s.store.Exists(id, slot.Filename))
	if !slotstate.CanPerform(state, slotstate.OpDownload) {
		return nil, nil, &Error{Kind: KindPayloadNotFound, Message: "The file does not exist."}
	}

	f, err := s.store.Open(id, slot.Filename)
	if err != nil {
		if errors.Is(err, filestore.ErrPayloadNotFound) {
			return nil, nil, &Error{Kind: KindPayloadNotFound, Message: "The file does not exist."}
		}
		s.logger.Error("Ошибка открытия payload",
			slog.String("slot_id", id),
			slog.String("error", err.Error()),
		)
		return nil, nil, serverError("Could not read file.", err)
	}

	s.logger.Debug("Payload отдаётся",
		slog.String("slot_id", id),
		slog.String("filename", slot.Filename),
		slog.Int64("size", slot.Size),
	)
	return f, slot, nil
}
