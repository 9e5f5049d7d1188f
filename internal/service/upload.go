// upload.go — одноразовая загрузка payload в слот.
package service

import (
	"errors"
	"io"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bigkaa/goartstore/upload-backend/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/slotstate"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/wal"
)

// UploadRequest — PUT payload в слот.
type UploadRequest struct {
	ID string
	// Filename — percent-encoded имя из URL
	Filename string
	Body     io.Reader
	// ContentLength — длина тела из заголовка, -1 если неизвестна
	ContentLength int64
}

// Upload принимает payload слота.
//
// Поток:
//  1. Слот существует, не удалён, имя совпадает, payload ещё не загружен
//  2. WAL Begin (payload_write)
//  3. Эксклюзивное создание staging-файла
//  4. Content-Length не больше заявленного размера
//  5. Копирование не более size+1 байт
//  6. Проверка размера и типа содержимого
//  7. Повторная проверка записи слота и публикация payload
//  8. WAL Commit
//
// Повторная загрузка отклоняется эксклюзивным созданием staging-файла
// и публикацией через os.Link. До публикации слот остаётся в created:
// GET, список и удаление недописанный payload не видят.
// При несовпадении размера или типа staging-файл удаляется до ответа.
func (s *SlotService) Upload(req UploadRequest) error {
	err := s.upload(req)
	s.observe("upload", err)
	return err
}

func (s *SlotService) upload(req UploadRequest) error {
	slot, err := s.loadSlot(req.ID, unauthorized("The slot does not exist."))
	if err != nil {
		return err
	}
	if slot.IsDeleted() {
		return unauthorized("The slot does not exist.")
	}
	if req.Filename != slot.Filename {
		return unauthorized("Uploaded filename differs from requested slot filename.")
	}
	if !slotstate.CanPerform(slot.State(s.store.Exists(req.ID, slot.Filename)), slotstate.OpUpload) {
		return errAlreadyUploaded()
	}

	walEntry, err := s.walEngine.Begin(wal.OpPayloadWrite, req.ID, slot.Filename)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return serverError("Could not store uploaded file.", err)
	}

	staged, err := s.store.Stage(req.ID, slot.Filename)
	if err != nil {
		s.rollback(walEntry)
		if errors.Is(err, filestore.ErrPayloadExists) {
			return errAlreadyUploaded()
		}
		s.logger.Error("Ошибка создания staging-файла",
			slog.String("slot_id", req.ID),
			slog.String("error", err.Error()),
		)
		return serverError("Could not store uploaded file.", err)
	}

	if req.ContentLength > slot.Size {
		return s.abortUpload(walEntry, staged, &Error{
			Kind:    KindSizeMismatch,
			Reason:  ReasonBodyTooLong,
			Message: "Uploaded file size differs from requested slot size.",
		})
	}

	written, err := staged.Write(req.Body, slot.Size)
	if err != nil {
		s.logger.Error("Ошибка записи payload",
			slog.String("slot_id", req.ID),
			slog.String("error", err.Error()),
		)
		return s.abortUpload(walEntry, staged, serverError("Could not store uploaded file.", err))
	}

	if verr := s.verifyPayload(slot, written, staged.DetectContentType); verr != nil {
		s.logger.Warn("Payload отклонён",
			slog.String("slot_id", req.ID),
			slog.String("reason", verr.Error()),
		)
		return s.abortUpload(walEntry, staged, verr)
	}

	// Слот мог быть удалён, пока передавалось тело
	current, err := s.loadSlot(req.ID, unauthorized("The slot does not exist."))
	if err != nil {
		return s.abortUpload(walEntry, staged, err)
	}
	if err := slotstate.Transition(current.State(false), model.StateUploaded); err != nil {
		return s.abortUpload(walEntry, staged, unauthorized("The slot does not exist."))
	}

	if err := staged.Publish(); err != nil {
		if errors.Is(err, filestore.ErrPayloadExists) {
			return s.abortUpload(walEntry, staged, errAlreadyUploaded())
		}
		s.logger.Error("Ошибка публикации payload",
			slog.String("slot_id", req.ID),
			slog.String("error", err.Error()),
		)
		return s.abortUpload(walEntry, staged, serverError("Could not store uploaded file.", err))
	}

	s.commit(walEntry)
	middleware.PayloadBytesTotal.Add(float64(written))

	s.logger.Info("Payload загружен",
		slog.String("slot_id", req.ID),
		slog.String("filename", slot.Filename),
		slog.Int64("size", written),
	)
	return nil
}

// abortUpload удаляет staging-файл и откатывает WAL-транзакцию.
// Если файл удалить не удалось, транзакция остаётся pending и
// staging-файл будет удалён при восстановлении.
func (s *SlotService) abortUpload(walEntry *wal.Entry, staged *filestore.Staged, cause error) error {
	if err := staged.Discard(); err != nil {
		s.logger.Error("Ошибка удаления отклонённого payload",
			slog.String("slot_id", walEntry.SlotID),
			slog.String("error", err.Error()),
		)
		return cause
	}
	s.rollback(walEntry)
	return cause
}

func errAlreadyUploaded() *Error {
	return &Error{Kind: KindAlreadyUploaded, Message: "The slot was already used."}
}

// verifyPayload сверяет записанный payload с заявкой слота:
// размер и, если был заявлен, тип содержимого. detect читает
// проверяемый файл (staging при загрузке, payload при восстановлении).
func (s *SlotService) verifyPayload(slot *model.Slot, written int64, detect func() (*mimetype.MIME, error)) *Error {
	if written != slot.Size {
		reason := ReasonBodySizeDiffers
		if written > slot.Size {
			reason = ReasonBodyTooLong
		}
		return &Error{
			Kind:    KindSizeMismatch,
			Reason:  reason,
			Message: "Uploaded file size differs from requested slot size.",
		}
	}

	if slot.ContentType == "" {
		return nil
	}

	detected, err := detect()
	if err != nil {
		return serverError("Could not detect uploaded file content type.", err)
	}
	if !contentTypeMatches(detected, slot.ContentType) {
		return &Error{
			Kind:    KindContentTypeMismatch,
			Message: "Uploaded file content type differs from requested slot content type.",
			Params:  map[string]any{"detected_content_type": detected.String()},
		}
	}
	return nil
}

// contentTypeMatches сравнивает определённый тип с заявленным.
// Параметры (charset) и алиасы учитываются библиотекой; заявленный
// родительский тип (например, application/zip для docx) тоже подходит.
func contentTypeMatches(detected *mimetype.MIME, declared string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
	}
	return false
}
