// delete.go — авторизация и удаление payload.
// Режимы авторизации (UPLOAD_DELETE_MODE):
//   - creator: bare JID запрашивающего совпадает с владельцем
//   - token: одноразовый токен, выданный RequestDeleteAuthorization
//   - any: token, если токен передан, иначе creator
package service

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/upload-backend/internal/config"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/jid"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-backend/internal/domain/slotstate"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/wal"
)

// DeleteAuthorizationRequest — запрос токена удаления.
type DeleteAuthorizationRequest struct {
	ServerKey    string
	RequesterJID string
	// FileURL — GET или PUT URL слота
	FileURL string
}

// DeleteAuthorization — выданный токен удаления.
type DeleteAuthorization struct {
	Token      string
	ValidUntil time.Time
}

// DeleteRequest — DELETE payload.
type DeleteRequest struct {
	ID string
	// Filename — percent-encoded имя из URL
	Filename     string
	RequesterJID string
	DeleteToken  string
}

// errSlotDeleted — слот удалён между чтением и обновлением записи.
var errSlotDeleted = errors.New("слот уже удалён")

// RequestDeleteAuthorization выдаёт одноразовый токен удаления слота
// и сохраняет его вместе со сроком действия в записи слота.
// Повторный запрос заменяет предыдущий токен.
func (s *SlotService) RequestDeleteAuthorization(req DeleteAuthorizationRequest) (*DeleteAuthorization, error) {
	auth, err := s.requestDeleteAuthorization(req)
	s.observe("request_delete_token", err)
	return auth, err
}

func (s *SlotService) requestDeleteAuthorization(req DeleteAuthorizationRequest) (*DeleteAuthorization, error) {
	if !s.validServerKey(req.ServerKey) {
		return nil, unauthorized("Server is not allowed to request a delete token")
	}
	if s.cfg.DeleteTokenOwnerOnly && strings.TrimSpace(req.RequesterJID) == "" {
		return nil, missingParameter("user_jid")
	}
	if strings.TrimSpace(req.FileURL) == "" {
		return nil, missingParameter("file_url")
	}

	u, err := url.Parse(strings.TrimSpace(req.FileURL))
	if err != nil {
		return nil, invalidParameter("file_url", err)
	}
	id, filename, err := ParseSlotPath(u.EscapedPath())
	if err != nil {
		return nil, invalidParameter("file_url", err)
	}

	notAllowed := unauthorized("Not allowed to request a delete token for this file.")
	slot, err := s.loadSlot(id, notAllowed)
	if err != nil {
		return nil, err
	}
	if slot.Filename != filename {
		return nil, notAllowed
	}
	if !slotstate.CanPerform(slot.State(s.store.Exists(id, slot.Filename)), slotstate.OpIssueDeleteToken) {
		return nil, notAllowed
	}
	if s.cfg.DeleteTokenOwnerOnly && !jid.Equal(req.RequesterJID, slot.OwnerJID) {
		return nil, notAllowed
	}

	// Срок в записи точный, NumericDate в токене хранит только секунды
	now := s.now().UTC()
	expiry := now.Add(s.cfg.DeleteTokenValidity)

	token, err := s.tokens.Issue(id, now, expiry)
	if err != nil {
		return nil, serverError("Could not create delete token.", err)
	}

	_, err = s.registry.Update(id, func(rec *model.Slot) error {
		if rec.IsDeleted() {
			return errSlotDeleted
		}
		rec.DeleteToken = token
		rec.DeleteTokenExpiry = &expiry
		return nil
	})
	if err != nil {
		if errors.Is(err, errSlotDeleted) {
			return nil, notAllowed
		}
		s.logger.Error("Ошибка сохранения токена удаления",
			slog.String("slot_id", id),
			slog.String("error", err.Error()),
		)
		return nil, serverError("Could not store delete token.", err)
	}

	s.logger.Info("Токен удаления выдан",
		slog.String("slot_id", id),
		slog.Time("valid_until", expiry),
	)

	return &DeleteAuthorization{Token: token, ValidUntil: expiry}, nil
}

// Delete удаляет payload слота.
//
// Поток:
//  1. Слот существует, имя совпадает
//  2. Авторизация по режиму (владелец или токен)
//  3. Payload существует
//  4. WAL Begin (slot_delete)
//  5. Надгробие в записи, токен сбрасывается
//  6. Удаление payload и директории
//  7. WAL Commit
//
// Надгробие ставится до удаления payload: слот не может вернуться
// в created, даже если процесс упадёт между шагами.
func (s *SlotService) Delete(req DeleteRequest) error {
	err := s.delete(req)
	s.observe("delete", err)
	return err
}

func (s *SlotService) delete(req DeleteRequest) error {
	slot, err := s.loadSlot(req.ID, &Error{Kind: KindSlotNotFound, Message: "The slot does not exist."})
	if err != nil {
		return err
	}
	if req.Filename != slot.Filename {
		return unauthorized("Filename differs from slot filename.")
	}

	useToken := s.useTokenMode(req)
	if useToken {
		if err := s.authorizeByToken(slot, req.DeleteToken); err != nil {
			return err
		}
	} else if !jid.Equal(req.RequesterJID, slot.OwnerJID) {
		return unauthorized("Only the creator of the file is allowed to delete it.")
	}

	state := slot.State(s.store.Exists(req.ID, slot.Filename))
	if !slotstate.CanPerform(state, slotstate.OpDelete) {
		return &Error{Kind: KindPayloadNotFound, Message: "The file does not exist."}
	}
	if err := slotstate.Transition(state, model.StateDeleted); err != nil {
		return serverError("Internal server error.", err)
	}

	walEntry, err := s.walEngine.Begin(wal.OpSlotDelete, req.ID, slot.Filename)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return serverError("Could not delete file.", err)
	}

	var tokenRejected bool
	_, err = s.registry.Update(req.ID, func(rec *model.Slot) error {
		if rec.IsDeleted() {
			return errSlotDeleted
		}
		// Токен мог быть использован или заменён конкурентным запросом
		if useToken && subtle.ConstantTimeCompare([]byte(rec.DeleteToken), []byte(req.DeleteToken)) != 1 {
			tokenRejected = true
			return errSlotDeleted
		}
		markDeleted(rec, s.now().UTC())
		return nil
	})
	if err != nil {
		s.rollback(walEntry)
		switch {
		case tokenRejected:
			return unauthorized("Invalid delete token.")
		case errors.Is(err, errSlotDeleted):
			return &Error{Kind: KindPayloadNotFound, Message: "The file does not exist."}
		}
		s.logger.Error("Ошибка записи надгробия слота",
			slog.String("slot_id", req.ID),
			slog.String("error", err.Error()),
		)
		return serverError("Could not delete file.", err)
	}

	if err := s.store.Delete(req.ID, slot.Filename); err != nil && !errors.Is(err, filestore.ErrPayloadNotFound) {
		// Надгробие уже стоит: WAL остаётся pending, удаление завершится при восстановлении
		s.logger.Error("Ошибка удаления payload",
			slog.String("slot_id", req.ID),
			slog.String("error", err.Error()),
		)
		return serverError("Could not delete file.", err)
	}

	s.commit(walEntry)

	s.logger.Info("Payload удалён",
		slog.String("slot_id", req.ID),
		slog.Bool("by_token", useToken),
	)
	return nil
}

// useTokenMode определяет режим авторизации удаления.
func (s *SlotService) useTokenMode(req DeleteRequest) bool {
	switch s.cfg.DeleteMode {
	case config.DeleteModeToken:
		return true
	case config.DeleteModeAny:
		return req.DeleteToken != ""
	default:
		return false
	}
}

// authorizeByToken проверяет токен удаления: совпадение с сохранённым,
// срок действия по записи слота, подпись и принадлежность слоту.
func (s *SlotService) authorizeByToken(slot *model.Slot, token string) error {
	if token == "" || !slot.HasDeleteToken() {
		return unauthorized("Invalid delete token.")
	}
	if subtle.ConstantTimeCompare([]byte(slot.DeleteToken), []byte(token)) != 1 {
		return unauthorized("Invalid delete token.")
	}
	if slot.IsDeleteTokenExpired(s.now()) {
		return &Error{Kind: KindTokenExpired, Message: "Delete token expired."}
	}
	if err := s.tokens.Verify(token, slot.ID); err != nil {
		s.logger.Warn("Сохранённый токен не прошёл проверку подписи",
			slog.String("slot_id", slot.ID),
			slog.String("error", err.Error()),
		)
		return unauthorized("Invalid delete token.")
	}
	return nil
}

// markDeleted ставит надгробие и сбрасывает токен удаления.
func markDeleted(rec *model.Slot, now time.Time) {
	rec.DeletedAt = &now
	rec.DeleteToken = ""
	rec.DeleteTokenExpiry = nil
}
