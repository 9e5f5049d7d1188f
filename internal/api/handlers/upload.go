// Пакет handlers — HTTP-обработчики upload-backend.
//
// upload.go — endpoints XEP-0363:
// POST / — запросы слотов (upload, delete, list) от XMPP-сервера.
// PUT, GET, HEAD, DELETE /files/{id}/{filename} — операции клиента с payload.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/goartstore/upload-backend/internal/api/errors"
	"github.com/bigkaa/goartstore/upload-backend/internal/service"
)

// Заголовки DELETE-запроса.
const (
	HeaderUserJID     = "X-XMPP-User-JID"
	HeaderDeleteToken = "X-Delete-Token"
)

// Значения поля slot_type.
const (
	slotTypeUpload = "upload"
	slotTypeDelete = "delete"
	slotTypeList   = "list"
)

// maxFormSize — ограничение тела POST-запроса слота.
const maxFormSize = 1 << 20

// UploadHandler — обработчик endpoints слотов и payload.
type UploadHandler struct {
	svc    *service.SlotService
	logger *slog.Logger
}

// NewUploadHandler создаёт обработчик endpoints слотов.
func NewUploadHandler(svc *service.SlotService, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "upload_handler")),
	}
}

// deleteTokenResponse — ответ на запрос токена удаления.
type deleteTokenResponse struct {
	DeleteToken string `json:"deletetoken"`
	// ValidUntil — срок действия токена (unix-время, секунды)
	ValidUntil int64 `json:"valid_until"`
}

// RequestSlot обрабатывает POST /.
// Тип запроса определяется полем slot_type: upload (по умолчанию), delete, list.
func (h *UploadHandler) RequestSlot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeInvalidParameter, "Invalid request body.", nil)
		return
	}

	switch slotType := strings.ToLower(r.PostFormValue("slot_type")); slotType {
	case "", slotTypeUpload:
		h.requestUploadSlot(w, r)
	case slotTypeDelete:
		h.requestDeleteToken(w, r)
	case slotTypeList:
		h.listSlots(w, r)
	default:
		apierrors.InvalidParameter(w, "slot_type")
	}
}

func (h *UploadHandler) requestUploadSlot(w http.ResponseWriter, r *http.Request) {
	if missing := firstMissing(r, "xmpp_server_key", "filename", "size", "user_jid"); missing != "" {
		h.writeError(w, r, missingParameter(missing))
		return
	}

	size, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("size")), 10, 64)
	if err != nil {
		apierrors.InvalidParameter(w, "size")
		return
	}

	slot, err := h.svc.RequestUploadSlot(service.UploadSlotRequest{
		ServerKey:    r.PostFormValue("xmpp_server_key"),
		RequesterJID: r.PostFormValue("user_jid"),
		RecipientJID: r.PostFormValue("recipient_jid"),
		Filename:     r.PostFormValue("filename"),
		Size:         size,
		ContentType:  r.PostFormValue("content_type"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slot)
}

func (h *UploadHandler) requestDeleteToken(w http.ResponseWriter, r *http.Request) {
	if missing := firstMissing(r, "xmpp_server_key", "file_url"); missing != "" {
		h.writeError(w, r, missingParameter(missing))
		return
	}

	auth, err := h.svc.RequestDeleteAuthorization(service.DeleteAuthorizationRequest{
		ServerKey:    r.PostFormValue("xmpp_server_key"),
		RequesterJID: r.PostFormValue("user_jid"),
		FileURL:      r.PostFormValue("file_url"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteTokenResponse{
		DeleteToken: auth.Token,
		ValidUntil:  auth.ValidUntil.Unix(),
	})
}

func (h *UploadHandler) listSlots(w http.ResponseWriter, r *http.Request) {
	if missing := firstMissing(r, "xmpp_server_key", "user_jid"); missing != "" {
		h.writeError(w, r, missingParameter(missing))
		return
	}

	req := service.ListRequest{
		ServerKey: r.PostFormValue("xmpp_server_key"),
		JID:       r.PostFormValue("user_jid"),
	}

	var err error
	if req.Limit, err = intParam(r, "limit", -1); err != nil {
		apierrors.InvalidParameter(w, "limit")
		return
	}
	if req.Offset, err = intParam(r, "offset", 0); err != nil {
		apierrors.InvalidParameter(w, "offset")
		return
	}
	if v := strings.TrimSpace(r.PostFormValue("descending")); v != "" {
		if req.Descending, err = strconv.ParseBool(v); err != nil {
			apierrors.InvalidParameter(w, "descending")
			return
		}
	}

	list, err := h.svc.List(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// Upload обрабатывает PUT /files/{id}/{filename}.
// Тело запроса — payload целиком. Успех — 201 без тела.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, filename, err := service.ParseSlotPath(r.URL.EscapedPath())
	if err != nil {
		apierrors.WriteError(w, http.StatusForbidden, 0, "The slot does not exist.", nil)
		return
	}

	err = h.svc.Upload(service.UploadRequest{
		ID:            id,
		Filename:      filename,
		Body:          r.Body,
		ContentLength: r.ContentLength,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// Download обрабатывает GET и HEAD /files/{id}/{filename}.
// Отдаёт payload целиком, без поддержки Range.
func (h *UploadHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, filename, err := service.ParseSlotPath(r.URL.EscapedPath())
	if err != nil {
		apierrors.WriteError(w, http.StatusNotFound, 0, "The slot does not exist.", nil)
		return
	}

	f, slot, err := h.svc.Open(id, filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer f.Close()

	contentType := slot.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	size := slot.Size
	if stat, err := f.Stat(); err == nil {
		size = stat.Size()
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("Ошибка отдачи payload",
			slog.String("slot_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Delete обрабатывает DELETE /files/{id}/{filename}.
// Авторизация: X-XMPP-User-JID (владелец) или X-Delete-Token (токен).
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, filename, err := service.ParseSlotPath(r.URL.EscapedPath())
	if err != nil {
		apierrors.WriteError(w, http.StatusNotFound, 0, "The slot does not exist.", nil)
		return
	}

	err = h.svc.Delete(service.DeleteRequest{
		ID:           id,
		Filename:     filename,
		RequesterJID: r.Header.Get(HeaderUserJID),
		DeleteToken:  r.Header.Get(HeaderDeleteToken),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// NotAllowed отвечает 403 на неподдерживаемые методы.
func (h *UploadHandler) NotAllowed(w http.ResponseWriter, _ *http.Request) {
	apierrors.AccessNotAllowed(w)
}

// writeError записывает ошибку сервиса. Внутренние ошибки логируются.
func (h *UploadHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrServerError) {
		h.logger.Error("Внутренняя ошибка запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromService(w, err)
}

// --- Вспомогательные функции ---

// firstMissing возвращает первое отсутствующее или пустое поле формы.
func firstMissing(r *http.Request, names ...string) string {
	for _, name := range names {
		if strings.TrimSpace(r.PostFormValue(name)) == "" {
			return name
		}
	}
	return ""
}

func missingParameter(name string) error {
	return &service.Error{
		Kind:    service.KindInvalidRequest,
		Reason:  service.ReasonMissingParameter,
		Message: "Missing parameter.",
		Params:  map[string]any{"missing_parameter": name},
	}
}

// intParam разбирает целочисленное поле формы. Пустое поле — def.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.PostFormValue(name))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
