// Пакет errors — JSON-ответы с ошибками upload-backend.
// Единый формат: {"msg": "...", "err_code": N, "parameters": {...}}.
// err_code и parameters опциональны. Все HTTP-ответы с ошибками
// должны использовать WriteError или FromService.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/goartstore/upload-backend/internal/service"
)

// Коды ошибок (err_code), которые ожидают XMPP-серверы.
const (
	CodeEmptyFile           = 1
	CodeTooLarge            = 2
	CodeInvalidFilename     = 3
	CodeMissingParameter    = 4
	CodeInvalidParameter    = 5
	CodeSizeMismatch        = 6
	CodeContentTypeMismatch = 7
	CodeTokenExpired        = 8
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Msg        string         `json:"msg"`
	ErrCode    int            `json:"err_code,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// WriteError записывает ответ ошибки.
// errCode 0 — поле err_code не выводится.
func WriteError(w http.ResponseWriter, statusCode, errCode int, msg string, params map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Msg:        msg,
		ErrCode:    errCode,
		Parameters: params,
	})
}

// --- Конструкторы для типичных ошибок ---

// AccessNotAllowed — 403 для неподдерживаемого метода.
func AccessNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusForbidden, 0, "Access not allowed.", nil)
}

// InvalidParameter — 400 некорректный параметр запроса.
func InvalidParameter(w http.ResponseWriter, name string) {
	WriteError(w, http.StatusBadRequest, CodeInvalidParameter, "Invalid parameter.",
		map[string]any{"invalid_parameter": name})
}

// FromService записывает ошибку сервиса слотов с соответствующим
// HTTP-статусом и err_code.
func FromService(w http.ResponseWriter, err error) {
	e := service.AsError(err)
	status, code := Status(e)

	msg := e.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	WriteError(w, status, code, msg, e.Params)
}

// Status возвращает HTTP-статус и err_code для ошибки сервиса.
func Status(e *service.Error) (status, errCode int) {
	switch e.Kind {
	case service.KindUnauthorized:
		return http.StatusForbidden, 0
	case service.KindInvalidRequest:
		switch e.Reason {
		case service.ReasonEmptyFile:
			return http.StatusNotAcceptable, CodeEmptyFile
		case service.ReasonTooLarge:
			return http.StatusNotAcceptable, CodeTooLarge
		case service.ReasonInvalidFilename:
			return http.StatusNotAcceptable, CodeInvalidFilename
		case service.ReasonMissingParameter:
			return http.StatusBadRequest, CodeMissingParameter
		default:
			return http.StatusBadRequest, CodeInvalidParameter
		}
	case service.KindSlotNotFound, service.KindPayloadNotFound:
		return http.StatusNotFound, 0
	case service.KindAlreadyUploaded:
		return http.StatusForbidden, 0
	case service.KindSizeMismatch:
		if e.Reason == service.ReasonBodyTooLong {
			return http.StatusRequestEntityTooLarge, CodeSizeMismatch
		}
		return http.StatusForbidden, CodeSizeMismatch
	case service.KindContentTypeMismatch:
		return http.StatusForbidden, CodeContentTypeMismatch
	case service.KindTokenExpired:
		return http.StatusForbidden, CodeTokenExpired
	default:
		return http.StatusInternalServerError, 0
	}
}
