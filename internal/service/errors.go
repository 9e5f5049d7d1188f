package service

import (
	"errors"
	"fmt"
)

// Kind — класс ошибки сервиса слотов. Определяет HTTP-статус ответа.
type Kind int

const (
	// KindUnauthorized — неверный ключ сервера, чужой слот, неверный токен.
	KindUnauthorized Kind = iota + 1
	// KindInvalidRequest — отсутствующее или некорректное поле запроса.
	KindInvalidRequest
	// KindSlotNotFound — слота нет в реестре.
	KindSlotNotFound
	// KindPayloadNotFound — payload слота отсутствует.
	KindPayloadNotFound
	// KindAlreadyUploaded — payload уже загружен (одноразовость слота).
	KindAlreadyUploaded
	// KindSizeMismatch — размер тела отличается от заявленного.
	KindSizeMismatch
	// KindContentTypeMismatch — тип содержимого отличается от заявленного.
	KindContentTypeMismatch
	// KindTokenExpired — срок токена удаления истёк.
	KindTokenExpired
	// KindServerError — ошибка ввода-вывода реестра или хранилища.
	KindServerError
)

var kindNames = map[Kind]string{
	KindUnauthorized:        "unauthorized",
	KindInvalidRequest:      "invalid_request",
	KindSlotNotFound:        "slot_not_found",
	KindPayloadNotFound:     "payload_not_found",
	KindAlreadyUploaded:     "already_uploaded",
	KindSizeMismatch:        "size_mismatch",
	KindContentTypeMismatch: "content_type_mismatch",
	KindTokenExpired:        "token_expired",
	KindServerError:         "server_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Reason — уточнение класса ошибки.
type Reason string

const (
	ReasonMissingParameter Reason = "missing_parameter"
	ReasonInvalidParameter Reason = "invalid_parameter"
	ReasonEmptyFile        Reason = "empty_file"
	ReasonTooLarge         Reason = "too_large"
	ReasonInvalidFilename  Reason = "invalid_filename"
	// ReasonBodyTooLong — тело длиннее заявленного размера слота.
	ReasonBodyTooLong Reason = "body_too_long"
	// ReasonBodySizeDiffers — тело короче заявленного размера слота.
	ReasonBodySizeDiffers Reason = "body_size_differs"
)

// Error — ошибка операции над слотом.
// Message — текст для клиента, Params — структурированные параметры
// ответа (например, max_file_size), Err — внутренняя причина для логов.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Params  map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += "/" + string(e.Reason)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибки по Kind и, если у target задан, по Reason.
// Позволяет писать errors.Is(err, service.ErrUnauthorized).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Эталонные ошибки для errors.Is.
var (
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrMissingParameter    = &Error{Kind: KindInvalidRequest, Reason: ReasonMissingParameter}
	ErrInvalidParameter    = &Error{Kind: KindInvalidRequest, Reason: ReasonInvalidParameter}
	ErrEmptyFile           = &Error{Kind: KindInvalidRequest, Reason: ReasonEmptyFile}
	ErrTooLarge            = &Error{Kind: KindInvalidRequest, Reason: ReasonTooLarge}
	ErrInvalidFilename     = &Error{Kind: KindInvalidRequest, Reason: ReasonInvalidFilename}
	ErrSlotNotFound        = &Error{Kind: KindSlotNotFound}
	ErrPayloadNotFound     = &Error{Kind: KindPayloadNotFound}
	ErrAlreadyUploaded     = &Error{Kind: KindAlreadyUploaded}
	ErrSizeMismatch        = &Error{Kind: KindSizeMismatch}
	ErrContentTypeMismatch = &Error{Kind: KindContentTypeMismatch}
	ErrTokenExpired        = &Error{Kind: KindTokenExpired}
	ErrServerError         = &Error{Kind: KindServerError}
)

// AsError извлекает *Error из цепочки. Любая другая ошибка
// превращается в KindServerError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return serverError("Internal server error.", err)
}

// --- Конструкторы ---

func unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func missingParameter(name string) *Error {
	return &Error{
		Kind:    KindInvalidRequest,
		Reason:  ReasonMissingParameter,
		Message: "Missing parameter.",
		Params:  map[string]any{"missing_parameter": name},
	}
}

func invalidParameter(name string, err error) *Error {
	return &Error{
		Kind:    KindInvalidRequest,
		Reason:  ReasonInvalidParameter,
		Message: "Invalid parameter.",
		Params:  map[string]any{"invalid_parameter": name},
		Err:     err,
	}
}

func serverError(msg string, err error) *Error {
	return &Error{Kind: KindServerError, Message: msg, Err: err}
}
