// Пакет slotstate — конечный автомат жизненного цикла слота.
//
// Жизненный цикл:
//   - created → uploaded (первый успешный PUT)
//   - created, uploaded → deleted (терминальное состояние)
//
// Ни одно состояние не может быть достигнуто повторно. Состояние не
// хранится в процессе: оно вычисляется на каждый запрос из записи
// реестра и наличия payload, поэтому автомат — это только матрицы.
package slotstate

import (
	"fmt"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
)

// Operation — операция над слотом.
type Operation string

const (
	OpUpload           Operation = "upload"
	OpDownload         Operation = "download"
	OpDelete           Operation = "delete"
	OpIssueDeleteToken Operation = "issue_delete_token"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[model.SlotState]map[model.SlotState]bool{
	model.StateCreated:  {model.StateUploaded: true, model.StateDeleted: true},
	model.StateUploaded: {model.StateDeleted: true},
	model.StateDeleted:  {}, // Конечное состояние
}

// allowedOperations — матрица допустимых операций для каждого состояния.
// Удаление требует payload, поэтому в created оно недоступно.
var allowedOperations = map[model.SlotState]map[Operation]bool{
	model.StateCreated:  {OpUpload: true, OpIssueDeleteToken: true},
	model.StateUploaded: {OpDownload: true, OpDelete: true, OpIssueDeleteToken: true},
	model.StateDeleted:  {}, // Конечное состояние
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.SlotState) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// Transition проверяет переход и возвращает TransitionError, если он недопустим.
func Transition(from, to model.SlotState) error {
	if !isValidState(to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("недопустимое целевое состояние: %q", to),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// CanPerform проверяет, допустима ли операция в указанном состоянии.
func CanPerform(state model.SlotState, op Operation) bool {
	ops, ok := allowedOperations[state]
	if !ok {
		return false
	}
	return ops[op]
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// isValidState проверяет, является ли значение допустимым состоянием.
func isValidState(s model.SlotState) bool {
	switch s {
	case model.StateCreated, model.StateUploaded, model.StateDeleted:
		return true
	default:
		return false
	}
}
