// Пакет status — конечный автомат жизненного цикла сертификата.
//
// Жизненный цикл:
//
//	pending → processing → issued → (revoked | expired)
//	                     ↘ failed → processing (повторная анкеровка оператором)
//
// processing никогда не регрессирует в pending; зависшая анкеровка
// завершается переходом в failed, не молчаливым откатом.
//
// Состояние каждого сертификата живёт в side-table, поэтому автомат —
// набор чистых функций над матрицей переходов; сериализацию конкурентных
// обновлений одной записи обеспечивает guarded UPDATE в репозитории.
package status

import "fmt"

// Status — статус жизненного цикла сертификата.
type Status string

const (
	// StatusPending — содержимое принято, обработка не началась
	StatusPending Status = "pending"
	// StatusProcessing — хэширование/загрузка/анкеровка в процессе
	StatusProcessing Status = "processing"
	// StatusIssued — AnchorReceipt durable-записан в side-table
	StatusIssued Status = "issued"
	// StatusFailed — частичный сбой pipeline, возможен resume
	StatusFailed Status = "failed"
	// StatusRevoked — отозван явным действием оператора
	StatusRevoked Status = "revoked"
	// StatusExpired — истёк expires_at (фоновый sweep)
	StatusExpired Status = "expired"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusIssued: true, StatusFailed: true},
	StatusFailed:     {StatusProcessing: true}, // только явный retry оператора
	StatusIssued:     {StatusRevoked: true, StatusExpired: true},
	StatusRevoked:    {},
	StatusExpired:    {},
}

// needsConfirmation — переходы, требующие явного подтверждения.
// Отзыв необратим, поэтому требует confirm: true в запросе.
var needsConfirmation = map[Status]map[Status]bool{
	StatusIssued: {StatusRevoked: true},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to Status) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// NeedsConfirmation проверяет, требует ли переход подтверждения.
func NeedsConfirmation(from, to Status) bool {
	confirms, ok := needsConfirmation[from]
	if !ok {
		return false
	}
	return confirms[to]
}

// Transition валидирует переход from → to.
//
// Ошибки:
//   - INVALID_TRANSITION — переход недопустим
//   - CONFIRMATION_REQUIRED — требуется confirm: true
func Transition(from, to Status, confirm bool) error {
	if !IsValid(to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("недопустимый целевой статус: %q", to),
		}
	}

	transitions, ok := validTransitions[from]
	if !ok || !transitions[to] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}

	if confirms, ok := needsConfirmation[from]; ok && confirms[to] && !confirm {
		return &TransitionError{
			Code:    "CONFIRMATION_REQUIRED",
			Message: fmt.Sprintf("переход %s → %s требует подтверждения (confirm: true)", from, to),
		}
	}

	return nil
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, CONFIRMATION_REQUIRED)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValid проверяет, является ли значение допустимым статусом.
func IsValid(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusIssued, StatusFailed, StatusRevoked, StatusExpired:
		return true
	default:
		return false
	}
}

// Parse преобразует строку в Status.
// Возвращает ошибку для недопустимых значений.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !IsValid(st) {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: pending, processing, issued, failed, revoked, expired", s)
	}
	return st, nil
}
