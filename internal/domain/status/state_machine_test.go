package status

import (
	"errors"
	"testing"
)

// TestCanTransition_Matrix проверяет матрицу переходов целиком.
func TestCanTransition_Matrix(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusIssued, StatusFailed, StatusRevoked, StatusExpired}

	allowed := map[Status][]Status{
		StatusPending:    {StatusProcessing},
		StatusProcessing: {StatusIssued, StatusFailed},
		StatusFailed:     {StatusProcessing},
		StatusIssued:     {StatusRevoked, StatusExpired},
		StatusRevoked:    {},
		StatusExpired:    {},
	}

	for _, from := range all {
		allowedSet := map[Status]bool{}
		for _, to := range allowed[from] {
			allowedSet[to] = true
		}
		for _, to := range all {
			got := CanTransition(from, to)
			if got != allowedSet[to] {
				t.Errorf("CanTransition(%s, %s) = %v, ожидалось %v", from, to, got, allowedSet[to])
			}
		}
	}
}

// TestTransition_ProcessingNeverRegressesToPending: processing не
// откатывается в pending.
func TestTransition_ProcessingNeverRegressesToPending(t *testing.T) {
	if err := Transition(StatusProcessing, StatusPending, false); err == nil {
		t.Fatal("ожидалась ошибка перехода processing → pending")
	}
}

// TestTransition_RevokeRequiresConfirmation: отзыв без confirm —
// CONFIRMATION_REQUIRED, с confirm — успех.
func TestTransition_RevokeRequiresConfirmation(t *testing.T) {
	err := Transition(StatusIssued, StatusRevoked, false)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("ожидался TransitionError, получено %v", err)
	}
	if terr.Code != "CONFIRMATION_REQUIRED" {
		t.Errorf("Code = %q, ожидался CONFIRMATION_REQUIRED", terr.Code)
	}

	if err := Transition(StatusIssued, StatusRevoked, true); err != nil {
		t.Errorf("переход issued → revoked с confirm: %v", err)
	}
}

// TestTransition_ExpireWithoutConfirmation: истечение — системный переход,
// подтверждение не требуется.
func TestTransition_ExpireWithoutConfirmation(t *testing.T) {
	if err := Transition(StatusIssued, StatusExpired, false); err != nil {
		t.Errorf("переход issued → expired: %v", err)
	}
}

// TestTransition_TerminalStates: revoked и expired — терминальные.
func TestTransition_TerminalStates(t *testing.T) {
	targets := []Status{StatusPending, StatusProcessing, StatusIssued, StatusFailed, StatusRevoked, StatusExpired}
	for _, from := range []Status{StatusRevoked, StatusExpired} {
		for _, to := range targets {
			if err := Transition(from, to, true); err == nil {
				t.Errorf("ожидалась ошибка перехода %s → %s", from, to)
			}
		}
	}
}

// TestTransition_FailedRetry: failed → processing допустим (retry оператора).
func TestTransition_FailedRetry(t *testing.T) {
	if err := Transition(StatusFailed, StatusProcessing, false); err != nil {
		t.Errorf("переход failed → processing: %v", err)
	}
}

// TestTransition_InvalidTarget: недопустимый целевой статус.
func TestTransition_InvalidTarget(t *testing.T) {
	err := Transition(StatusPending, Status("bogus"), false)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("ожидался TransitionError, получено %v", err)
	}
	if terr.Code != "INVALID_TRANSITION" {
		t.Errorf("Code = %q, ожидался INVALID_TRANSITION", terr.Code)
	}
}

// TestParse проверяет разбор строковых статусов.
func TestParse(t *testing.T) {
	for _, valid := range []string{"pending", "processing", "issued", "failed", "revoked", "expired"} {
		st, err := Parse(valid)
		if err != nil {
			t.Errorf("Parse(%q): %v", valid, err)
		}
		if string(st) != valid {
			t.Errorf("Parse(%q) = %q", valid, st)
		}
	}

	for _, invalid := range []string{"", "PENDING", "deleted", "active"} {
		if _, err := Parse(invalid); err == nil {
			t.Errorf("Parse(%q): ожидалась ошибка", invalid)
		}
	}
}
