package middleware

import (
	"log/slog"
	"net/http"
	"testing"
)

// TestLevelForStatus проверяет выбор уровня лога по статус-коду.
func TestLevelForStatus(t *testing.T) {
	tests := []struct {
		code int
		want slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusCreated, slog.LevelInfo},
		{http.StatusFound, slog.LevelInfo},
		{http.StatusBadRequest, slog.LevelWarn},
		{http.StatusConflict, slog.LevelWarn},
		{http.StatusUnprocessableEntity, slog.LevelWarn},
		{http.StatusInternalServerError, slog.LevelError},
		{http.StatusBadGateway, slog.LevelError},
	}

	for _, tt := range tests {
		if got := levelForStatus(tt.code); got != tt.want {
			t.Errorf("levelForStatus(%d) = %v, ожидалось %v", tt.code, got, tt.want)
		}
	}
}
