package repository

import (
	"strings"
	"testing"
	"time"
)

// --- Тесты buildListWhere ---

// TestBuildListWhere_Empty проверяет пустые фильтры.
func TestBuildListWhere_Empty(t *testing.T) {
	params := ListParams{}
	where, args := buildListWhere(params, 1)

	if where != "" {
		t.Errorf("where = %q, ожидалась пустая строка", where)
	}
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildListWhere_StatusOnly проверяет фильтрацию по статусу.
func TestBuildListWhere_StatusOnly(t *testing.T) {
	st := "issued"
	params := ListParams{Status: &st}
	where, args := buildListWhere(params, 1)

	if !strings.Contains(where, "status = $1") {
		t.Errorf("where = %q, ожидалось содержание 'status = $1'", where)
	}
	if len(args) != 1 {
		t.Errorf("args count = %d, ожидался 1", len(args))
	}
	if args[0] != "issued" {
		t.Errorf("args[0] = %v, ожидался 'issued'", args[0])
	}
}

// TestBuildListWhere_EmailNormalized проверяет, что фильтр по email
// нормализуется так же, как значение в таблице (lowercase + trim).
func TestBuildListWhere_EmailNormalized(t *testing.T) {
	email := " Jane@Example.com "
	params := ListParams{RecipientEmail: &email}
	where, args := buildListWhere(params, 1)

	if !strings.Contains(where, "recipient_email = $1") {
		t.Errorf("where = %q, ожидался exact match по email", where)
	}
	if args[0] != "jane@example.com" {
		t.Errorf("args[0] = %v, ожидался нормализованный 'jane@example.com'", args[0])
	}
}

// TestBuildListWhere_CoursePartial проверяет partial match по курсу.
func TestBuildListWhere_CoursePartial(t *testing.T) {
	course := "Go"
	params := ListParams{CourseName: &course}
	where, args := buildListWhere(params, 1)

	if !strings.Contains(where, "course_name ILIKE $1") {
		t.Errorf("where = %q, ожидался ILIKE по course_name", where)
	}
	if args[0] != "%Go%" {
		t.Errorf("args[0] = %v, ожидался '%%Go%%'", args[0])
	}
}

// TestBuildListWhere_Combined проверяет нумерацию параметров при
// нескольких фильтрах.
func TestBuildListWhere_Combined(t *testing.T) {
	st := "issued"
	email := "jane@example.com"
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	params := ListParams{
		Status:         &st,
		RecipientEmail: &email,
		IssuedAfter:    &after,
		IssuedBefore:   &before,
	}
	where, args := buildListWhere(params, 1)

	if !strings.HasPrefix(where, "WHERE ") {
		t.Errorf("where = %q, ожидался префикс WHERE", where)
	}
	if !strings.Contains(where, "status = $1") {
		t.Errorf("where = %q, ожидался 'status = $1'", where)
	}
	if !strings.Contains(where, "recipient_email = $2") {
		t.Errorf("where = %q, ожидался 'recipient_email = $2'", where)
	}
	if !strings.Contains(where, "issued_at >= $3") {
		t.Errorf("where = %q, ожидался 'issued_at >= $3'", where)
	}
	if !strings.Contains(where, "issued_at <= $4") {
		t.Errorf("where = %q, ожидался 'issued_at <= $4'", where)
	}
	if len(args) != 4 {
		t.Errorf("args count = %d, ожидался 4", len(args))
	}
}

// --- Тесты buildOrderBy ---

// TestBuildOrderBy_Default проверяет сортировку по умолчанию.
func TestBuildOrderBy_Default(t *testing.T) {
	orderBy := buildOrderBy("", "")
	if orderBy != "ORDER BY created_at DESC" {
		t.Errorf("orderBy = %q, ожидался 'ORDER BY created_at DESC'", orderBy)
	}
}

// TestBuildOrderBy_Whitelist проверяет whitelist полей сортировки.
func TestBuildOrderBy_Whitelist(t *testing.T) {
	tests := []struct {
		sortBy    string
		sortOrder string
		expected  string
	}{
		{"issued_at", "asc", "ORDER BY issued_at ASC"},
		{"course_name", "desc", "ORDER BY course_name DESC"},
		{"created_at", "ASC", "ORDER BY created_at ASC"},
		// Попытка инъекции — откат на колонку по умолчанию
		{"created_at; DROP TABLE certificate_registry", "desc", "ORDER BY created_at DESC"},
		{"unknown_column", "up", "ORDER BY created_at DESC"},
	}

	for _, tt := range tests {
		t.Run(tt.sortBy+"/"+tt.sortOrder, func(t *testing.T) {
			orderBy := buildOrderBy(tt.sortBy, tt.sortOrder)
			if orderBy != tt.expected {
				t.Errorf("buildOrderBy(%q, %q) = %q, ожидалось %q",
					tt.sortBy, tt.sortOrder, orderBy, tt.expected)
			}
		})
	}
}
