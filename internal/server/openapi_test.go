package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

// loadSpec загружает и валидирует OpenAPI контракт из api/openapi.yaml.
func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../api/openapi.yaml")
	if err != nil {
		t.Fatalf("загрузка openapi.yaml: %v", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("валидация openapi.yaml: %v", err)
	}
	return doc
}

// TestOpenAPISpec_Valid проверяет, что контракт корректен по OpenAPI 3.
func TestOpenAPISpec_Valid(t *testing.T) {
	doc := loadSpec(t)

	if doc.Info == nil || doc.Info.Title != "Anchor Module API" {
		t.Errorf("неожиданный title контракта: %+v", doc.Info)
	}
}

// TestOpenAPISpec_RoutesDeclared проверяет, что каждый маршрут сервера
// объявлен в контракте с соответствующим методом.
func TestOpenAPISpec_RoutesDeclared(t *testing.T) {
	doc := loadSpec(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/certificates"},
		{http.MethodGet, "/api/v1/certificates"},
		{http.MethodGet, "/api/v1/certificates/{id}"},
		{http.MethodPost, "/api/v1/certificates/{id}/anchor"},
		{http.MethodPost, "/api/v1/certificates/{id}/revoke"},
		{http.MethodGet, "/api/v1/verify"},
		{http.MethodPost, "/api/v1/verify/fields"},
		{http.MethodPost, "/api/v1/admin/bootstrap"},
		{http.MethodGet, "/health/live"},
		{http.MethodGet, "/health/ready"},
		{http.MethodGet, "/metrics"},
	}

	for _, r := range routes {
		item := doc.Paths.Find(r.path)
		if item == nil {
			t.Errorf("путь %s отсутствует в контракте", r.path)
			continue
		}
		if item.GetOperation(r.method) == nil {
			t.Errorf("операция %s %s отсутствует в контракте", r.method, r.path)
		}
	}
}

// TestOpenAPISpec_ErrorCodes проверяет, что enum кодов ошибок контракта
// согласован с кодами, которые реально пишет сервис.
func TestOpenAPISpec_ErrorCodes(t *testing.T) {
	doc := loadSpec(t)

	errSchema, ok := doc.Components.Schemas["Error"]
	if !ok || errSchema.Value == nil {
		t.Fatal("схема Error отсутствует в контракте")
	}

	detail, ok := errSchema.Value.Properties["error"]
	if !ok || detail.Value == nil {
		t.Fatal("схема Error.error отсутствует в контракте")
	}
	codeSchema, ok := detail.Value.Properties["code"]
	if !ok || codeSchema.Value == nil {
		t.Fatal("схема Error.error.code отсутствует в контракте")
	}

	declared := make(map[string]bool, len(codeSchema.Value.Enum))
	for _, v := range codeSchema.Value.Enum {
		if s, ok := v.(string); ok {
			declared[s] = true
		}
	}

	expected := []string{
		"VALIDATION_ERROR", "NOT_FOUND", "UNAUTHORIZED", "FORBIDDEN",
		"CONFLICT", "INVALID_TRANSITION", "CONFIRMATION_REQUIRED",
		"STORAGE_UNAVAILABLE", "STORAGE_REJECTED",
		"LEDGER_UNAVAILABLE", "LEDGER_REJECTED",
		"INSUFFICIENT_FUNDS", "INTERNAL_ERROR",
	}
	for _, code := range expected {
		if !declared[code] {
			t.Errorf("код ошибки %s отсутствует в enum контракта", code)
		}
	}
}
