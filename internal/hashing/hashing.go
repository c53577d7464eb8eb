// Пакет hashing — детерминированное хэширование содержимого сертификатов.
//
// Хэш считается поверх канонической сериализации: ключи отсортированы на
// каждом уровне вложенности, без лишних пробелов, строки нормализованы
// (trim, email в lowercase), timestamp — unix-миллисекунды. Семантически
// одинаковое содержимое даёт один и тот же digest независимо от порядка
// полей во входных данных и от процесса/языка, который его считает.
//
// Без внешнего I/O — чистые функции.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

// ErrInvalidInput — обязательное поле отсутствует или пусто после trim.
type ErrInvalidInput struct {
	Field string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("INVALID_INPUT: обязательное поле %q отсутствует или пусто", e.Field)
}

// Normalize возвращает копию содержимого с нормализованными строками:
// все поля trim, email дополнительно в lowercase.
// Применяется до любого хэширования и до сохранения в side-table,
// чтобы "Jane@Example.com " и "jane@example.com" давали один digest.
func Normalize(c model.CertificateContent) model.CertificateContent {
	c.CertificateID = strings.TrimSpace(c.CertificateID)
	c.RecipientName = strings.TrimSpace(c.RecipientName)
	c.RecipientEmail = strings.ToLower(strings.TrimSpace(c.RecipientEmail))
	c.IssuerName = strings.TrimSpace(c.IssuerName)
	c.IssuerOrg = strings.TrimSpace(c.IssuerOrg)
	c.CourseName = strings.TrimSpace(c.CourseName)
	c.CompletionDate = strings.TrimSpace(c.CompletionDate)
	c.FileChecksum = strings.ToLower(strings.TrimSpace(c.FileChecksum))
	return c
}

// validateRequired проверяет обязательные поля после нормализации.
func validateRequired(c model.CertificateContent) error {
	required := []struct {
		name  string
		value string
	}{
		{"recipientName", c.RecipientName},
		{"recipientEmail", c.RecipientEmail},
		{"issuerName", c.IssuerName},
		{"courseName", c.CourseName},
		{"completionDate", c.CompletionDate},
	}
	for _, f := range required {
		if f.value == "" {
			return &ErrInvalidInput{Field: f.name}
		}
	}
	return nil
}

// CanonicalJSON возвращает каноническую сериализацию содержимого.
//
// Содержимое переводится в map и кодируется encoding/json: ключи map
// сортируются кодировщиком лексикографически на каждом уровне вложенности,
// компактный вывод без пробелов, HTML-escaping выключен (байт-в-байт
// совместимо с JSON.stringify отсортированного объекта). Пустые
// опциональные поля опускаются.
func CanonicalJSON(c model.CertificateContent) ([]byte, error) {
	c = Normalize(c)
	if err := validateRequired(c); err != nil {
		return nil, err
	}

	fields := map[string]any{
		"certificateId":  c.CertificateID,
		"completionDate": c.CompletionDate,
		"courseName":     c.CourseName,
		"issuedAt":       c.IssuedAt,
		"issuerName":     c.IssuerName,
		"recipientEmail": c.RecipientEmail,
		"recipientName":  c.RecipientName,
	}
	if c.IssuerOrg != "" {
		fields["issuerOrg"] = c.IssuerOrg
	}
	if c.FileChecksum != "" {
		fields["fileChecksum"] = c.FileChecksum
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("каноническая сериализация: %w", err)
	}
	// Encoder добавляет завершающий \n — в каноническую форму он не входит
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalPayload возвращает payload для content store: каноническая
// сериализация содержимого, дополненная полем certificateHash с digest
// этого же содержимого. Сортировка ключей и правила кодирования — как
// в CanonicalJSON, поэтому payload так же детерминирован.
func CanonicalPayload(c model.CertificateContent, digest string) ([]byte, error) {
	canonical, err := CanonicalJSON(c)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(canonical, &fields); err != nil {
		return nil, fmt.Errorf("разбор канонической формы: %w", err)
	}
	fields["certificateHash"] = digest

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("сериализация payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodePayload разбирает payload из content store обратно в содержимое
// и встроенный digest. Ошибка — только при синтаксически некорректном
// JSON: отсутствие полей проявится при пересчёте хэша, а не здесь.
func DecodePayload(payload []byte) (model.CertificateContent, string, error) {
	var embedded struct {
		model.CertificateContent
		CertificateHash string `json:"certificateHash"`
	}
	if err := json.Unmarshal(payload, &embedded); err != nil {
		return model.CertificateContent{}, "", fmt.Errorf("разбор payload: %w", err)
	}
	return embedded.CertificateContent, embedded.CertificateHash, nil
}

// HashContent канонизирует содержимое и возвращает SHA-256 digest
// в виде 64-символьной lowercase hex-строки.
// Возвращает ErrInvalidInput, если обязательное поле пусто после trim.
func HashContent(c model.CertificateContent) (string, error) {
	canonical, err := CanonicalJSON(c)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// HashBytes возвращает SHA-256 digest сырых байтов (64-hex lowercase).
// Пустой вход валиден и даёт well-known digest пустой строки
// (e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855).
func HashBytes(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// HashString возвращает SHA-256 digest строки (для recipientHash/courseHash/cidHash).
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// VerifyHash пересчитывает digest содержимого и сравнивает с ожидаемым.
// Никогда не возвращает ошибку: несовпадение и невалидное содержимое —
// нормальный результат false (tamper detection — ожидаемый исход,
// а не исключение).
func VerifyHash(c model.CertificateContent, expectedDigest string) bool {
	digest, err := HashContent(c)
	if err != nil {
		return false
	}
	return digest == strings.ToLower(strings.TrimSpace(expectedDigest))
}
