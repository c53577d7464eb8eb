package ledger

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

// testProof возвращает валидный proof для тестов.
func testProof() model.Proof {
	return model.Proof{
		CertificateID: "5f1b3f3a-9c2d-4f7e-8a1b-0c9d8e7f6a5b",
		IPFSCid:       "QmTestCid123",
		CIDHash:       "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899",
		RecipientHash: "1111111111111111111111111111111111111111111111111111111111111111",
		CourseHash:    "2222222222222222222222222222222222222222222222222222222222222222",
		Timestamp:     1747286400000,
	}
}

// TestEncodeProof_Wire: wire-формат компактен, порядок ключей фиксирован,
// type и version проставляются автоматически.
func TestEncodeProof_Wire(t *testing.T) {
	wire, err := EncodeProof(testProof())
	if err != nil {
		t.Fatalf("EncodeProof: %v", err)
	}

	s := string(wire)
	if strings.Contains(s, "\n") || strings.Contains(s, ": ") {
		t.Errorf("wire-формат не компактен: %s", s)
	}

	order := []string{`"type"`, `"version"`, `"certificateId"`, `"ipfsCid"`,
		`"cidHash"`, `"recipientHash"`, `"courseHash"`, `"timestamp"`}
	prev := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		if idx < 0 {
			t.Fatalf("ключ %s отсутствует в wire-формате: %s", key, s)
		}
		if idx < prev {
			t.Errorf("ключ %s нарушает порядок wire-формата: %s", key, s)
		}
		prev = idx
	}

	if !strings.Contains(s, `"type":"CERTIFICATE_PROOF"`) {
		t.Errorf("type не проставлен: %s", s)
	}
	if !strings.Contains(s, `"version":"1.0"`) {
		t.Errorf("version не проставлен: %s", s)
	}
}

// TestDecodeProof_RoundTrip: encode → decode восстанавливает proof.
func TestDecodeProof_RoundTrip(t *testing.T) {
	src := testProof()
	wire, err := EncodeProof(src)
	if err != nil {
		t.Fatalf("EncodeProof: %v", err)
	}

	got, err := DecodeProof(wire)
	if err != nil {
		t.Fatalf("DecodeProof: %v", err)
	}
	if got.CertificateID != src.CertificateID || got.IPFSCid != src.IPFSCid ||
		got.CIDHash != src.CIDHash || got.Timestamp != src.Timestamp {
		t.Errorf("proof искажён: %+v", got)
	}
}

// TestDecodeProof_Validation: чужой type, чужая версия, битый JSON.
func TestDecodeProof_Validation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"чужой type", `{"type":"OTHER","version":"1.0"}`},
		{"чужая версия", `{"type":"CERTIFICATE_PROOF","version":"2.0"}`},
		{"битый JSON", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeProof([]byte(tt.data)); err == nil {
				t.Error("ожидалась ошибка разбора")
			}
		})
	}
}

// TestAnchoredProof_Matches: полный proof сравнивается по cidHash целиком,
// усечённый — по детерминированному префиксу.
func TestAnchoredProof_Matches(t *testing.T) {
	proof := testProof()

	full := &AnchoredProof{Proof: &proof}
	if !full.Matches(proof.CIDHash) {
		t.Error("полный proof: ожидалось совпадение")
	}
	if full.Matches("0000000000000000000000000000000000000000000000000000000000000000") {
		t.Error("полный proof: ожидалось несовпадение")
	}

	truncated := &AnchoredProof{
		CIDHashPrefix: proof.CIDHash[:32],
		Truncated:     true,
	}
	if !truncated.Matches(proof.CIDHash) {
		t.Error("усечённый proof: ожидалось совпадение по префиксу")
	}
	if truncated.Matches("0000" + proof.CIDHash[4:]) {
		t.Error("усечённый proof: ожидалось несовпадение")
	}
	// Пересчитанный хэш короче префикса — не совпадение, не panic
	if truncated.Matches("abc") {
		t.Error("короткий пересчитанный хэш не должен совпадать")
	}

	empty := &AnchoredProof{Truncated: true}
	if empty.Matches(proof.CIDHash) {
		t.Error("пустой префикс не должен совпадать ни с чем")
	}
}

// TestIsRetryable: retry имеет смысл только при недоступности ledger.
func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("wrap: %w", ErrUnavailable)) {
		t.Error("ErrUnavailable должна быть транзиентной")
	}
	for _, err := range []error{ErrRejected, ErrInsufficientFunds, ErrProofNotFound, errors.New("other")} {
		if IsRetryable(err) {
			t.Errorf("%v не должна быть транзиентной", err)
		}
	}
}
