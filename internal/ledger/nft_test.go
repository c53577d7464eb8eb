package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

func newTestNFTAnchor(t *testing.T, relayURL, mirrorURL, tokenID string) *NFTAnchor {
	t.Helper()
	a, err := NewNFTAnchor(relayURL, mirrorURL, "", 5*time.Second,
		"0.0.1001", "test-operator-key", tokenID, "Acme Academy", testLogger())
	if err != nil {
		t.Fatalf("NewNFTAnchor: %v", err)
	}
	return a
}

// TestBuildNFTMetadata_Truncation: усечение детерминировано — hash до 32
// hex-символов, org до 20 символов, порядок ключей cid, hash, org.
func TestBuildNFTMetadata_Truncation(t *testing.T) {
	proof := testProof()
	data, err := BuildNFTMetadata(proof, "Very Long Organization Name Inc.")
	if err != nil {
		t.Fatalf("BuildNFTMetadata: %v", err)
	}

	var meta nftMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("метаданные не JSON: %v", err)
	}
	if meta.CID != proof.IPFSCid {
		t.Errorf("cid = %s", meta.CID)
	}
	if meta.Hash != proof.CIDHash[:32] {
		t.Errorf("hash = %s, ожидался префикс %s", meta.Hash, proof.CIDHash[:32])
	}
	if meta.Org != "Very Long Organizati" {
		t.Errorf("org = %q, ожидалось усечение до 20 символов", meta.Org)
	}

	s := string(data)
	idxCID := strings.Index(s, `"cid"`)
	idxHash := strings.Index(s, `"hash"`)
	idxOrg := strings.Index(s, `"org"`)
	if !(idxCID < idxHash && idxHash < idxOrg) {
		t.Errorf("порядок ключей метаданных нарушен: %s", s)
	}

	// Повторная сборка даёт те же байты
	data2, err := BuildNFTMetadata(proof, "Very Long Organization Name Inc.")
	if err != nil {
		t.Fatalf("BuildNFTMetadata: %v", err)
	}
	if string(data) != string(data2) {
		t.Errorf("усечение недетерминировано: %s != %s", data, data2)
	}
}

// TestBuildNFTMetadata_EmptyOrgOmitted: пустая организация опускается.
func TestBuildNFTMetadata_EmptyOrgOmitted(t *testing.T) {
	data, err := BuildNFTMetadata(testProof(), "")
	if err != nil {
		t.Fatalf("BuildNFTMetadata: %v", err)
	}
	if strings.Contains(string(data), "org") {
		t.Errorf("пустой org не должен попадать в метаданные: %s", data)
	}
}

// TestBuildNFTMetadata_OverLimit: сериализация сверх лимита — ErrRejected,
// молчаливого дополнительного усечения нет.
func TestBuildNFTMetadata_OverLimit(t *testing.T) {
	proof := testProof()
	proof.IPFSCid = strings.Repeat("Q", MetadataByteLimit+1)

	if _, err := BuildNFTMetadata(proof, ""); !errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, ожидался ErrRejected", err)
	}
}

// TestNFTAnchor_Anchor: минт единицы коллекции с base64-метаданными,
// квитанция содержит локатор token#serial.
func TestNFTAnchor_Anchor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tokens/0.0.500/mint" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("декодирование тела: %v", err)
		}
		raw, err := base64.StdEncoding.DecodeString(body["metadata"])
		if err != nil {
			t.Fatalf("metadata не base64: %v", err)
		}
		var meta nftMetadata
		if err := json.Unmarshal(raw, &meta); err != nil || meta.CID == "" {
			t.Fatalf("метаданные не содержат proof: %v", err)
		}
		if len(raw) > MetadataByteLimit {
			t.Errorf("метаданные %d байт превышают лимит %d", len(raw), MetadataByteLimit)
		}

		_ = json.NewEncoder(w).Encode(mintResponse{
			TransactionID: "0.0.1001@1747286400.000000007",
			TokenID:       "0.0.500",
			SerialNumber:  7,
		})
	}))
	defer srv.Close()

	a := newTestNFTAnchor(t, srv.URL, srv.URL, "0.0.500")
	receipt, err := a.Anchor(context.Background(), testProof())
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if receipt.TransactionReference != "0.0.1001@1747286400.000000007" {
		t.Errorf("TransactionReference = %s", receipt.TransactionReference)
	}
	if got := receipt.Locator.String(); got != "0.0.500#7" {
		t.Errorf("Locator = %s, ожидался 0.0.500#7", got)
	}
}

// TestNFTAnchor_InsufficientFunds: 402 relay — ErrInsufficientFunds, фатальная.
func TestNFTAnchor_InsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	a := newTestNFTAnchor(t, srv.URL, srv.URL, "0.0.500")
	_, err := a.Anchor(context.Background(), testProof())
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, ожидался ErrInsufficientFunds", err)
	}
	if IsRetryable(err) {
		t.Error("ErrInsufficientFunds не должна быть транзиентной")
	}
}

// TestNFTAnchor_ProofByTransaction: mirror отдаёт список NFT транзакции,
// proof усечён и сравнивается по префиксу.
func TestNFTAnchor_ProofByTransaction(t *testing.T) {
	proof := testProof()
	meta, err := BuildNFTMetadata(proof, "Acme Academy")
	if err != nil {
		t.Fatalf("BuildNFTMetadata: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transactions/tx-mint-1/nfts" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(nftListResponse{NFTs: []nftInfo{{
			TokenID:      "0.0.500",
			SerialNumber: 7,
			Metadata:     base64.StdEncoding.EncodeToString(meta),
		}}})
	}))
	defer srv.Close()

	a := newTestNFTAnchor(t, srv.URL, srv.URL, "0.0.500")
	got, err := a.ProofByTransaction(context.Background(), "tx-mint-1")
	if err != nil {
		t.Fatalf("ProofByTransaction: %v", err)
	}
	if !got.Truncated {
		t.Error("NFT-proof должен быть усечённым")
	}
	if got.Proof != nil {
		t.Error("полный proof недоступен для NFT-метаданных")
	}
	if got.CID != proof.IPFSCid {
		t.Errorf("CID = %s", got.CID)
	}
	if got.CIDHashPrefix != proof.CIDHash[:32] {
		t.Errorf("CIDHashPrefix = %s", got.CIDHashPrefix)
	}
	if got.Org != "Acme Academy" {
		t.Errorf("Org = %s", got.Org)
	}
	if !got.Matches(proof.CIDHash) {
		t.Error("Matches вернул false для корректного cidHash")
	}
	if got.Matches("0000" + proof.CIDHash[4:]) {
		t.Error("Matches вернул true для чужого cidHash")
	}
}

// TestNFTAnchor_ProofByTransaction_NoMint: транзакция без минта —
// ErrProofNotFound.
func TestNFTAnchor_ProofByTransaction_NoMint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(nftListResponse{})
	}))
	defer srv.Close()

	a := newTestNFTAnchor(t, srv.URL, srv.URL, "0.0.500")
	_, err := a.ProofByTransaction(context.Background(), "tx-empty")
	if !errors.Is(err, ErrProofNotFound) {
		t.Errorf("err = %v, ожидался ErrProofNotFound", err)
	}
}

// TestNFTAnchor_ProofByTransaction_ForeignMetadata: токен чужой коллекции
// без proof в метаданных — ErrProofNotFound.
func TestNFTAnchor_ProofByTransaction_ForeignMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(nftListResponse{NFTs: []nftInfo{{
			TokenID:      "0.0.999",
			SerialNumber: 1,
			Metadata:     base64.StdEncoding.EncodeToString([]byte(`{"foo":"bar"}`)),
		}}})
	}))
	defer srv.Close()

	a := newTestNFTAnchor(t, srv.URL, srv.URL, "0.0.500")
	_, err := a.ProofByTransaction(context.Background(), "tx-foreign")
	if !errors.Is(err, ErrProofNotFound) {
		t.Errorf("err = %v, ожидался ErrProofNotFound", err)
	}
}

// TestNFTAnchor_ProofByLocator: чтение по token#serial.
func TestNFTAnchor_ProofByLocator(t *testing.T) {
	meta, err := BuildNFTMetadata(testProof(), "Acme Academy")
	if err != nil {
		t.Fatalf("BuildNFTMetadata: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tokens/0.0.500/nfts/7" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(nftInfo{
			TokenID:      "0.0.500",
			SerialNumber: 7,
			Metadata:     base64.StdEncoding.EncodeToString(meta),
		})
	}))
	defer srv.Close()

	a := newTestNFTAnchor(t, srv.URL, srv.URL, "0.0.500")
	got, err := a.ProofByLocator(context.Background(), model.LedgerLocator{
		TokenID:      "0.0.500",
		SerialNumber: 7,
	})
	if err != nil {
		t.Fatalf("ProofByLocator: %v", err)
	}
	if got.Locator.TokenID != "0.0.500" || got.Locator.SerialNumber != 7 {
		t.Errorf("Locator = %+v", got.Locator)
	}
}

// TestNFTAnchor_Bootstrap: создание коллекции и использование нового id.
func TestNFTAnchor_Bootstrap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tokens" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("декодирование тела: %v", err)
		}
		if body["symbol"] == "" {
			t.Error("ожидался symbol коллекции")
		}
		_ = json.NewEncoder(w).Encode(tokenCreateResponse{TokenID: "0.0.8800"})
	}))
	defer srv.Close()

	a := newTestNFTAnchor(t, srv.URL, srv.URL, "")
	id, err := a.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if id != "0.0.8800" {
		t.Errorf("tokenID = %s, ожидался 0.0.8800", id)
	}
	if a.tokenID != "0.0.8800" {
		t.Errorf("стратегия не переключилась на новую коллекцию: %s", a.tokenID)
	}
}
