package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, apiURL, gatewayURL string) *Client {
	t.Helper()
	c, err := New(apiURL, gatewayURL, "", 5*time.Second, "test-key", "test-secret", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// TestUpload_Success: pinning API возвращает CID, клиент его не пересчитывает.
func TestUpload_Success(t *testing.T) {
	const wantCID = "QmTestCid123"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pinning/pinFileToIPFS" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		if r.Header.Get("pinata_api_key") != "test-key" {
			t.Errorf("отсутствует заголовок pinata_api_key")
		}
		if r.Header.Get("pinata_secret_api_key") != "test-secret" {
			t.Errorf("отсутствует заголовок pinata_secret_api_key")
		}

		// Разбираем multipart: file + pinataMetadata
		mr, err := r.MultipartReader()
		if err != nil {
			t.Fatalf("multipart: %v", err)
		}
		var gotFile, gotMeta bool
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("чтение part: %v", err)
			}
			switch part.FormName() {
			case "file":
				gotFile = true
				data, _ := io.ReadAll(part)
				if string(data) != `{"x":1}` {
					t.Errorf("payload = %q", data)
				}
			case "pinataMetadata":
				gotMeta = true
				var meta map[string]any
				data, _ := io.ReadAll(part)
				if err := json.Unmarshal(data, &meta); err != nil {
					t.Errorf("pinataMetadata не JSON: %v", err)
				}
				if meta["name"] != "cert.json" {
					t.Errorf("meta.name = %v", meta["name"])
				}
			}
		}
		if !gotFile || !gotMeta {
			t.Errorf("multipart неполон: file=%v meta=%v", gotFile, gotMeta)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: wantCID, PinSize: 7})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	result, err := c.Upload(context.Background(), []byte(`{"x":1}`), "cert.json",
		map[string]string{"certificateId": "abc"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.CID != wantCID {
		t.Errorf("CID = %q, ожидался %q", result.CID, wantCID)
	}
	if result.Size != 7 {
		t.Errorf("Size = %d, ожидался 7", result.Size)
	}
}

// TestUpload_EmptyPayload: пустой payload валиден и закрепляется.
func TestUpload_EmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			t.Fatalf("multipart: %v", err)
		}
		var part *multipart.Part
		for {
			p, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("чтение part: %v", err)
			}
			if p.FormName() == "file" {
				part = p
				data, _ := io.ReadAll(p)
				if len(data) != 0 {
					t.Errorf("ожидался пустой payload, получено %d байт", len(data))
				}
			}
		}
		if part == nil {
			t.Error("part file отсутствует")
		}
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: "QmEmpty", PinSize: 0})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	result, err := c.Upload(context.Background(), nil, "empty.json", nil)
	if err != nil {
		t.Fatalf("Upload пустого payload: %v", err)
	}
	if result.CID != "QmEmpty" {
		t.Errorf("CID = %q", result.CID)
	}
}

// TestUpload_ErrorClasses: 5xx — транзиентная, 4xx — фатальная.
func TestUpload_ErrorClasses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		retryable bool
	}{
		{"5xx транзиентная", http.StatusBadGateway, ErrUnavailable, true},
		{"401 фатальная", http.StatusUnauthorized, ErrRejected, false},
		{"403 фатальная", http.StatusForbidden, ErrRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, srv.URL)
			_, err := c.Upload(context.Background(), []byte("x"), "x.json", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, ожидался %v", err, tt.wantErr)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, ожидалось %v", IsRetryable(err), tt.retryable)
			}
		})
	}
}

// TestUpload_ConnectionRefused: сетевая ошибка — транзиентная.
func TestUpload_ConnectionRefused(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	_, err := c.Upload(context.Background(), []byte("x"), "x.json", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, ожидался ErrUnavailable", err)
	}
}

// TestFetch_Success: gateway возвращает сырые байты payload.
func TestFetch_Success(t *testing.T) {
	const payload = `{"certificateId":"abc","certificateHash":"def"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ipfs/QmTestCid123" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	got, err := c.Fetch(context.Background(), "QmTestCid123")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != payload {
		t.Errorf("payload = %q, ожидался %q", got, payload)
	}
}

// TestFetch_ErrorClasses: 404 — ErrNotFound, 5xx — ErrUnavailable.
func TestFetch_ErrorClasses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"404 not found", http.StatusNotFound, ErrNotFound},
		{"503 транзиентная", http.StatusServiceUnavailable, ErrUnavailable},
		{"400 фатальная", http.StatusBadRequest, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, srv.URL)
			_, err := c.Fetch(context.Background(), "QmMissing")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, ожидался %v", err, tt.wantErr)
			}
		})
	}
}

// TestNew_TrimsTrailingSlash: хвостовые слэши URL обрезаются.
func TestNew_TrimsTrailingSlash(t *testing.T) {
	c, err := New("https://api.example.com/", "https://gw.example.com//", "",
		time.Second, "k", "s", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if strings.HasSuffix(c.apiURL, "/") {
		t.Errorf("apiURL не обрезан: %q", c.apiURL)
	}
	if strings.HasSuffix(c.gatewayURL, "/") {
		t.Errorf("gatewayURL не обрезан: %q", c.gatewayURL)
	}
}
