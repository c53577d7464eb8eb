// Пакет ipfs — HTTP-клиент content store: загрузка payload через внешний
// pinning API и чтение по CID через gateway.
//
// CID выводится из содержимого самим store: клиент всегда записывает CID,
// который вернул pinning API, и никогда не предвычисляет его локально —
// схема адресации принадлежит внешнему сервису.
package ipfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// Классы ошибок content store (спецификация отказов §7).
var (
	// ErrUnavailable — сеть/5xx, транзиентная ошибка, допускает retry.
	ErrUnavailable = errors.New("content store недоступен")
	// ErrRejected — 4xx (например, плохие креденшалы), фатальная, retry бессмысленен.
	ErrRejected = errors.New("content store отклонил запрос")
	// ErrNotFound — gateway вернул 404, payload по CID отсутствует.
	ErrNotFound = errors.New("payload по CID не найден")
)

// IsRetryable сообщает, имеет ли смысл повторять операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// UploadResult — результат загрузки payload.
type UploadResult struct {
	// CID — content identifier, который вернул pinning API
	CID string
	// Size — размер закреплённого payload в байтах
	Size int64
}

// Client — HTTP-клиент pinning API + gateway.
type Client struct {
	httpClient *http.Client
	apiURL     string
	gatewayURL string
	apiKey     string
	apiSecret  string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	logger     *slog.Logger
}

// New создаёт клиент content store.
// apiURL — базовый URL pinning API (например, https://api.pinata.cloud).
// gatewayURL — базовый URL gateway для чтения (https://gateway.pinata.cloud).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут HTTP-запросов (CA_IPFS_TIMEOUT).
func New(
	apiURL string,
	gatewayURL string,
	caCertPath string,
	timeout time.Duration,
	apiKey string,
	apiSecret string,
	logger *slog.Logger,
) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата content store: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		logger.Info("CA-сертификат content store добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient: httpClient,
		apiURL:     strings.TrimRight(apiURL, "/"),
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		logger:     logger.With(slog.String("component", "ipfs_client")),
	}, nil
}

// pinResponse — ответ pinning API на закрепление файла.
type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
	PinSize  int64  `json:"PinSize"`
}

// Upload закрепляет payload в content store и возвращает CID.
// POST {apiURL}/pinning/pinFileToIPFS (multipart: file + pinataMetadata).
//
// Пустой payload валиден: нулевой файл закрепляется и получает корректный CID.
func (c *Client) Upload(ctx context.Context, payload []byte, name string, tags map[string]string) (*UploadResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("запись payload в multipart: %w", err)
	}

	// Метаданные пина: имя + произвольные keyvalues (теги)
	meta := map[string]any{"name": name}
	if len(tags) > 0 {
		meta["keyvalues"] = tags
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("сериализация pinataMetadata: %w", err)
	}
	if err := writer.WriteField("pinataMetadata", string(metaJSON)); err != nil {
		return nil, fmt.Errorf("запись pinataMetadata: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("закрытие multipart: %w", err)
	}

	reqURL := c.apiURL + "/pinning/pinFileToIPFS"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса upload: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.apiSecret)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("%w: запрос upload: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		// продолжаем
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: pinning API вернул статус %d", ErrUnavailable, resp.StatusCode)
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: статус %d: %s", ErrRejected, resp.StatusCode, string(respBody))
	}

	var pin pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return nil, fmt.Errorf("декодирование ответа pinning API: %w", err)
	}
	if pin.IpfsHash == "" {
		return nil, fmt.Errorf("%w: пустой IpfsHash в ответе pinning API", ErrRejected)
	}

	c.logger.Info("Payload закреплён в content store",
		slog.String("cid", pin.IpfsHash),
		slog.Int64("size", pin.PinSize),
		slog.String("name", name),
	)

	return &UploadResult{CID: pin.IpfsHash, Size: pin.PinSize}, nil
}

// Fetch читает payload по CID через gateway.
// GET {gatewayURL}/ipfs/{cid} — сырые байты; 404 ⇒ ErrNotFound.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/ipfs/%s", c.gatewayURL, cid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса fetch: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("%w: запрос fetch %s: %v", ErrUnavailable, cid, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// продолжаем
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: cid %s", ErrNotFound, cid)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: gateway вернул статус %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: gateway вернул статус %d для cid %s", ErrRejected, resp.StatusCode, cid)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение payload %s: %v", ErrUnavailable, cid, err)
	}
	return payload, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{RootCAs: caCertPool}, nil
}
