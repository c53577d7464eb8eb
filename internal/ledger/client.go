// client.go — общий HTTP-слой стратегий анкеровки: relay (запись) и
// mirror node (чтение). Маппинг статусов в классы ошибок ledger.
package ledger

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// restClient — HTTP-клиент с маппингом ошибок ledger.
type restClient struct {
	httpClient  *http.Client
	relayURL    string
	mirrorURL   string
	operatorID  string
	operatorKey string
	logger      *slog.Logger
}

// newRESTClient создаёт HTTP-слой стратегий анкеровки.
// relayURL — базовый URL ledger relay (подписывает транзакции оператором).
// mirrorURL — базовый URL mirror node REST API.
// operatorID и operatorKey — креденшалы операторского аккаунта,
// передаются relay в заголовках каждого запроса на запись.
func newRESTClient(
	relayURL string,
	mirrorURL string,
	caCertPath string,
	timeout time.Duration,
	operatorID string,
	operatorKey string,
	logger *slog.Logger,
) (*restClient, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата ledger: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
		logger.Info("CA-сертификат ledger добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &restClient{
		httpClient:  httpClient,
		relayURL:    strings.TrimRight(relayURL, "/"),
		mirrorURL:   strings.TrimRight(mirrorURL, "/"),
		operatorID:  operatorID,
		operatorKey: operatorKey,
		logger:      logger,
	}, nil
}

// postRelay выполняет POST к relay и декодирует JSON-ответ в out.
// Маппинг статусов: 402 → ErrInsufficientFunds, прочие 4xx → ErrRejected,
// 5xx/сеть → ErrUnavailable.
func (c *restClient) postRelay(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("сериализация запроса relay: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса relay: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operator-Account", c.operatorID)
	req.Header.Set("X-Operator-Key", c.operatorKey)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("%w: запрос %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if err := mapRelayStatus(resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("декодирование ответа relay: %w", err)
		}
	}
	return nil
}

// getMirror выполняет GET к mirror node и декодирует JSON-ответ в out.
// 404 → ErrProofNotFound, 5xx/сеть → ErrUnavailable.
func (c *restClient) getMirror(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mirrorURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("создание запроса mirror: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("%w: запрос %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// продолжаем
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrProofNotFound, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: mirror вернул статус %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: mirror вернул статус %d для %s", ErrRejected, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа mirror: %w", err)
	}
	return nil
}

// mapRelayStatus переводит HTTP-статус relay в класс ошибки ledger.
func mapRelayStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: relay вернул статус 402", ErrInsufficientFunds)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: relay вернул статус %d", ErrUnavailable, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: статус %d: %s", ErrRejected, resp.StatusCode, string(body))
	}
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
