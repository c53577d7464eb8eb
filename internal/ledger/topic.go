// topic.go — consensus-log стратегия анкеровки: proof публикуется
// opaque-сообщением в append-only topic.
//
// Идемпотентности нет by contract: каждый submit создаёт новую запись
// в логе. At-most-once обеспечивает оркестрация (маркер в side-table).
package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

// Prometheus-метрики анкеровки.
var (
	anchorSubmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ca_ledger_anchor_submits_total",
		Help: "Общее количество попыток анкеровки proof (по стратегии и результату).",
	}, []string{"strategy", "result"})

	anchorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ca_ledger_anchor_duration_seconds",
		Help:    "Длительность анкеровки proof в секундах.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"strategy"})
)

// TopicAnchor — consensus-log стратегия (append в topic).
type TopicAnchor struct {
	rest    *restClient
	topicID string
	logger  *slog.Logger
}

// NewTopicAnchor создаёт consensus-log стратегию.
// topicID — идентификатор существующего topic (обязателен для Anchor;
// пустое значение допустимо только до явного Bootstrap).
func NewTopicAnchor(
	relayURL string,
	mirrorURL string,
	caCertPath string,
	timeout time.Duration,
	operatorID string,
	operatorKey string,
	topicID string,
	logger *slog.Logger,
) (*TopicAnchor, error) {
	rest, err := newRESTClient(relayURL, mirrorURL, caCertPath, timeout, operatorID, operatorKey, logger)
	if err != nil {
		return nil, err
	}
	return &TopicAnchor{
		rest:    rest,
		topicID: topicID,
		logger:  logger.With(slog.String("component", "topic_anchor")),
	}, nil
}

// topicSubmitResponse — ответ relay на публикацию сообщения.
type topicSubmitResponse struct {
	TransactionID  string `json:"transactionId"`
	TopicID        string `json:"topicId"`
	SequenceNumber int64  `json:"sequenceNumber"`
}

// Anchor публикует proof сообщением в topic.
// POST {relay}/api/v1/topics/{topicID}/messages, message — base64 wire-формата.
func (a *TopicAnchor) Anchor(ctx context.Context, proof model.Proof) (*model.AnchorReceipt, error) {
	start := time.Now()

	wire, err := EncodeProof(proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	var resp topicSubmitResponse
	path := fmt.Sprintf("/api/v1/topics/%s/messages", a.topicID)
	payload := map[string]string{"message": base64.StdEncoding.EncodeToString(wire)}

	if err := a.rest.postRelay(ctx, path, payload, &resp); err != nil {
		anchorSubmitsTotal.WithLabelValues("topic", "error").Inc()
		return nil, err
	}

	anchorSubmitsTotal.WithLabelValues("topic", "success").Inc()
	anchorDuration.WithLabelValues("topic").Observe(time.Since(start).Seconds())

	a.logger.Info("Proof закреплён в topic",
		slog.String("certificate_id", proof.CertificateID),
		slog.String("transaction_id", resp.TransactionID),
		slog.Int64("sequence_number", resp.SequenceNumber),
	)

	return &model.AnchorReceipt{
		TransactionReference: resp.TransactionID,
		Locator: model.LedgerLocator{
			TopicID:        a.topicID,
			SequenceNumber: resp.SequenceNumber,
		},
	}, nil
}

// topicMessage — сообщение topic из mirror node.
type topicMessage struct {
	// Message — base64 содержимого сообщения
	Message        string `json:"message"`
	TopicID        string `json:"topic_id"`
	SequenceNumber int64  `json:"sequence_number"`
	// ConsensusTimestamp — момент консенсуса (строка mirror node)
	ConsensusTimestamp string `json:"consensus_timestamp"`
}

// ProofByTransaction читает proof по транзакции.
// GET {mirror}/api/v1/topics/messages/{txRef}.
func (a *TopicAnchor) ProofByTransaction(ctx context.Context, txRef string) (*AnchoredProof, error) {
	var msg topicMessage
	if err := a.rest.getMirror(ctx, "/api/v1/topics/messages/"+txRef, &msg); err != nil {
		return nil, err
	}
	return a.decodeMessage(msg, txRef)
}

// ProofByLocator читает proof по позиции в topic.
// GET {mirror}/api/v1/topics/{topic}/messages/{seq}.
func (a *TopicAnchor) ProofByLocator(ctx context.Context, loc model.LedgerLocator) (*AnchoredProof, error) {
	path := fmt.Sprintf("/api/v1/topics/%s/messages/%d", loc.TopicID, loc.SequenceNumber)
	var msg topicMessage
	if err := a.rest.getMirror(ctx, path, &msg); err != nil {
		return nil, err
	}
	return a.decodeMessage(msg, "")
}

// decodeMessage разбирает сообщение topic в AnchoredProof.
func (a *TopicAnchor) decodeMessage(msg topicMessage, txRef string) (*AnchoredProof, error) {
	raw, err := base64.StdEncoding.DecodeString(msg.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 сообщения: %v", ErrProofNotFound, err)
	}

	proof, err := DecodeProof(raw)
	if err != nil {
		// Сообщение в topic есть, но это не наш proof
		return nil, fmt.Errorf("%w: %v", ErrProofNotFound, err)
	}

	return &AnchoredProof{
		Proof:         proof,
		CID:           proof.IPFSCid,
		TransactionID: txRef,
		Locator: model.LedgerLocator{
			TopicID:        msg.TopicID,
			SequenceNumber: msg.SequenceNumber,
		},
	}, nil
}

// topicCreateResponse — ответ relay на создание topic.
type topicCreateResponse struct {
	TopicID string `json:"topicId"`
}

// Bootstrap создаёт новый topic и возвращает его идентификатор.
// Вызывающий ОБЯЗАН сохранить идентификатор в конфигурации: без этого
// каждый вызов создаёт новый topic.
func (a *TopicAnchor) Bootstrap(ctx context.Context) (string, error) {
	var resp topicCreateResponse
	payload := map[string]string{"memo": "certificate-proof-anchors"}

	if err := a.rest.postRelay(ctx, "/api/v1/topics", payload, &resp); err != nil {
		return "", err
	}
	if resp.TopicID == "" {
		return "", fmt.Errorf("%w: пустой topicId в ответе relay", ErrRejected)
	}

	a.topicID = resp.TopicID
	a.logger.Warn("Создан новый topic — сохраните идентификатор в конфигурации (CA_LEDGER_TOPIC_ID)",
		slog.String("topic_id", resp.TopicID),
	)
	return resp.TopicID, nil
}
