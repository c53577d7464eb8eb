// Пакет events — публикация доменных событий жизненного цикла
// сертификатов в RabbitMQ.
//
// События best-effort: сбой публикации логируется, но никогда не
// прерывает pipeline — источник истины для состояния сертификата
// остаётся в side-table/ledger, а не в очереди.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

// Routing keys событий.
const (
	RoutingIssued  = "certificate.issued"
	RoutingFailed  = "certificate.failed"
	RoutingRevoked = "certificate.revoked"
)

// Prometheus-метрики публикации событий.
var (
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ca_events_published_total",
		Help: "Общее количество опубликованных доменных событий (по типу и результату).",
	}, []string{"event", "result"})
)

// Event — тело доменного события.
type Event struct {
	// Event — routing key (certificate.issued|failed|revoked)
	Event string `json:"event"`
	// CertificateID — UUID сертификата
	CertificateID string `json:"certificateId"`
	// Status — статус записи на момент события
	Status string `json:"status"`
	// CID — CID payload, если получен
	CID string `json:"cid,omitempty"`
	// TransactionID — транзакция ledger, если анкеровка прошла
	TransactionID string `json:"transactionId,omitempty"`
	// Timestamp — момент события, unix-миллисекунды UTC
	Timestamp int64 `json:"timestamp"`
}

// Publisher — публикатор доменных событий в exchange RabbitMQ.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewPublisher подключается к RabbitMQ и декларирует topic exchange.
func NewPublisher(amqpURL, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("открытие канала RabbitMQ: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("декларация exchange %q: %w", exchange, err)
	}

	logger.Info("Публикация доменных событий включена",
		slog.String("exchange", exchange),
	)

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "events")),
	}, nil
}

// CertificateIssued публикует событие успешного выпуска.
func (p *Publisher) CertificateIssued(ctx context.Context, rec *model.CertificateRecord) {
	p.publish(ctx, RoutingIssued, rec)
}

// CertificateFailed публикует событие сбоя выпуска.
func (p *Publisher) CertificateFailed(ctx context.Context, rec *model.CertificateRecord) {
	p.publish(ctx, RoutingFailed, rec)
}

// CertificateRevoked публикует событие отзыва.
func (p *Publisher) CertificateRevoked(ctx context.Context, rec *model.CertificateRecord) {
	p.publish(ctx, RoutingRevoked, rec)
}

// publish сериализует и отправляет событие. Best effort: ошибка
// логируется и учитывается в метриках, но не возвращается.
func (p *Publisher) publish(ctx context.Context, routingKey string, rec *model.CertificateRecord) {
	event := Event{
		Event:         routingKey,
		CertificateID: rec.CertificateID,
		Status:        rec.Status,
		Timestamp:     time.Now().UTC().UnixMilli(),
	}
	if rec.IPFSCid != nil {
		event.CID = *rec.IPFSCid
	}
	if rec.TransactionID != nil {
		event.TransactionID = *rec.TransactionID
	}

	body, err := json.Marshal(event)
	if err != nil {
		eventsPublishedTotal.WithLabelValues(routingKey, "error").Inc()
		p.logger.Error("Ошибка сериализации события",
			slog.String("event", routingKey),
			slog.String("error", err.Error()),
		)
		return
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		eventsPublishedTotal.WithLabelValues(routingKey, "error").Inc()
		p.logger.Error("Ошибка публикации события",
			slog.String("event", routingKey),
			slog.String("certificate_id", rec.CertificateID),
			slog.String("error", err.Error()),
		)
		return
	}

	eventsPublishedTotal.WithLabelValues(routingKey, "success").Inc()
	p.logger.Debug("Событие опубликовано",
		slog.String("event", routingKey),
		slog.String("certificate_id", rec.CertificateID),
	)
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.logger.Info("Публикация доменных событий остановлена")
}
