// issue.go — оркестрация выпуска сертификата.
//
// Pipeline (строгая последовательность, каждый шаг зависит от предыдущего):
//  1. Нормализация и валидация содержимого
//  2. digest := HashContent(content)
//  3. Загрузка payload (content + digest) в content store → CID
//  4. cidHash := HashBytes(CID)
//  5. Сборка proof (certificateId, CID, cidHash, recipientHash, courseHash, timestamp)
//  6. Анкеровка proof на ledger → AnchorReceipt
//  7. Фиксация результата в side-table, статус issued
//
// Частичный сбой: если шаг 6 упал после успешного шага 3, запись переходит
// в failed с СОХРАНЁННЫМ CID — оператор может повторить только шаг 6
// (ResumeAnchor), не дублируя загрузку. Сбой шага 3 никогда не доходит
// до шага 6.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/certanchor/internal/api/errors"
	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/domain/status"
	"github.com/bigkaa/certanchor/internal/hashing"
	"github.com/bigkaa/certanchor/internal/ipfs"
	"github.com/bigkaa/certanchor/internal/ledger"
	"github.com/bigkaa/certanchor/internal/repository"
)

// Prometheus-метрики выпуска.
var (
	issuanceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ca_issuance_total",
		Help: "Общее количество выпусков сертификатов (по результату).",
	}, []string{"result"})

	issuanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ca_issuance_duration_seconds",
		Help:    "Длительность полного pipeline выпуска в секундах.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// ContentStore — контракт content store для pipeline.
// Реализуется ipfs.Client; в тестах — заглушкой.
type ContentStore interface {
	Upload(ctx context.Context, payload []byte, name string, tags map[string]string) (*ipfs.UploadResult, error)
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// EventPublisher — контракт публикации доменных событий.
// Реализуется events.Publisher; nil-safe обёртка не требуется:
// сервис сам проверяет nil (события опциональны).
type EventPublisher interface {
	CertificateIssued(ctx context.Context, rec *model.CertificateRecord)
	CertificateFailed(ctx context.Context, rec *model.CertificateRecord)
	CertificateRevoked(ctx context.Context, rec *model.CertificateRecord)
}

// IssueError — ошибка выпуска с HTTP-кодом.
type IssueError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *IssueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IssueParams — параметры выпуска сертификата.
type IssueParams struct {
	// Content — содержимое сертификата. Пустой CertificateID —
	// идентификатор генерируется сервисом.
	Content model.CertificateContent
	// ExpiresAt — опциональный срок действия
	ExpiresAt *time.Time
}

// IssueService — оркестрация выпуска сертификатов.
type IssueService struct {
	repo   repository.CertificateRepository
	store  ContentStore
	anchor ledger.Anchor
	cache  *CacheService
	events EventPublisher

	// retryAttempts/retryBackoff — ограниченный retry транзиентных
	// ошибок store/ledger (экспоненциальный backoff)
	retryAttempts int
	retryBackoff  time.Duration

	logger *slog.Logger
}

// NewIssueService создаёт сервис выпуска.
// events может быть nil — публикация событий выключена.
func NewIssueService(
	repo repository.CertificateRepository,
	store ContentStore,
	anchor ledger.Anchor,
	cache *CacheService,
	events EventPublisher,
	retryAttempts int,
	retryBackoff time.Duration,
	logger *slog.Logger,
) *IssueService {
	return &IssueService{
		repo:          repo,
		store:         store,
		anchor:        anchor,
		cache:         cache,
		events:        events,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		logger:        logger.With(slog.String("component", "issue_service")),
	}
}

// Issue выполняет полный pipeline выпуска.
// Возвращает актуальную запись side-table или IssueError.
func (s *IssueService) Issue(ctx context.Context, params IssueParams) (*model.CertificateRecord, *IssueError) {
	start := time.Now()

	// 1-2. Нормализация, валидация, digest содержимого
	content := hashing.Normalize(params.Content)
	if content.CertificateID == "" {
		content.CertificateID = uuid.New().String()
	}
	if content.IssuedAt == 0 {
		content.IssuedAt = time.Now().UTC().UnixMilli()
	}

	digest, err := hashing.HashContent(content)
	if err != nil {
		var invalid *hashing.ErrInvalidInput
		if errors.As(err, &invalid) {
			issuanceTotal.WithLabelValues("validation_error").Inc()
			return nil, &IssueError{
				StatusCode: 400,
				Code:       apierrors.CodeValidationError,
				Message:    invalid.Error(),
			}
		}
		return nil, s.internalError("хэширование содержимого", content.CertificateID, err)
	}

	// Регистрация записи в статусе pending
	rec := &model.CertificateRecord{
		CertificateID:   content.CertificateID,
		CertificateHash: digest,
		RecipientName:   content.RecipientName,
		RecipientEmail:  content.RecipientEmail,
		IssuerName:      content.IssuerName,
		IssuerOrg:       content.IssuerOrg,
		CourseName:      content.CourseName,
		CompletionDate:  content.CompletionDate,
		Status:          string(status.StatusPending),
		ExpiresAt:       params.ExpiresAt,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			issuanceTotal.WithLabelValues("conflict").Inc()
			return nil, &IssueError{
				StatusCode: 409,
				Code:       apierrors.CodeConflict,
				Message:    fmt.Sprintf("Сертификат %s уже зарегистрирован", content.CertificateID),
			}
		}
		return nil, s.internalError("создание записи", content.CertificateID, err)
	}

	// pending → processing
	if err := s.repo.UpdateStatus(ctx, content.CertificateID, status.StatusPending, status.StatusProcessing); err != nil {
		return nil, s.internalError("переход в processing", content.CertificateID, err)
	}

	// 3. Загрузка payload в content store (с retry транзиентных ошибок)
	payload, err := hashing.CanonicalPayload(content, digest)
	if err != nil {
		s.fail(ctx, content.CertificateID)
		return nil, s.internalError("сериализация payload", content.CertificateID, err)
	}

	cid, issueErr := s.uploadWithRetry(ctx, content.CertificateID, payload)
	if issueErr != nil {
		// Сбой шага 3 — шаг 6 не выполняется вовсе
		s.fail(ctx, content.CertificateID)
		issuanceTotal.WithLabelValues("storage_error").Inc()
		return nil, issueErr
	}
	if err := s.repo.SetUploaded(ctx, content.CertificateID, cid); err != nil {
		s.fail(ctx, content.CertificateID)
		return nil, s.internalError("фиксация CID", content.CertificateID, err)
	}

	// 4-7. Анкеровка и фиксация результата
	record, issueErr := s.anchorAndPersist(ctx, content, cid)
	if issueErr != nil {
		return nil, issueErr
	}

	issuanceTotal.WithLabelValues("success").Inc()
	issuanceDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("Сертификат выпущен",
		slog.String("certificate_id", record.CertificateID),
		slog.String("cid", cid),
		slog.String("transaction_id", derefStr(record.TransactionID)),
	)

	if s.events != nil {
		s.events.CertificateIssued(ctx, record)
	}
	return record, nil
}

// ResumeAnchor повторяет только шаг 6 для записи в статусе failed
// с сохранённым CID: payload НЕ загружается заново.
// Маркер анкеровки снимается явно — оператор подтвердил (проверив
// ledger), что первая попытка не зафиксировалась.
func (s *IssueService) ResumeAnchor(ctx context.Context, certificateID string) (*model.CertificateRecord, *IssueError) {
	rec, err := s.repo.GetByID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &IssueError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Сертификат %s не найден", certificateID),
			}
		}
		return nil, s.internalError("чтение записи", certificateID, err)
	}

	// Повторная анкеровка допустима только из failed
	if err := status.Transition(status.Status(rec.Status), status.StatusProcessing, false); err != nil {
		return nil, &IssueError{
			StatusCode: 409,
			Code:       apierrors.CodeInvalidTransition,
			Message:    fmt.Sprintf("Повторная анкеровка недопустима из статуса %s", rec.Status),
		}
	}
	if rec.IPFSCid == nil || *rec.IPFSCid == "" {
		return nil, &IssueError{
			StatusCode: 409,
			Code:       apierrors.CodeConflict,
			Message:    "Запись не содержит CID: повторите выпуск целиком",
		}
	}

	if err := s.repo.UpdateStatus(ctx, certificateID, status.Status(rec.Status), status.StatusProcessing); err != nil {
		return nil, s.internalError("переход в processing", certificateID, err)
	}
	if err := s.repo.ClearAnchorAttempt(ctx, certificateID); err != nil {
		return nil, s.internalError("снятие маркера анкеровки", certificateID, err)
	}
	s.cache.Delete(certificateID)

	content := contentFromRecord(rec)
	record, issueErr := s.anchorAndPersist(ctx, content, *rec.IPFSCid)
	if issueErr != nil {
		return nil, issueErr
	}

	issuanceTotal.WithLabelValues("resumed").Inc()
	s.logger.Info("Анкеровка повторена оператором",
		slog.String("certificate_id", certificateID),
		slog.String("transaction_id", derefStr(record.TransactionID)),
	)

	if s.events != nil {
		s.events.CertificateIssued(ctx, record)
	}
	return record, nil
}

// anchorAndPersist выполняет шаги 4-7: сборка proof, durable-маркер,
// анкеровка, фиксация результата. Запись должна быть в processing
// с уже зафиксированным CID.
func (s *IssueService) anchorAndPersist(ctx context.Context, content model.CertificateContent, cid string) (*model.CertificateRecord, *IssueError) {
	certificateID := content.CertificateID

	// 4-5. Сборка proof
	proof := model.Proof{
		Type:          model.ProofType,
		Version:       model.ProofVersion,
		CertificateID: certificateID,
		IPFSCid:       cid,
		CIDHash:       hashing.HashString(cid),
		RecipientHash: hashing.HashString(content.RecipientEmail),
		CourseHash:    hashing.HashString(content.CourseName),
		Timestamp:     time.Now().UTC().UnixMilli(),
	}

	// Durable-маркер ДО submit: ledger не дедуплицирует, и без маркера
	// рестарт процесса между submit и фиксацией приводил бы к двойной
	// анкеровке. Установленный маркер — сигнал, что попытка уже была.
	if err := s.repo.MarkAnchorAttempt(ctx, certificateID); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			s.fail(ctx, certificateID)
			issuanceTotal.WithLabelValues("anchor_conflict").Inc()
			return nil, &IssueError{
				StatusCode: 409,
				Code:       apierrors.CodeConflict,
				Message:    "Анкеровка уже была начата: проверьте ledger перед повторной попыткой",
			}
		}
		return nil, s.internalError("установка маркера анкеровки", certificateID, err)
	}

	// 6. Анкеровка с ограниченным retry транзиентных ошибок.
	// После начала шага 6 контекст не отменяется досрочно: commit на
	// ledger может быть уже в полёте, отмена его не отменит.
	receipt, issueErr := s.anchorWithRetry(ctx, certificateID, proof)
	if issueErr != nil {
		// CID сохранён в записи — оператор может повторить шаг 6
		s.fail(ctx, certificateID)
		issuanceTotal.WithLabelValues("anchor_error").Inc()
		return nil, issueErr
	}

	// 7. Фиксация результата: processing → issued
	locator := receipt.Locator.String()
	var nftTokenID *string
	if receipt.Locator.TokenID != "" {
		nftTokenID = &receipt.Locator.TokenID
	}
	if err := s.repo.SetIssued(ctx, certificateID, receipt.TransactionReference, nftTokenID, &locator, nil); err != nil {
		// Анкеровка прошла, но фиксация не удалась: запись останется
		// в processing с маркером — оператор разбирает вручную,
		// повторная автоматическая анкеровка запрещена.
		return nil, s.internalError("фиксация выпуска", certificateID, err)
	}
	s.cache.Delete(certificateID)

	rec, err := s.repo.GetByID(ctx, certificateID)
	if err != nil {
		return nil, s.internalError("чтение записи после выпуска", certificateID, err)
	}
	return rec, nil
}

// uploadWithRetry загружает payload с ограниченным retry транзиентных ошибок.
func (s *IssueService) uploadWithRetry(ctx context.Context, certificateID string, payload []byte) (string, *IssueError) {
	name := fmt.Sprintf("certificate-%s.json", certificateID)
	tags := map[string]string{"certificateId": certificateID}

	var lastErr error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		result, err := s.store.Upload(ctx, payload, name, tags)
		if err == nil {
			return result.CID, nil
		}
		lastErr = err

		if !ipfs.IsRetryable(err) {
			// Отказ store фатален: повторная отправка того же payload
			// даст тот же отказ, клиенту нужен не-retryable код
			return "", &IssueError{
				StatusCode: 422,
				Code:       apierrors.CodeStorageRejected,
				Message:    fmt.Sprintf("Content store отклонил загрузку: %s", err),
			}
		}

		s.logger.Warn("Транзиентная ошибка загрузки payload",
			slog.String("certificate_id", certificateID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < s.retryAttempts {
			if !sleepCtx(ctx, backoffDelay(s.retryBackoff, attempt)) {
				break
			}
		}
	}

	return "", &IssueError{
		StatusCode: 502,
		Code:       apierrors.CodeStorageUnavailable,
		Message:    fmt.Sprintf("Content store недоступен после %d попыток: %s", s.retryAttempts, lastErr),
	}
}

// anchorWithRetry анкерует proof с ограниченным retry транзиентных ошибок.
// Фатальные классы (rejected, insufficient funds) не повторяются.
func (s *IssueService) anchorWithRetry(ctx context.Context, certificateID string, proof model.Proof) (*model.AnchorReceipt, *IssueError) {
	var lastErr error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		receipt, err := s.anchor.Anchor(ctx, proof)
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			// Отдельный код: не путать с транзиентным сбоем,
			// требуется вмешательство оператора
			return nil, &IssueError{
				StatusCode: 402,
				Code:       apierrors.CodeInsufficientFunds,
				Message:    "Баланс операторского аккаунта исчерпан",
			}
		case !ledger.IsRetryable(err):
			// Отказ ledger фатален: тот же proof будет отклонён снова
			return nil, &IssueError{
				StatusCode: 422,
				Code:       apierrors.CodeLedgerRejected,
				Message:    fmt.Sprintf("Ledger отклонил proof: %s", err),
			}
		}

		s.logger.Warn("Транзиентная ошибка анкеровки",
			slog.String("certificate_id", certificateID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < s.retryAttempts {
			if !sleepCtx(ctx, backoffDelay(s.retryBackoff, attempt)) {
				break
			}
		}
	}

	return nil, &IssueError{
		StatusCode: 502,
		Code:       apierrors.CodeLedgerUnavailable,
		Message:    fmt.Sprintf("Ledger недоступен после %d попыток: %s", s.retryAttempts, lastErr),
	}
}

// fail переводит запись в failed (best effort) и публикует событие.
// Частичный прогресс (CID) остаётся в записи.
func (s *IssueService) fail(ctx context.Context, certificateID string) {
	if err := s.repo.SetFailed(ctx, certificateID); err != nil {
		s.logger.Error("Не удалось перевести запись в failed",
			slog.String("certificate_id", certificateID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.cache.Delete(certificateID)

	if s.events != nil {
		if rec, err := s.repo.GetByID(ctx, certificateID); err == nil {
			s.events.CertificateFailed(ctx, rec)
		}
	}
}

// internalError логирует и возвращает 500.
func (s *IssueService) internalError(step, certificateID string, err error) *IssueError {
	s.logger.Error("Ошибка pipeline выпуска",
		slog.String("step", step),
		slog.String("certificate_id", certificateID),
		slog.String("error", err.Error()),
	)
	return &IssueError{
		StatusCode: 500,
		Code:       apierrors.CodeInternalError,
		Message:    fmt.Sprintf("Внутренняя ошибка: %s", step),
	}
}

// contentFromRecord восстанавливает содержимое из денормализованных
// полей записи (для пересборки proof при повторной анкеровке).
func contentFromRecord(rec *model.CertificateRecord) model.CertificateContent {
	return model.CertificateContent{
		CertificateID:  rec.CertificateID,
		RecipientName:  rec.RecipientName,
		RecipientEmail: rec.RecipientEmail,
		IssuerName:     rec.IssuerName,
		IssuerOrg:      rec.IssuerOrg,
		CourseName:     rec.CourseName,
		CompletionDate: rec.CompletionDate,
	}
}

// backoffDelay возвращает задержку для попытки attempt (экспоненциальную).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepCtx ждёт delay или отмены контекста. Возвращает false при отмене.
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// derefStr возвращает значение указателя или пустую строку.
func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
