// verify.go — проверка целостности сертификатов.
//
// Stateless и без побочных эффектов: проверка никогда не меняет состояние
// ledger или store, повторные вызовы идемпотентны. Результат — tri-state
// MATCH / MISMATCH / NOT_FOUND: несовпадение хэшей и отсутствие proof —
// нормальные исходы, а не ошибки. Ошибка возвращается только при
// реальном инфраструктурном сбое store/ledger.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/hashing"
	"github.com/bigkaa/certanchor/internal/ipfs"
	"github.com/bigkaa/certanchor/internal/ledger"
	"github.com/bigkaa/certanchor/internal/repository"
)

// Prometheus-метрики проверки.
var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ca_verifications_total",
		Help: "Общее количество проверок сертификатов (по способу и результату).",
	}, []string{"method", "result"})
)

// VerifyService — проверка сертификатов против content store и ledger.
type VerifyService struct {
	repo   repository.CertificateRepository
	store  ContentStore
	anchor ledger.Anchor
	logger *slog.Logger
}

// NewVerifyService создаёт сервис проверки.
func NewVerifyService(
	repo repository.CertificateRepository,
	store ContentStore,
	anchor ledger.Anchor,
	logger *slog.Logger,
) *VerifyService {
	return &VerifyService{
		repo:   repo,
		store:  store,
		anchor: anchor,
		logger: logger.With(slog.String("component", "verify_service")),
	}
}

// VerifyByCID проверяет сертификат по CID.
//
// Side-table используется только как индекс CID → транзакция; сама
// проверка идёт против авторитетных источников: proof читается с ledger,
// payload — из content store.
func (s *VerifyService) VerifyByCID(ctx context.Context, cid string) (*model.VerificationResult, error) {
	rec, err := s.repo.GetByCID(ctx, cid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			verificationsTotal.WithLabelValues("cid", "not_found").Inc()
			return &model.VerificationResult{Status: model.VerifyNotFound, CID: cid}, nil
		}
		return nil, err
	}
	if rec.TransactionID == nil || *rec.TransactionID == "" {
		// Запись есть, но анкеровка не завершилась — proof на ledger нет
		verificationsTotal.WithLabelValues("cid", "not_found").Inc()
		return &model.VerificationResult{Status: model.VerifyNotFound, CID: cid}, nil
	}

	anchored, err := s.anchor.ProofByTransaction(ctx, *rec.TransactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrProofNotFound) {
			verificationsTotal.WithLabelValues("cid", "not_found").Inc()
			return &model.VerificationResult{Status: model.VerifyNotFound, CID: cid}, nil
		}
		return nil, err
	}

	result, err := s.compare(ctx, cid, *rec.TransactionID, anchored)
	if err != nil {
		return nil, err
	}
	verificationsTotal.WithLabelValues("cid", resultLabel(result.Status)).Inc()
	return result, nil
}

// VerifyByTransaction проверяет сертификат по ссылке на транзакцию:
// CID заранее знать не нужно, он берётся из закреплённого proof.
func (s *VerifyService) VerifyByTransaction(ctx context.Context, txRef string) (*model.VerificationResult, error) {
	anchored, err := s.anchor.ProofByTransaction(ctx, txRef)
	if err != nil {
		if errors.Is(err, ledger.ErrProofNotFound) {
			verificationsTotal.WithLabelValues("tx", "not_found").Inc()
			return &model.VerificationResult{Status: model.VerifyNotFound, TransactionID: txRef}, nil
		}
		return nil, err
	}

	result, err := s.compare(ctx, anchored.CID, txRef, anchored)
	if err != nil {
		return nil, err
	}
	verificationsTotal.WithLabelValues("tx", resultLabel(result.Status)).Inc()
	return result, nil
}

// VerifyCertificateFields — тонкая обёртка над VerifyHash для случая,
// когда проверяющий держит plaintext-содержимое (например, выпустивший
// перепроверяет собственную отправку), а не только CID.
func (s *VerifyService) VerifyCertificateFields(content model.CertificateContent, expectedHash string) bool {
	ok := hashing.VerifyHash(content, expectedHash)
	if ok {
		verificationsTotal.WithLabelValues("fields", "match").Inc()
	} else {
		verificationsTotal.WithLabelValues("fields", "mismatch").Inc()
	}
	return ok
}

// compare сверяет закреплённый proof с содержимым content store.
//
// Три независимых сравнения:
//  1. cidHash из proof против пересчитанного HashBytes(cid) — связывает
//     proof с конкретным CID (для NFT сравнивается усечённый префикс);
//  2. digest, встроенный в payload, против пересчитанного HashContent —
//     обнаруживает подмену содержимого payload;
//  3. recipientHash/courseHash из полного proof против хэшей,
//     пересчитанных из payload — отсекает самосогласованный payload
//     чужого выпуска, отданный store под тем же маршрутом.
func (s *VerifyService) compare(ctx context.Context, cid, txRef string, anchored *ledger.AnchoredProof) (*model.VerificationResult, error) {
	computedCIDHash := hashing.HashString(cid)

	result := &model.VerificationResult{
		CID:           cid,
		TransactionID: txRef,
		ComputedHash:  computedCIDHash,
		Proof:         anchored.Proof,
	}

	if !anchored.Matches(computedCIDHash) {
		result.Status = model.VerifyMismatch
		return result, nil
	}

	payload, err := s.store.Fetch(ctx, cid)
	if err != nil {
		if errors.Is(err, ipfs.ErrNotFound) {
			// Proof есть, payload из store исчез
			result.Status = model.VerifyNotFound
			return result, nil
		}
		return nil, err
	}

	content, embeddedDigest, err := hashing.DecodePayload(payload)
	if err != nil {
		// Payload не разбирается — это подмена содержимого, не сбой
		result.Status = model.VerifyMismatch
		return result, nil
	}
	if !hashing.VerifyHash(content, embeddedDigest) {
		result.Status = model.VerifyMismatch
		return result, nil
	}

	// Store не доверенный: встроенный digest согласован с payload у
	// ЛЮБОГО корректно собранного документа, в том числе чужого.
	// Полный proof привязывает payload к получателю и курсу.
	if anchored.Proof != nil {
		if anchored.Proof.CertificateID != content.CertificateID ||
			anchored.Proof.RecipientHash != hashing.HashString(content.RecipientEmail) ||
			anchored.Proof.CourseHash != hashing.HashString(content.CourseName) {
			result.Status = model.VerifyMismatch
			return result, nil
		}
	}

	result.Status = model.VerifyMatch
	return result, nil
}

// resultLabel приводит статус результата к метке метрики.
func resultLabel(status string) string {
	switch status {
	case model.VerifyMatch:
		return "match"
	case model.VerifyMismatch:
		return "mismatch"
	default:
		return "not_found"
	}
}
