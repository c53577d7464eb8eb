// stubs_test.go — in-memory заглушки repository/store/anchor для тестов
// сервисного слоя. Повторяют guarded-семантику реальных реализаций
// (статусные переходы, at-most-once маркер) без PostgreSQL и сети.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/domain/status"
	"github.com/bigkaa/certanchor/internal/ipfs"
	"github.com/bigkaa/certanchor/internal/ledger"
	"github.com/bigkaa/certanchor/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepo — in-memory CertificateRepository с инъекцией ошибок.
// Мьютекс нужен тестам фоновых горутин (sweep).
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*model.CertificateRecord

	// markAnchorErr — принудительная ошибка MarkAnchorAttempt
	markAnchorErr error
}

// statusOf возвращает текущий статус записи (потокобезопасно).
func (r *fakeRepo) statusOf(certificateID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[certificateID]
	if !ok {
		return ""
	}
	return rec.Status
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*model.CertificateRecord)}
}

func (r *fakeRepo) Create(_ context.Context, rec *model.CertificateRecord) error {
	if _, ok := r.records[rec.CertificateID]; ok {
		return repository.ErrAlreadyExists
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.records[rec.CertificateID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, certificateID string) (*model.CertificateRecord, error) {
	rec, ok := r.records[certificateID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) GetByCID(_ context.Context, cid string) (*model.CertificateRecord, error) {
	for _, rec := range r.records {
		if rec.IPFSCid != nil && *rec.IPFSCid == cid {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) GetByTransaction(_ context.Context, txRef string) (*model.CertificateRecord, error) {
	for _, rec := range r.records {
		if rec.TransactionID != nil && *rec.TransactionID == txRef {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) List(_ context.Context, params repository.ListParams) ([]*model.CertificateRecord, int, error) {
	var result []*model.CertificateRecord
	for _, rec := range r.records {
		if params.Status != nil && *params.Status != "" && rec.Status != *params.Status {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	total := len(result)
	if params.Offset > 0 && params.Offset < len(result) {
		result = result[params.Offset:]
	} else if params.Offset >= len(result) {
		result = nil
	}
	if params.Limit > 0 && params.Limit < len(result) {
		result = result[:params.Limit]
	}
	return result, total, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, certificateID string, from, to status.Status) error {
	rec, ok := r.records[certificateID]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.Status != string(from) {
		return repository.ErrStatusConflict
	}
	rec.Status = string(to)
	return nil
}

func (r *fakeRepo) SetUploaded(_ context.Context, certificateID, cid string) error {
	rec, ok := r.records[certificateID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.IPFSCid = &cid
	return nil
}

func (r *fakeRepo) MarkAnchorAttempt(_ context.Context, certificateID string) error {
	if r.markAnchorErr != nil {
		return r.markAnchorErr
	}
	rec, ok := r.records[certificateID]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.AnchorAttemptedAt != nil {
		return repository.ErrStatusConflict
	}
	now := time.Now()
	rec.AnchorAttemptedAt = &now
	return nil
}

func (r *fakeRepo) ClearAnchorAttempt(_ context.Context, certificateID string) error {
	rec, ok := r.records[certificateID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.AnchorAttemptedAt = nil
	return nil
}

func (r *fakeRepo) SetIssued(_ context.Context, certificateID, txRef string, nftTokenID, locator *string, expiresAt *time.Time) error {
	rec, ok := r.records[certificateID]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.Status != string(status.StatusProcessing) {
		return repository.ErrStatusConflict
	}
	now := time.Now()
	rec.TransactionID = &txRef
	rec.NFTTokenID = nftTokenID
	rec.LedgerLocator = locator
	rec.Status = string(status.StatusIssued)
	rec.IssuedAt = &now
	if expiresAt != nil {
		rec.ExpiresAt = expiresAt
	}
	return nil
}

func (r *fakeRepo) SetFailed(_ context.Context, certificateID string) error {
	rec, ok := r.records[certificateID]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.Status != string(status.StatusProcessing) {
		return repository.ErrStatusConflict
	}
	rec.Status = string(status.StatusFailed)
	return nil
}

func (r *fakeRepo) MarkExpired(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, rec := range r.records {
		if rec.Status == string(status.StatusIssued) && rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
			rec.Status = string(status.StatusExpired)
			ids = append(ids, rec.CertificateID)
		}
	}
	return ids, nil
}

func (r *fakeRepo) FailStaleProcessing(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, rec := range r.records {
		if rec.Status == string(status.StatusProcessing) && !rec.UpdatedAt.After(cutoff) {
			rec.Status = string(status.StatusFailed)
			rec.UpdatedAt = time.Now()
			ids = append(ids, rec.CertificateID)
		}
	}
	return ids, nil
}

// fakeStore — заглушка ContentStore.
// uploadErrs расходуются по одной на попытку, nil — успех.
type fakeStore struct {
	cid         string
	uploadErrs  []error
	uploadCalls int

	fetched    map[string][]byte
	fetchErr   error
	fetchCalls int
}

func newFakeStore(cid string) *fakeStore {
	return &fakeStore{cid: cid, fetched: make(map[string][]byte)}
}

func (s *fakeStore) Upload(_ context.Context, payload []byte, _ string, _ map[string]string) (*ipfs.UploadResult, error) {
	s.uploadCalls++
	if len(s.uploadErrs) > 0 {
		err := s.uploadErrs[0]
		s.uploadErrs = s.uploadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s.fetched[s.cid] = payload
	return &ipfs.UploadResult{CID: s.cid, Size: int64(len(payload))}, nil
}

func (s *fakeStore) Fetch(_ context.Context, cid string) ([]byte, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	payload, ok := s.fetched[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ipfs.ErrNotFound, cid)
	}
	return payload, nil
}

// fakeAnchor — заглушка стратегии анкеровки.
// anchorErrs расходуются по одной на попытку, nil — успех.
type fakeAnchor struct {
	locator     model.LedgerLocator
	anchorErrs  []error
	anchorCalls int

	// proofs — закреплённые proof по транзакции
	proofs map[string]*ledger.AnchoredProof
}

func newFakeAnchor() *fakeAnchor {
	return &fakeAnchor{
		locator: model.LedgerLocator{TopicID: "0.0.4200"},
		proofs:  make(map[string]*ledger.AnchoredProof),
	}
}

func (a *fakeAnchor) Anchor(_ context.Context, proof model.Proof) (*model.AnchorReceipt, error) {
	a.anchorCalls++
	if len(a.anchorErrs) > 0 {
		err := a.anchorErrs[0]
		a.anchorErrs = a.anchorErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	loc := a.locator
	loc.SequenceNumber = int64(a.anchorCalls)
	txRef := fmt.Sprintf("tx-%d", a.anchorCalls)

	p := proof
	a.proofs[txRef] = &ledger.AnchoredProof{
		Proof:         &p,
		CID:           proof.IPFSCid,
		TransactionID: txRef,
		Locator:       loc,
	}
	return &model.AnchorReceipt{TransactionReference: txRef, Locator: loc}, nil
}

func (a *fakeAnchor) ProofByTransaction(_ context.Context, txRef string) (*ledger.AnchoredProof, error) {
	p, ok := a.proofs[txRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrProofNotFound, txRef)
	}
	return p, nil
}

func (a *fakeAnchor) ProofByLocator(_ context.Context, loc model.LedgerLocator) (*ledger.AnchoredProof, error) {
	for _, p := range a.proofs {
		if p.Locator == loc {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ledger.ErrProofNotFound, loc.String())
}

func (a *fakeAnchor) Bootstrap(context.Context) (string, error) {
	return "0.0.9900", nil
}

// fakeEvents — счётчик опубликованных доменных событий.
type fakeEvents struct {
	issued  int
	failed  int
	revoked int
}

func (e *fakeEvents) CertificateIssued(context.Context, *model.CertificateRecord)  { e.issued++ }
func (e *fakeEvents) CertificateFailed(context.Context, *model.CertificateRecord)  { e.failed++ }
func (e *fakeEvents) CertificateRevoked(context.Context, *model.CertificateRecord) { e.revoked++ }
