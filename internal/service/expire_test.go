package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/domain/status"
)

// TestExpireRunOnce: истёкшие issued-записи переводятся в expired
// и выбрасываются из кэша, остальные не трогаются.
func TestExpireRunOnce(t *testing.T) {
	repo := newFakeRepo()
	cache := NewCacheService(16, time.Minute)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	repo.records["expired-1"] = &model.CertificateRecord{
		CertificateID: "expired-1",
		Status:        string(status.StatusIssued),
		ExpiresAt:     &past,
	}
	repo.records["valid-1"] = &model.CertificateRecord{
		CertificateID: "valid-1",
		Status:        string(status.StatusIssued),
		ExpiresAt:     &future,
	}
	repo.records["no-expiry"] = &model.CertificateRecord{
		CertificateID: "no-expiry",
		Status:        string(status.StatusIssued),
	}
	// Истёкший срок, но не issued — sweep не трогает
	repo.records["failed-1"] = &model.CertificateRecord{
		CertificateID: "failed-1",
		Status:        string(status.StatusFailed),
		ExpiresAt:     &past,
	}

	// Оба сертификата в кэше: sweep обязан инвалидировать только истёкший
	cache.Set("expired-1", repo.records["expired-1"])
	cache.Set("valid-1", repo.records["valid-1"])

	svc := NewExpireService(repo, cache, time.Minute, testLogger())

	count := svc.RunOnce(context.Background())
	if count != 1 {
		t.Errorf("expired = %d, ожидался 1", count)
	}
	if repo.records["expired-1"].Status != string(status.StatusExpired) {
		t.Errorf("expired-1: Status = %s", repo.records["expired-1"].Status)
	}
	if _, ok := cache.Get("expired-1"); ok {
		t.Error("expired-1 остался в кэше: GET отдавал бы issued до истечения TTL")
	}
	if _, ok := cache.Get("valid-1"); !ok {
		t.Error("valid-1 не должен выбрасываться из кэша")
	}
	if repo.records["valid-1"].Status != string(status.StatusIssued) {
		t.Errorf("valid-1: Status = %s", repo.records["valid-1"].Status)
	}
	if repo.records["no-expiry"].Status != string(status.StatusIssued) {
		t.Errorf("no-expiry: Status = %s", repo.records["no-expiry"].Status)
	}
	if repo.records["failed-1"].Status != string(status.StatusFailed) {
		t.Errorf("failed-1: Status = %s", repo.records["failed-1"].Status)
	}

	// Повторный sweep идемпотентен
	if count := svc.RunOnce(context.Background()); count != 0 {
		t.Errorf("повторный sweep: expired = %d, ожидался 0", count)
	}
}

// TestExpireStartStop: фоновая горутина выполняет sweep сразу после
// запуска и останавливается по Stop.
func TestExpireStartStop(t *testing.T) {
	repo := newFakeRepo()
	past := time.Now().Add(-time.Hour)
	repo.records["expired-1"] = &model.CertificateRecord{
		CertificateID: "expired-1",
		Status:        string(status.StatusIssued),
		ExpiresAt:     &past,
	}

	svc := NewExpireService(repo, NewCacheService(16, time.Minute), time.Hour, testLogger())
	svc.Start(context.Background())
	defer svc.Stop()

	deadline := time.After(2 * time.Second)
	for repo.statusOf("expired-1") != string(status.StatusExpired) {
		select {
		case <-deadline:
			t.Fatal("первый sweep не выполнился после Start")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
