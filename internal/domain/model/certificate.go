// Пакет model — доменные модели Anchor Module.
// certificate.go — содержимое сертификата, запись side-table и результат проверки.
package model

import "time"

// CertificateContent — каноническое содержимое сертификата.
// Именно эта структура (после нормализации) хэшируется и закрепляется
// в content store. Поля с omitempty — опциональные.
type CertificateContent struct {
	// CertificateID — UUID сертификата
	CertificateID string `json:"certificateId"`
	// RecipientName — имя получателя
	RecipientName string `json:"recipientName"`
	// RecipientEmail — email получателя (нормализуется в lowercase)
	RecipientEmail string `json:"recipientEmail"`
	// IssuerName — имя выпустившего
	IssuerName string `json:"issuerName"`
	// IssuerOrg — организация выпустившего (опционально)
	IssuerOrg string `json:"issuerOrg,omitempty"`
	// CourseName — название курса
	CourseName string `json:"courseName"`
	// CompletionDate — дата завершения (формат YYYY-MM-DD)
	CompletionDate string `json:"completionDate"`
	// IssuedAt — момент выпуска, unix-миллисекунды UTC
	IssuedAt int64 `json:"issuedAt"`
	// FileChecksum — SHA-256 приложенного оригинального файла (опционально)
	FileChecksum string `json:"fileChecksum,omitempty"`
}

// CertificateRecord — запись side-table (certificate_registry).
// Side-table — кэш последнего известного состояния, НЕ источник истины:
// авторитетные данные — в content store (payload) и в ledger (proof).
type CertificateRecord struct {
	// CertificateID — UUID сертификата (PK)
	CertificateID string `json:"certificateId"`
	// CertificateHash — SHA-256 канонического содержимого
	CertificateHash string `json:"certificateHash"`
	// IPFSCid — CID закреплённого payload (nil до успешной загрузки)
	IPFSCid *string `json:"ipfsCid,omitempty"`
	// TransactionID — ссылка на транзакцию ledger (nil до анкеровки)
	TransactionID *string `json:"transactionId,omitempty"`
	// NFTTokenID — token id коллекции (только для NFT-стратегии)
	NFTTokenID *string `json:"nftTokenId,omitempty"`
	// LedgerLocator — строковый локатор (topic@seq или token#serial)
	LedgerLocator *string `json:"ledgerLocator,omitempty"`
	// RecipientName — имя получателя (денормализация для lookup)
	RecipientName string `json:"recipientName"`
	// RecipientEmail — email получателя (нормализованный)
	RecipientEmail string `json:"recipientEmail"`
	// IssuerName — имя выпустившего
	IssuerName string `json:"issuerName"`
	// IssuerOrg — организация выпустившего
	IssuerOrg string `json:"issuerOrg,omitempty"`
	// CourseName — название курса
	CourseName string `json:"courseName"`
	// CompletionDate — дата завершения (YYYY-MM-DD)
	CompletionDate string `json:"completionDate"`
	// Status — статус жизненного цикла (pending/processing/issued/failed/revoked/expired)
	Status string `json:"status"`
	// AnchorAttemptedAt — durable-маркер «анкеровка начата» (at-most-once)
	AnchorAttemptedAt *time.Time `json:"anchorAttemptedAt,omitempty"`
	// IssuedAt — момент перехода в issued
	IssuedAt *time.Time `json:"issuedAt,omitempty"`
	// ExpiresAt — опциональный срок действия
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	// CreatedAt — создание записи
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt — последнее обновление записи
	UpdatedAt time.Time `json:"updatedAt"`
}

// Статусы результата проверки. Tri-state: несовпадение хэшей — это
// нормальный результат, а не ошибка (tamper detection без control-flow
// через errors).
const (
	// VerifyMatch — payload соответствует закреплённому proof
	VerifyMatch = "MATCH"
	// VerifyMismatch — payload изменён (хэш не совпадает с proof)
	VerifyMismatch = "MISMATCH"
	// VerifyNotFound — для CID/транзакции не найден закреплённый proof
	VerifyNotFound = "NOT_FOUND"
)

// VerificationResult — результат проверки сертификата.
type VerificationResult struct {
	// Status — MATCH, MISMATCH или NOT_FOUND
	Status string `json:"status"`
	// CID — проверенный CID (если известен)
	CID string `json:"cid,omitempty"`
	// TransactionID — транзакция, в которой найден proof
	TransactionID string `json:"transactionId,omitempty"`
	// ComputedHash — пересчитанный хэш payload (для диагностики MISMATCH)
	ComputedHash string `json:"computedHash,omitempty"`
	// Proof — закреплённый proof (отсутствует при NOT_FOUND)
	Proof *Proof `json:"proof,omitempty"`
}
