// proof.go — закрепляемый на ledger proof и квитанция анкеровки.
package model

import "fmt"

// Константы wire-формата proof (версия 1.0).
const (
	// ProofType — значение поля "type" в wire-формате
	ProofType = "CERTIFICATE_PROOF"
	// ProofVersion — версия схемы proof
	ProofVersion = "1.0"
)

// Proof — минимальная закрепляемая запись. Попадает в публичный
// append-only ledger, поэтому НЕ содержит сырых персональных данных —
// только хэши полей получателя и курса.
//
// Wire-формат (JSON, UTF-8, ключи в этом порядке):
//
//	{"type":"CERTIFICATE_PROOF","version":"1.0","certificateId":...,
//	 "ipfsCid":...,"cidHash":...,"recipientHash":...,"courseHash":...,
//	 "timestamp":<unix-ms>}
type Proof struct {
	Type          string `json:"type"`
	Version       string `json:"version"`
	CertificateID string `json:"certificateId"`
	IPFSCid       string `json:"ipfsCid"`
	CIDHash       string `json:"cidHash"`
	RecipientHash string `json:"recipientHash"`
	CourseHash    string `json:"courseHash"`
	// Timestamp — unix-миллисекунды UTC
	Timestamp int64 `json:"timestamp"`
}

// LedgerLocator — позиция proof на ledger.
// Для consensus-log стратегии заполнены TopicID + SequenceNumber,
// для NFT-стратегии — TokenID + SerialNumber.
type LedgerLocator struct {
	TopicID        string `json:"topicId,omitempty"`
	SequenceNumber int64  `json:"sequenceNumber,omitempty"`
	TokenID        string `json:"tokenId,omitempty"`
	SerialNumber   int64  `json:"serialNumber,omitempty"`
}

// String возвращает компактное строковое представление локатора
// (topic@seq или token#serial) для хранения в side-table.
func (l LedgerLocator) String() string {
	if l.TokenID != "" {
		return fmt.Sprintf("%s#%d", l.TokenID, l.SerialNumber)
	}
	return fmt.Sprintf("%s@%d", l.TopicID, l.SequenceNumber)
}

// AnchorReceipt — результат успешного commit proof на ledger.
// После фиксации неизменяем: владелец — ledger, side-table хранит
// только неавторитетную копию.
type AnchorReceipt struct {
	// TransactionReference — id транзакции ledger
	TransactionReference string `json:"transactionReference"`
	// Locator — позиция proof (topic/sequence или token/serial)
	Locator LedgerLocator `json:"ledgerLocator"`
}
