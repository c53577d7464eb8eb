// Пакет ledger — анкеровка proof на публичный append-only ledger.
//
// Две взаимозаменяемые стратегии с одним контрактом (выбор по конфигурации):
//   - consensus-log (topic.go): proof целиком публикуется сообщением в topic
//   - token-mint (nft.go): минтится NFT с усечёнными метаданными proof
//
// Запись идёт через ledger relay (REST, подписывает транзакции операторским
// аккаунтом), чтение — через mirror node REST. Оба сервиса — чёрные ящики.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

// Классы ошибок ledger (спецификация отказов §7).
var (
	// ErrUnavailable — сеть/нода недоступна, транзиентная, допускает retry.
	ErrUnavailable = errors.New("ledger недоступен")
	// ErrRejected — proof отклонён (например, метаданные сверх лимита), фатальная.
	ErrRejected = errors.New("ledger отклонил proof")
	// ErrInsufficientFunds — баланс операторского аккаунта исчерпан.
	// Фатальная, требует вмешательства оператора; не путать с транзиентной.
	ErrInsufficientFunds = errors.New("недостаточно средств на операторском аккаунте")
	// ErrProofNotFound — по транзакции/локатору нет закреплённого proof.
	ErrProofNotFound = errors.New("proof на ledger не найден")
)

// IsRetryable сообщает, имеет ли смысл повторять анкеровку.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// AnchoredProof — proof, прочитанный с ledger.
// Для consensus-log стратегии заполнен Proof (полный wire-формат).
// Для token-mint стратегии proof усечён: доступны только CID, префикс
// cidHash и организация — Truncated == true.
type AnchoredProof struct {
	// Proof — полный proof (nil для усечённых NFT-метаданных)
	Proof *model.Proof
	// CID — ipfsCid из закреплённой записи
	CID string
	// CIDHashPrefix — первые 32 hex-символа cidHash (только NFT)
	CIDHashPrefix string
	// Org — организация выпустившего (только NFT, ≤20 символов)
	Org string
	// Truncated — true для NFT-метаданных
	Truncated bool
	// TransactionID — транзакция, в которой найден proof
	TransactionID string
	// Locator — позиция proof на ledger
	Locator model.LedgerLocator
}

// Matches сравнивает пересчитанный cidHash с закреплённым.
// Для усечённого proof сравнивается детерминированный префикс.
func (p *AnchoredProof) Matches(computedCIDHash string) bool {
	if p.Truncated {
		if len(computedCIDHash) < len(p.CIDHashPrefix) {
			return false
		}
		return p.CIDHashPrefix != "" && computedCIDHash[:len(p.CIDHashPrefix)] == p.CIDHashPrefix
	}
	return p.Proof != nil && p.Proof.CIDHash == computedCIDHash
}

// Anchor — контракт стратегии анкеровки.
type Anchor interface {
	// Anchor фиксирует proof на ledger и возвращает квитанцию.
	// Повторная анкеровка одинакового proof создаёт НОВУЮ запись
	// (ledger не дедуплицирует) — защита от двойной отправки лежит
	// на оркестрации (durable-маркер в side-table).
	Anchor(ctx context.Context, proof model.Proof) (*model.AnchorReceipt, error)
	// ProofByTransaction читает proof по ссылке на транзакцию.
	ProofByTransaction(ctx context.Context, txRef string) (*AnchoredProof, error)
	// ProofByLocator читает proof по локатору (topic@seq или token#serial).
	ProofByLocator(ctx context.Context, loc model.LedgerLocator) (*AnchoredProof, error)
	// Bootstrap создаёт topic/collection и возвращает идентификатор.
	// Вызывается только явно оператором: автосоздание при старте —
	// известная операционная опасность (пролиферация ресурсов),
	// отсутствие идентификатора в конфигурации — фатальная ошибка.
	Bootstrap(ctx context.Context) (string, error)
}

// EncodeProof сериализует proof в wire-формат (§6): фиксированный порядок
// ключей структуры, компактный JSON без HTML-escaping.
func EncodeProof(p model.Proof) ([]byte, error) {
	p.Type = model.ProofType
	p.Version = model.ProofVersion

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("сериализация proof: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeProof разбирает wire-формат proof. Проверяет type и version.
func DecodeProof(data []byte) (*model.Proof, error) {
	var p model.Proof
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("разбор proof: %w", err)
	}
	if p.Type != model.ProofType {
		return nil, fmt.Errorf("неожиданный type %q, ожидался %q", p.Type, model.ProofType)
	}
	if p.Version != model.ProofVersion {
		return nil, fmt.Errorf("неподдерживаемая версия proof %q", p.Version)
	}
	return &p, nil
}
