// nft.go — token-mint стратегия анкеровки: минтится одна единица
// non-fungible коллекции, proof встраивается в метаданные токена.
//
// Ledger ограничивает размер метаданных (~100 байт), поэтому в токен
// попадает детерминированно усечённый поднабор proof: фиксированный
// порядок полей и фиксированные длины усечения, чтобы проверка могла
// восстановить, что именно было встроено.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bigkaa/certanchor/internal/domain/model"
)

// Параметры детерминированного усечения метаданных.
const (
	// MetadataByteLimit — потолок размера метаданных токена
	MetadataByteLimit = 100
	// metadataHashLen — длина префикса cidHash в метаданных (hex-символы)
	metadataHashLen = 32
	// metadataOrgLen — максимальная длина организации в метаданных
	metadataOrgLen = 20
)

// nftMetadata — усечённый proof в метаданных токена.
// Порядок полей фиксирован wire-форматом: cid, hash, org.
type nftMetadata struct {
	CID  string `json:"cid"`
	Hash string `json:"hash"`
	Org  string `json:"org,omitempty"`
}

// BuildNFTMetadata строит усечённые метаданные токена из proof.
// Усечение детерминировано: hash — первые 32 hex-символа cidHash,
// org — первые 20 символов организации.
// Возвращает ErrRejected, если сериализация превышает MetadataByteLimit:
// молчаливое дополнительное усечение недопустимо.
func BuildNFTMetadata(proof model.Proof, org string) ([]byte, error) {
	hash := proof.CIDHash
	if len(hash) > metadataHashLen {
		hash = hash[:metadataHashLen]
	}
	if len(org) > metadataOrgLen {
		org = org[:metadataOrgLen]
	}

	meta := nftMetadata{CID: proof.IPFSCid, Hash: hash, Org: org}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("сериализация метаданных токена: %w", err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	if len(data) > MetadataByteLimit {
		return nil, fmt.Errorf("%w: метаданные токена %d байт превышают лимит %d",
			ErrRejected, len(data), MetadataByteLimit)
	}
	return data, nil
}

// NFTAnchor — token-mint стратегия.
type NFTAnchor struct {
	rest    *restClient
	tokenID string
	// issuerOrg — организация для поля org метаданных
	issuerOrg string
	logger    *slog.Logger
}

// NewNFTAnchor создаёт token-mint стратегию.
// tokenID — идентификатор существующей коллекции (обязателен для Anchor;
// пустое значение допустимо только до явного Bootstrap).
func NewNFTAnchor(
	relayURL string,
	mirrorURL string,
	caCertPath string,
	timeout time.Duration,
	operatorID string,
	operatorKey string,
	tokenID string,
	issuerOrg string,
	logger *slog.Logger,
) (*NFTAnchor, error) {
	rest, err := newRESTClient(relayURL, mirrorURL, caCertPath, timeout, operatorID, operatorKey, logger)
	if err != nil {
		return nil, err
	}
	return &NFTAnchor{
		rest:      rest,
		tokenID:   tokenID,
		issuerOrg: issuerOrg,
		logger:    logger.With(slog.String("component", "nft_anchor")),
	}, nil
}

// mintResponse — ответ relay на минт токена.
type mintResponse struct {
	TransactionID string `json:"transactionId"`
	TokenID       string `json:"tokenId"`
	SerialNumber  int64  `json:"serialNumber"`
}

// Anchor минтит одну единицу коллекции с усечёнными метаданными proof.
// POST {relay}/api/v1/tokens/{tokenID}/mint.
func (a *NFTAnchor) Anchor(ctx context.Context, proof model.Proof) (*model.AnchorReceipt, error) {
	start := time.Now()

	meta, err := BuildNFTMetadata(proof, a.issuerOrg)
	if err != nil {
		anchorSubmitsTotal.WithLabelValues("nft", "rejected").Inc()
		return nil, err
	}

	var resp mintResponse
	path := fmt.Sprintf("/api/v1/tokens/%s/mint", a.tokenID)
	payload := map[string]string{"metadata": base64.StdEncoding.EncodeToString(meta)}

	if err := a.rest.postRelay(ctx, path, payload, &resp); err != nil {
		anchorSubmitsTotal.WithLabelValues("nft", "error").Inc()
		return nil, err
	}

	anchorSubmitsTotal.WithLabelValues("nft", "success").Inc()
	anchorDuration.WithLabelValues("nft").Observe(time.Since(start).Seconds())

	a.logger.Info("Proof закреплён минтом токена",
		slog.String("certificate_id", proof.CertificateID),
		slog.String("transaction_id", resp.TransactionID),
		slog.Int64("serial_number", resp.SerialNumber),
	)

	return &model.AnchorReceipt{
		TransactionReference: resp.TransactionID,
		Locator: model.LedgerLocator{
			TokenID:      a.tokenID,
			SerialNumber: resp.SerialNumber,
		},
	}, nil
}

// nftInfo — информация о токене из mirror node.
type nftInfo struct {
	TokenID      string `json:"token_id"`
	SerialNumber int64  `json:"serial_number"`
	// Metadata — base64 метаданных токена
	Metadata string `json:"metadata"`
}

// nftListResponse — список NFT по транзакции из mirror node.
type nftListResponse struct {
	NFTs []nftInfo `json:"nfts"`
}

// ProofByTransaction читает усечённый proof по транзакции минта.
// GET {mirror}/api/v1/transactions/{txRef}/nfts.
func (a *NFTAnchor) ProofByTransaction(ctx context.Context, txRef string) (*AnchoredProof, error) {
	var list nftListResponse
	if err := a.rest.getMirror(ctx, "/api/v1/transactions/"+txRef+"/nfts", &list); err != nil {
		return nil, err
	}
	if len(list.NFTs) == 0 {
		return nil, fmt.Errorf("%w: транзакция %s не содержит минта", ErrProofNotFound, txRef)
	}
	return decodeNFT(list.NFTs[0], txRef)
}

// ProofByLocator читает усечённый proof по token#serial.
// GET {mirror}/api/v1/tokens/{tokenId}/nfts/{serial}.
func (a *NFTAnchor) ProofByLocator(ctx context.Context, loc model.LedgerLocator) (*AnchoredProof, error) {
	path := "/api/v1/tokens/" + loc.TokenID + "/nfts/" + strconv.FormatInt(loc.SerialNumber, 10)
	var info nftInfo
	if err := a.rest.getMirror(ctx, path, &info); err != nil {
		return nil, err
	}
	return decodeNFT(info, "")
}

// decodeNFT разбирает метаданные токена в AnchoredProof.
func decodeNFT(info nftInfo, txRef string) (*AnchoredProof, error) {
	raw, err := base64.StdEncoding.DecodeString(info.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 метаданных: %v", ErrProofNotFound, err)
	}

	var meta nftMetadata
	if err := json.Unmarshal(raw, &meta); err != nil || meta.CID == "" {
		return nil, fmt.Errorf("%w: метаданные токена не содержат proof", ErrProofNotFound)
	}

	return &AnchoredProof{
		CID:           meta.CID,
		CIDHashPrefix: meta.Hash,
		Org:           meta.Org,
		Truncated:     true,
		TransactionID: txRef,
		Locator: model.LedgerLocator{
			TokenID:      info.TokenID,
			SerialNumber: info.SerialNumber,
		},
	}, nil
}

// tokenCreateResponse — ответ relay на создание коллекции.
type tokenCreateResponse struct {
	TokenID string `json:"tokenId"`
}

// Bootstrap создаёт новую non-fungible коллекцию и возвращает её id.
// Вызывающий ОБЯЗАН сохранить идентификатор в конфигурации.
func (a *NFTAnchor) Bootstrap(ctx context.Context) (string, error) {
	var resp tokenCreateResponse
	payload := map[string]string{
		"name":   "Certificate Proofs",
		"symbol": "CERT",
	}

	if err := a.rest.postRelay(ctx, "/api/v1/tokens", payload, &resp); err != nil {
		return "", err
	}
	if resp.TokenID == "" {
		return "", fmt.Errorf("%w: пустой tokenId в ответе relay", ErrRejected)
	}

	a.tokenID = resp.TokenID
	a.logger.Warn("Создана новая коллекция — сохраните идентификатор в конфигурации (CA_LEDGER_TOKEN_ID)",
		slog.String("token_id", resp.TokenID),
	)
	return resp.TokenID, nil
}
