package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/certanchor/internal/domain/model"
	"github.com/bigkaa/certanchor/internal/domain/status"
)

// certColumns — список столбцов таблицы certificate_registry для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const certColumns = `certificate_id, certificate_hash, ipfs_cid, transaction_id,
	nft_token_id, ledger_locator, recipient_name, recipient_email,
	issuer_name, issuer_org, course_name, completion_date,
	status, anchor_attempted_at, issued_at, expires_at, created_at, updated_at`

// ListParams — параметры выборки сертификатов.
// Все поля-фильтры — указатели, nil = фильтр не применяется.
type ListParams struct {
	// Status — фильтр по статусу жизненного цикла
	Status *string
	// RecipientEmail — фильтр по email получателя (нормализованный, exact match)
	RecipientEmail *string
	// CourseName — фильтр по названию курса (partial match)
	CourseName *string
	// IssuedAfter — сертификаты, выпущенные после указанной даты
	IssuedAfter *time.Time
	// IssuedBefore — сертификаты, выпущенные до указанной даты
	IssuedBefore *time.Time
	// SortBy — поле сортировки: created_at, issued_at, course_name
	SortBy string
	// SortOrder — направление: asc, desc
	SortOrder string
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// CertificateRepository — интерфейс доступа к certificate_registry.
type CertificateRepository interface {
	// Create регистрирует новую запись в статусе pending.
	// Дубликат certificate_id → ErrAlreadyExists.
	Create(ctx context.Context, rec *model.CertificateRecord) error
	// GetByID возвращает запись по UUID сертификата.
	GetByID(ctx context.Context, certificateID string) (*model.CertificateRecord, error)
	// GetByCID возвращает запись по CID закреплённого payload.
	GetByCID(ctx context.Context, cid string) (*model.CertificateRecord, error)
	// GetByTransaction возвращает запись по ссылке на транзакцию ledger.
	GetByTransaction(ctx context.Context, txRef string) (*model.CertificateRecord, error)
	// List выполняет выборку записей по фильтрам.
	// Возвращает: список, общее количество, ошибка.
	List(ctx context.Context, params ListParams) ([]*model.CertificateRecord, int, error)
	// UpdateStatus выполняет guarded-переход статуса: запись обновляется
	// только если текущий статус равен from. Несовпадение → ErrStatusConflict.
	UpdateStatus(ctx context.Context, certificateID string, from, to status.Status) error
	// SetUploaded фиксирует CID после успешной загрузки payload.
	SetUploaded(ctx context.Context, certificateID, cid string) error
	// MarkAnchorAttempt ставит durable-маркер «анкеровка начата».
	// Повторный вызов при уже установленном маркере → ErrStatusConflict:
	// гарантия at-most-once для submit на ledger.
	MarkAnchorAttempt(ctx context.Context, certificateID string) error
	// ClearAnchorAttempt снимает маркер (разрешение повторной анкеровки
	// оператором после диагностики).
	ClearAnchorAttempt(ctx context.Context, certificateID string) error
	// SetIssued фиксирует результат успешной анкеровки и переводит в issued.
	SetIssued(ctx context.Context, certificateID, txRef string, nftTokenID, locator *string, expiresAt *time.Time) error
	// SetFailed переводит запись в failed. CID, если он уже получен,
	// сохраняется — частичный прогресс не теряется.
	SetFailed(ctx context.Context, certificateID string) error
	// MarkExpired переводит в expired все issued-записи с истёкшим
	// expires_at. Возвращает идентификаторы обновлённых записей
	// (для инвалидации кэша).
	MarkExpired(ctx context.Context, now time.Time) ([]string, error)
	// FailStaleProcessing переводит в failed processing-записи, не
	// обновлявшиеся с момента cutoff: рестарт процесса между submit
	// и фиксацией оставляет запись в processing навсегда, без этого
	// перевода её нельзя ни повторить, ни отозвать. Возвращает
	// идентификаторы обновлённых записей.
	FailStaleProcessing(ctx context.Context, cutoff time.Time) ([]string, error)
}

// certRepo — реализация CertificateRepository через pgx.
type certRepo struct {
	db DBTX
}

// NewCertificateRepository создаёт репозиторий сертификатов.
func NewCertificateRepository(db DBTX) CertificateRepository {
	return &certRepo{db: db}
}

// Create регистрирует новую запись в статусе pending.
func (r *certRepo) Create(ctx context.Context, rec *model.CertificateRecord) error {
	query := `
		INSERT INTO certificate_registry (
			certificate_id, certificate_hash, recipient_name, recipient_email,
			issuer_name, issuer_org, course_name, completion_date,
			status, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (certificate_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		rec.CertificateID, rec.CertificateHash, rec.RecipientName, rec.RecipientEmail,
		rec.IssuerName, rec.IssuerOrg, rec.CourseName, rec.CompletionDate,
		rec.Status, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания записи сертификата: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает запись по UUID или ErrNotFound.
func (r *certRepo) GetByID(ctx context.Context, certificateID string) (*model.CertificateRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM certificate_registry WHERE certificate_id = $1`, certColumns)
	return r.getOne(ctx, query, certificateID)
}

// GetByCID возвращает запись по CID payload или ErrNotFound.
func (r *certRepo) GetByCID(ctx context.Context, cid string) (*model.CertificateRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM certificate_registry WHERE ipfs_cid = $1`, certColumns)
	return r.getOne(ctx, query, cid)
}

// GetByTransaction возвращает запись по транзакции ledger или ErrNotFound.
func (r *certRepo) GetByTransaction(ctx context.Context, txRef string) (*model.CertificateRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM certificate_registry WHERE transaction_id = $1`, certColumns)
	return r.getOne(ctx, query, txRef)
}

// getOne выполняет запрос одной записи.
func (r *certRepo) getOne(ctx context.Context, query string, arg any) (*model.CertificateRecord, error) {
	rec := &model.CertificateRecord{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&rec.CertificateID, &rec.CertificateHash, &rec.IPFSCid, &rec.TransactionID,
		&rec.NFTTokenID, &rec.LedgerLocator, &rec.RecipientName, &rec.RecipientEmail,
		&rec.IssuerName, &rec.IssuerOrg, &rec.CourseName, &rec.CompletionDate,
		&rec.Status, &rec.AnchorAttemptedAt, &rec.IssuedAt, &rec.ExpiresAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи сертификата: %w", err)
	}
	return rec, nil
}

// List выполняет выборку записей с динамическими фильтрами, сортировкой
// и пагинацией. Возвращает (результаты, общее количество, ошибка).
func (r *certRepo) List(ctx context.Context, params ListParams) ([]*model.CertificateRecord, int, error) {
	where, args := buildListWhere(params, 1)
	argNum := len(args) + 1

	// Сортировка (безопасный whitelist)
	orderBy := buildOrderBy(params.SortBy, params.SortOrder)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM certificate_registry %s %s LIMIT $%d OFFSET $%d`,
		certColumns, where, orderBy, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки сертификатов: %w", err)
	}
	defer rows.Close()

	var result []*model.CertificateRecord
	for rows.Next() {
		rec := &model.CertificateRecord{}
		if err := rows.Scan(
			&rec.CertificateID, &rec.CertificateHash, &rec.IPFSCid, &rec.TransactionID,
			&rec.NFTTokenID, &rec.LedgerLocator, &rec.RecipientName, &rec.RecipientEmail,
			&rec.IssuerName, &rec.IssuerOrg, &rec.CourseName, &rec.CompletionDate,
			&rec.Status, &rec.AnchorAttemptedAt, &rec.IssuedAt, &rec.ExpiresAt,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Запрос общего количества (с теми же фильтрами, без LIMIT/OFFSET)
	countWhere, countArgs := buildListWhere(params, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM certificate_registry %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта сертификатов: %w", err)
	}

	return result, total, nil
}

// UpdateStatus выполняет guarded-переход статуса from → to.
func (r *certRepo) UpdateStatus(ctx context.Context, certificateID string, from, to status.Status) error {
	query := `
		UPDATE certificate_registry
		SET status = $1, updated_at = NOW()
		WHERE certificate_id = $2 AND status = $3`

	tag, err := r.db.Exec(ctx, query, string(to), certificateID, string(from))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо записи нет, либо статус уже не from
		if _, err := r.GetByID(ctx, certificateID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// SetUploaded фиксирует CID после успешной загрузки payload.
func (r *certRepo) SetUploaded(ctx context.Context, certificateID, cid string) error {
	query := `
		UPDATE certificate_registry
		SET ipfs_cid = $1, updated_at = NOW()
		WHERE certificate_id = $2`

	tag, err := r.db.Exec(ctx, query, cid, certificateID)
	if err != nil {
		return fmt.Errorf("ошибка фиксации CID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAnchorAttempt ставит durable-маркер «анкеровка начата».
// Маркер пишется ДО submit на ledger: ledger не дедуплицирует записи,
// и повторная попытка без маркера означала бы double-spend.
func (r *certRepo) MarkAnchorAttempt(ctx context.Context, certificateID string) error {
	query := `
		UPDATE certificate_registry
		SET anchor_attempted_at = NOW(), updated_at = NOW()
		WHERE certificate_id = $1 AND anchor_attempted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, certificateID)
	if err != nil {
		return fmt.Errorf("ошибка установки маркера анкеровки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, certificateID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// ClearAnchorAttempt снимает маркер анкеровки.
func (r *certRepo) ClearAnchorAttempt(ctx context.Context, certificateID string) error {
	query := `
		UPDATE certificate_registry
		SET anchor_attempted_at = NULL, updated_at = NOW()
		WHERE certificate_id = $1`

	tag, err := r.db.Exec(ctx, query, certificateID)
	if err != nil {
		return fmt.Errorf("ошибка снятия маркера анкеровки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIssued фиксирует результат анкеровки и переводит processing → issued.
func (r *certRepo) SetIssued(ctx context.Context, certificateID, txRef string, nftTokenID, locator *string, expiresAt *time.Time) error {
	query := `
		UPDATE certificate_registry
		SET transaction_id = $1, nft_token_id = $2, ledger_locator = $3,
			status = $4, issued_at = NOW(), expires_at = COALESCE($5, expires_at),
			updated_at = NOW()
		WHERE certificate_id = $6 AND status = $7`

	tag, err := r.db.Exec(ctx, query,
		txRef, nftTokenID, locator,
		string(status.StatusIssued), expiresAt,
		certificateID, string(status.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("ошибка фиксации выпуска: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, certificateID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// SetFailed переводит запись в failed. Уже полученный CID сохраняется.
func (r *certRepo) SetFailed(ctx context.Context, certificateID string) error {
	query := `
		UPDATE certificate_registry
		SET status = $1, updated_at = NOW()
		WHERE certificate_id = $2 AND status = $3`

	tag, err := r.db.Exec(ctx, query,
		string(status.StatusFailed), certificateID, string(status.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("ошибка перевода в failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, certificateID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// MarkExpired переводит в expired все issued-записи с истёкшим expires_at.
func (r *certRepo) MarkExpired(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE certificate_registry
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= $3
		RETURNING certificate_id`

	rows, err := r.db.Query(ctx, query,
		string(status.StatusExpired), string(status.StatusIssued), now,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка пометки истёкших сертификатов: %w", err)
	}
	return collectIDs(rows)
}

// FailStaleProcessing переводит зависшие processing-записи в failed.
func (r *certRepo) FailStaleProcessing(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		UPDATE certificate_registry
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at <= $3
		RETURNING certificate_id`

	rows, err := r.db.Query(ctx, query,
		string(status.StatusFailed), string(status.StatusProcessing), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка перевода зависших записей в failed: %w", err)
	}
	return collectIDs(rows)
}

// collectIDs собирает certificate_id из результата UPDATE ... RETURNING.
func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования certificate_id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return ids, nil
}

// buildListWhere строит WHERE-условие и аргументы для выборки сертификатов.
// startArg — номер первого $-параметра (для корректной нумерации).
func buildListWhere(params ListParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	// Фильтр по статусу
	if params.Status != nil && *params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *params.Status)
		argNum++
	}

	// Фильтр по email получателя (exact match, email хранится нормализованным)
	if params.RecipientEmail != nil && *params.RecipientEmail != "" {
		conditions = append(conditions, fmt.Sprintf("recipient_email = $%d", argNum))
		args = append(args, strings.ToLower(strings.TrimSpace(*params.RecipientEmail)))
		argNum++
	}

	// Фильтр по названию курса (partial match — ILIKE)
	if params.CourseName != nil && *params.CourseName != "" {
		conditions = append(conditions, fmt.Sprintf("course_name ILIKE $%d", argNum))
		args = append(args, "%"+*params.CourseName+"%")
		argNum++
	}

	// Фильтр по дате выпуска (после)
	if params.IssuedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("issued_at >= $%d", argNum))
		args = append(args, *params.IssuedAfter)
		argNum++
	}

	// Фильтр по дате выпуска (до)
	if params.IssuedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("issued_at <= $%d", argNum))
		args = append(args, *params.IssuedBefore)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// Допустимые поля сортировки (whitelist для предотвращения SQL-инъекций).
const defaultSortColumn = "created_at"

// buildOrderBy строит ORDER BY с безопасным whitelist полей.
// Предотвращает SQL-инъекции — только разрешённые значения.
func buildOrderBy(sortBy, sortOrder string) string {
	// Whitelist допустимых полей сортировки
	column := defaultSortColumn
	switch sortBy {
	case "issued_at":
		column = "issued_at"
	case "course_name":
		column = "course_name"
	case defaultSortColumn:
		column = defaultSortColumn
	}

	// Whitelist направлений сортировки
	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s", column, direction)
}
