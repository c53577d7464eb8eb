// Пакет repository — слой доступа к данным PostgreSQL для Anchor Module.
// Таблица certificate_registry — side-table (кэш последнего известного
// состояния), источники истины — content store и ledger.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrAlreadyExists — сертификат с таким id уже зарегистрирован.
	ErrAlreadyExists = errors.New("сертификат уже существует")
	// ErrStatusConflict — guarded-обновление не прошло: статус записи
	// не соответствует ожидаемому (конкурентное изменение).
	ErrStatusConflict = errors.New("конфликт статуса записи")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
