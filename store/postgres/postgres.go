/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces, for deployments that run several server processes against one
database.

PURPOSE:
  Implements ledger.TxStore and membership.Store on a pgx connection pool.

CONCURRENCY:
  LockGroup takes pg_advisory_xact_lock(hashtext(group_id)); writers to the
  same group queue on it until their transaction ends, writers to different
  groups do not contend. Inside a transaction, balance reads also take row
  locks (SELECT ... FOR UPDATE).

MONEY:
  Columns are NUMERIC(14,2). Values cross the wire as text ($n::numeric on
  the way in, column::text on the way out) and are parsed with
  shopspring/decimal.

MIGRATION:
  Embedded migrations/*.sql are applied by golang-migrate (pgx/v5 driver)
  when New is called.

SEE ALSO:
  - store/sqlite: single-file implementation
  - ledger/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/group-ledger/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements ledger.TxStore and membership.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// RunMigrations applies the embedded migrations to databaseURL.
func RunMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres:// URL to the scheme the pgx/v5 migrate
// driver registers.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx executes fn within a transaction.
// If fn returns error, transaction is rolled back.
// If fn returns nil, transaction is committed.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) LockGroup(ctx context.Context, groupID ledger.GroupID) error {
	if _, err := ts.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(groupID)); err != nil {
		return fmt.Errorf("lock group %s: %w", groupID, err)
	}
	return nil
}

func (ts *txStore) LoadBalances(ctx context.Context, groupID ledger.GroupID) ([]ledger.GroupBalance, error) {
	return loadBalances(ctx, ts.tx, groupID, true)
}

func (ts *txStore) EnsureBalances(ctx context.Context, groupID ledger.GroupID, userIDs []ledger.UserID) error {
	return ensureBalances(ctx, ts.tx, groupID, userIDs)
}

func (ts *txStore) SaveBalances(ctx context.Context, balances []ledger.GroupBalance) error {
	return saveBalances(ctx, ts.tx, balances)
}

func (ts *txStore) InsertExpense(ctx context.Context, expense ledger.SharedExpense) error {
	return insertExpense(ctx, ts.tx, expense)
}

func (ts *txStore) LoadExpense(ctx context.Context, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	return loadExpense(ctx, ts.tx, id)
}

func (ts *txStore) ListExpenses(ctx context.Context, groupID ledger.GroupID) ([]ledger.SharedExpense, error) {
	return listExpenses(ctx, ts.tx, groupID)
}

func (ts *txStore) InsertSettlements(ctx context.Context, settlements []ledger.Settlement) error {
	return insertSettlements(ctx, ts.tx, settlements)
}

func (ts *txStore) ListSettlements(ctx context.Context, groupID ledger.GroupID) ([]ledger.Settlement, error) {
	return listSettlements(ctx, ts.tx, groupID)
}

func (ts *txStore) ListGroupIDs(ctx context.Context) ([]ledger.GroupID, error) {
	return listGroupIDs(ctx, ts.tx)
}

// =============================================================================
// HELPERS
// =============================================================================

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool     { return pgErrorCode(err) == "23505" }
func isForeignKeyViolation(err error) bool { return pgErrorCode(err) == "23503" }
