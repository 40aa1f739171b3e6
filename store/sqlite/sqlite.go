/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore (balances, expenses, settlements) and
  membership.Store (groups, members) on one SQLite database file.

INTERFACES IMPLEMENTED:
  ledger.TxStore:   balances, shared expenses, settlements, unit of work
  membership.Store: groups and members

KEY TABLES:
  group_balances:   one row per (group, user); the only mutable ledger rows
  shared_expenses:  append-only expense records
  expense_splits:   append-only, one per participant of an expense
  settlements:      append-only transfer records
  ledger_groups, group_members: membership

MONEY:
  Amounts are stored as TEXT at cent scale ("12.50") and read back with
  shopspring/decimal, so no value ever passes through a float.

CONCURRENCY:
  Connections open with _txlock=immediate: every WithTx starts with
  BEGIN IMMEDIATE and holds the database write lock from its first read, so
  two units of work never read the same balances and then both write.
  Inside one process the sync.RWMutex also serializes writers, which keeps
  them from contending on busy_timeout.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer and see the last committed state
  - Single writer at a time

MIGRATION:
  Versioned migrations are embedded (migrations/*.sql) and applied by
  golang-migrate on New(), over a separate connection. Because of that
  second connection the path must be a file; ":memory:" is rejected. Use
  ledger/store.TxMemory for an in-memory ledger.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - membership/membership.go: membership.Store
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/group-ledger/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout sorts lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore and membership.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	if dbPath == "" || strings.Contains(dbPath, ":memory:") {
		return nil, fmt.Errorf("sqlite store needs a database file, got %q", dbPath)
	}

	if err := runMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations applies the embedded migrations over its own connection;
// golang-migrate closes the database it is given.
func runMigrations(dbPath string) error {
	migrateDB, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes fn within a transaction.
// If fn returns error, transaction is rolled back.
// If fn returns nil, transaction is committed.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore routes every read and write through the open transaction.
type txStore struct {
	tx *sql.Tx
}

// LockGroup is a no-op: BEGIN IMMEDIATE already holds the write lock.
func (ts *txStore) LockGroup(context.Context, ledger.GroupID) error { return nil }

func (ts *txStore) LoadBalances(ctx context.Context, groupID ledger.GroupID) ([]ledger.GroupBalance, error) {
	return loadBalances(ctx, ts.tx, groupID)
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

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
