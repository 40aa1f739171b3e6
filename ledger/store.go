/*
store.go - Persistence interface for balances, expenses and settlements

PURPOSE:
  Defines the boundary between ledger logic and the database. Different
  implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   reads and writes for one group's ledger rows
  TxStore: Store plus WithTx, the unit of work

UNIT OF WORK:
  Every mutation (expense split, settlement) runs inside WithTx. The
  function receives a Store bound to the transaction; returning an error
  rolls back every write made through it, returning nil commits them all.
  The first call inside a mutating unit of work is LockGroup, which makes
  writers to the same group run one at a time.

APPEND-ONLY RECORDS:
  Expenses, splits and settlements are insert-only. Balances are the only
  rows that change, and only through SaveBalances inside a unit of work.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and the "memory" backend
  - store/sqlite: SQLite via mattn/go-sqlite3
  - store/postgres: PostgreSQL via pgx with advisory + row locks

SEE ALSO:
  - ledger.go: Ledger and ApplyDeltas built on Store
*/
package ledger

import "context"

// Store handles persistence of ledger rows.
type Store interface {
	// LockGroup serializes writers to one group for the rest of the
	// unit of work. Outside WithTx it may be a no-op.
	LockGroup(ctx context.Context, groupID GroupID) error

	// LoadBalances returns every balance row of a group ordered by user ID.
	LoadBalances(ctx context.Context, groupID GroupID) ([]GroupBalance, error)

	// EnsureBalances inserts a zero balance for each user that has no row.
	// Existing rows are left untouched.
	EnsureBalances(ctx context.Context, groupID GroupID, userIDs []UserID) error

	// SaveBalances overwrites the given balance rows.
	SaveBalances(ctx context.Context, balances []GroupBalance) error

	// InsertExpense persists an expense together with its splits.
	InsertExpense(ctx context.Context, expense SharedExpense) error

	// LoadExpense returns one expense with its splits, or ErrExpenseNotFound.
	LoadExpense(ctx context.Context, id ExpenseID) (SharedExpense, error)

	// ListExpenses returns a group's expenses, newest expense date first.
	ListExpenses(ctx context.Context, groupID GroupID) ([]SharedExpense, error)

	// InsertSettlements appends settlement records.
	InsertSettlements(ctx context.Context, settlements []Settlement) error

	// ListSettlements returns a group's settlements, newest first.
	ListSettlements(ctx context.Context, groupID GroupID) ([]Settlement, error)

	// ListGroupIDs returns every group that has at least one balance row.
	ListGroupIDs(ctx context.Context) ([]GroupID, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
