package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// LEDGER STORE - Non-transactional access
// =============================================================================

// LockGroup is a no-op outside WithTx.
func (s *Store) LockGroup(context.Context, ledger.GroupID) error { return nil }

func (s *Store) LoadBalances(ctx context.Context, groupID ledger.GroupID) ([]ledger.GroupBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadBalances(ctx, s.db, groupID)
}

func (s *Store) EnsureBalances(ctx context.Context, groupID ledger.GroupID, userIDs []ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensureBalances(ctx, s.db, groupID, userIDs)
}

func (s *Store) SaveBalances(ctx context.Context, balances []ledger.GroupBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBalances(ctx, s.db, balances)
}

func (s *Store) InsertExpense(ctx context.Context, expense ledger.SharedExpense) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertExpense(ctx, expense)
	})
}

func (s *Store) LoadExpense(ctx context.Context, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadExpense(ctx, s.db, id)
}

func (s *Store) ListExpenses(ctx context.Context, groupID ledger.GroupID) ([]ledger.SharedExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExpenses(ctx, s.db, groupID)
}

func (s *Store) InsertSettlements(ctx context.Context, settlements []ledger.Settlement) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertSettlements(ctx, settlements)
	})
}

func (s *Store) ListSettlements(ctx context.Context, groupID ledger.GroupID) ([]ledger.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSettlements(ctx, s.db, groupID)
}

func (s *Store) ListGroupIDs(ctx context.Context) ([]ledger.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroupIDs(ctx, s.db)
}

// =============================================================================
// BALANCES
// =============================================================================

func loadBalances(ctx context.Context, db querier, groupID ledger.GroupID) ([]ledger.GroupBalance, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, balance, updated_at
		FROM group_balances
		WHERE group_id = ?
		ORDER BY user_id
	`, string(groupID))
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var balances []ledger.GroupBalance
	for rows.Next() {
		var (
			userID    string
			amount    decimal.Decimal
			updatedAt string
		)
		if err := rows.Scan(&userID, &amount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		at, err := parseTime(updatedAt)
		if err != nil {
			return nil, err
		}
		balances = append(balances, ledger.GroupBalance{
			GroupID:   groupID,
			UserID:    ledger.UserID(userID),
			Balance:   amount,
			UpdatedAt: at,
		})
	}
	return balances, rows.Err()
}

func ensureBalances(ctx context.Context, db querier, groupID ledger.GroupID, userIDs []ledger.UserID) error {
	now := formatTime(time.Now())
	for _, userID := range userIDs {
		_, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_balances (group_id, user_id, balance, updated_at)
			VALUES (?, ?, '0.00', ?)
		`, string(groupID), string(userID), now)
		if err != nil {
			return fmt.Errorf("ensure balance for %s: %w", userID, err)
		}
	}
	return nil
}

func saveBalances(ctx context.Context, db querier, balances []ledger.GroupBalance) error {
	for _, b := range balances {
		_, err := db.ExecContext(ctx, `
			INSERT INTO group_balances (group_id, user_id, balance, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (group_id, user_id) DO UPDATE SET
				balance = excluded.balance,
				updated_at = excluded.updated_at
		`, string(b.GroupID), string(b.UserID), b.Balance.StringFixed(ledger.MoneyScale), formatTime(b.UpdatedAt))
		if err != nil {
			return fmt.Errorf("save balance for %s: %w", b.UserID, err)
		}
	}
	return nil
}

// =============================================================================
// SHARED EXPENSES
// =============================================================================

func insertExpense(ctx context.Context, db querier, e ledger.SharedExpense) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO shared_expenses (id, group_id, payer_id, amount, description, date, split_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.ID), string(e.GroupID), string(e.PayerID), e.Amount.StringFixed(ledger.MoneyScale),
		e.Description, formatTime(e.Date), string(e.SplitType), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	for _, sp := range e.Splits {
		_, err := db.ExecContext(ctx, `
			INSERT INTO expense_splits (expense_id, user_id, amount)
			VALUES (?, ?, ?)
		`, string(e.ID), string(sp.UserID), sp.Amount.StringFixed(ledger.MoneyScale))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s", ledger.ErrDuplicateParticipant, sp.UserID)
			}
			return fmt.Errorf("insert split: %w", err)
		}
	}
	return nil
}

const expenseColumns = `id, group_id, payer_id, amount, description, date, split_type, created_at`

func scanExpense(row interface{ Scan(...any) error }) (ledger.SharedExpense, error) {
	var (
		e                    ledger.SharedExpense
		id, groupID, payerID string
		splitType            string
		date, createdAt      string
	)
	if err := row.Scan(&id, &groupID, &payerID, &e.Amount, &e.Description, &date, &splitType, &createdAt); err != nil {
		return ledger.SharedExpense{}, err
	}
	e.ID = ledger.ExpenseID(id)
	e.GroupID = ledger.GroupID(groupID)
	e.PayerID = ledger.UserID(payerID)
	e.SplitType = ledger.SplitType(splitType)

	var err error
	if e.Date, err = parseTime(date); err != nil {
		return ledger.SharedExpense{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.SharedExpense{}, err
	}
	return e, nil
}

func loadExpense(ctx context.Context, db querier, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	row := db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM shared_expenses WHERE id = ?`, string(id))
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.SharedExpense{}, ledger.ErrExpenseNotFound
	}
	if err != nil {
		return ledger.SharedExpense{}, fmt.Errorf("load expense: %w", err)
	}

	if e.Splits, err = loadSplits(ctx, db, e.ID); err != nil {
		return ledger.SharedExpense{}, err
	}
	return e, nil
}

func listExpenses(ctx context.Context, db querier, groupID ledger.GroupID) ([]ledger.SharedExpense, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+expenseColumns+`
		FROM shared_expenses
		WHERE group_id = ?
		ORDER BY date DESC, created_at DESC, rowid DESC
	`, string(groupID))
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}

	var expenses []ledger.SharedExpense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Splits are loaded after the cursor closes; a *sql.Tx cannot run a
	// second query while one is open.
	for i := range expenses {
		if expenses[i].Splits, err = loadSplits(ctx, db, expenses[i].ID); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

func loadSplits(ctx context.Context, db querier, expenseID ledger.ExpenseID) ([]ledger.ExpenseSplit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, amount
		FROM expense_splits
		WHERE expense_id = ?
		ORDER BY rowid
	`, string(expenseID))
	if err != nil {
		return nil, fmt.Errorf("query splits: %w", err)
	}
	defer rows.Close()

	var splits []ledger.ExpenseSplit
	for rows.Next() {
		var (
			userID string
			amount decimal.Decimal
		)
		if err := rows.Scan(&userID, &amount); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		splits = append(splits, ledger.ExpenseSplit{
			ExpenseID: expenseID,
			UserID:    ledger.UserID(userID),
			Amount:    amount,
		})
	}
	return splits, rows.Err()
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func insertSettlements(ctx context.Context, db querier, settlements []ledger.Settlement) error {
	for _, st := range settlements {
		_, err := db.ExecContext(ctx, `
			INSERT INTO settlements (id, group_id, from_id, to_id, amount, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(st.ID), string(st.GroupID), string(st.FromID), string(st.ToID),
			st.Amount.StringFixed(ledger.MoneyScale), string(st.CreatedBy), formatTime(st.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
	}
	return nil
}

func listSettlements(ctx context.Context, db querier, groupID ledger.GroupID) ([]ledger.Settlement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, from_id, to_id, amount, created_by, created_at
		FROM settlements
		WHERE group_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, string(groupID))
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []ledger.Settlement
	for rows.Next() {
		var (
			st                          ledger.Settlement
			id, fromID, toID, createdBy string
			createdAt                   string
		)
		if err := rows.Scan(&id, &fromID, &toID, &st.Amount, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		at, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		st.ID = ledger.SettlementID(id)
		st.GroupID = groupID
		st.FromID = ledger.UserID(fromID)
		st.ToID = ledger.UserID(toID)
		st.CreatedBy = ledger.UserID(createdBy)
		st.CreatedAt = at
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}

func listGroupIDs(ctx context.Context, db querier) ([]ledger.GroupID, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT group_id FROM group_balances ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("query group ids: %w", err)
	}
	defer rows.Close()

	var ids []ledger.GroupID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, ledger.GroupID(id))
	}
	return ids, rows.Err()
}
