package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// LEDGER STORE - Non-transactional access
// =============================================================================

// LockGroup is a no-op outside WithTx; advisory locks need a transaction.
func (s *Store) LockGroup(context.Context, ledger.GroupID) error { return nil }

func (s *Store) LoadBalances(ctx context.Context, groupID ledger.GroupID) ([]ledger.GroupBalance, error) {
	return loadBalances(ctx, s.pool, groupID, false)
}

func (s *Store) EnsureBalances(ctx context.Context, groupID ledger.GroupID, userIDs []ledger.UserID) error {
	return ensureBalances(ctx, s.pool, groupID, userIDs)
}

func (s *Store) SaveBalances(ctx context.Context, balances []ledger.GroupBalance) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.SaveBalances(ctx, balances)
	})
}

func (s *Store) InsertExpense(ctx context.Context, expense ledger.SharedExpense) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertExpense(ctx, expense)
	})
}

func (s *Store) LoadExpense(ctx context.Context, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	return loadExpense(ctx, s.pool, id)
}

func (s *Store) ListExpenses(ctx context.Context, groupID ledger.GroupID) ([]ledger.SharedExpense, error) {
	return listExpenses(ctx, s.pool, groupID)
}

func (s *Store) InsertSettlements(ctx context.Context, settlements []ledger.Settlement) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertSettlements(ctx, settlements)
	})
}

func (s *Store) ListSettlements(ctx context.Context, groupID ledger.GroupID) ([]ledger.Settlement, error) {
	return listSettlements(ctx, s.pool, groupID)
}

func (s *Store) ListGroupIDs(ctx context.Context) ([]ledger.GroupID, error) {
	return listGroupIDs(ctx, s.pool)
}

// =============================================================================
// BALANCES
// =============================================================================

func loadBalances(ctx context.Context, db querier, groupID ledger.GroupID, forUpdate bool) ([]ledger.GroupBalance, error) {
	query := `
		SELECT user_id, balance::text, updated_at
		FROM group_balances
		WHERE group_id = $1
		ORDER BY user_id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := db.Query(ctx, query, string(groupID))
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var balances []ledger.GroupBalance
	for rows.Next() {
		var (
			userID, amount string
			updatedAt      time.Time
		)
		if err := rows.Scan(&userID, &amount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse balance %q: %w", amount, err)
		}
		balances = append(balances, ledger.GroupBalance{
			GroupID:   groupID,
			UserID:    ledger.UserID(userID),
			Balance:   d,
			UpdatedAt: updatedAt.UTC(),
		})
	}
	return balances, rows.Err()
}

func ensureBalances(ctx context.Context, db querier, groupID ledger.GroupID, userIDs []ledger.UserID) error {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = string(id)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO group_balances (group_id, user_id, balance, updated_at)
		SELECT $1, u, 0, now() FROM unnest($2::text[]) AS u
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, string(groupID), ids)
	if err != nil {
		return fmt.Errorf("ensure balances: %w", err)
	}
	return nil
}

func saveBalances(ctx context.Context, db querier, balances []ledger.GroupBalance) error {
	for _, b := range balances {
		_, err := db.Exec(ctx, `
			INSERT INTO group_balances (group_id, user_id, balance, updated_at)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (group_id, user_id) DO UPDATE SET
				balance = EXCLUDED.balance,
				updated_at = EXCLUDED.updated_at
		`, string(b.GroupID), string(b.UserID), b.Balance.StringFixed(ledger.MoneyScale), b.UpdatedAt)
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
	_, err := db.Exec(ctx, `
		INSERT INTO shared_expenses (id, group_id, payer_id, amount, description, date, split_type, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`, string(e.ID), string(e.GroupID), string(e.PayerID), e.Amount.StringFixed(ledger.MoneyScale),
		e.Description, e.Date, string(e.SplitType), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	for i, sp := range e.Splits {
		_, err := db.Exec(ctx, `
			INSERT INTO expense_splits (expense_id, user_id, amount, position)
			VALUES ($1, $2, $3::numeric, $4)
		`, string(e.ID), string(sp.UserID), sp.Amount.StringFixed(ledger.MoneyScale), i)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ledger.ErrDuplicateParticipant, sp.UserID)
			}
			return fmt.Errorf("insert split: %w", err)
		}
	}
	return nil
}

const expenseColumns = `id, group_id, payer_id, amount::text, description, date, split_type, created_at`

func scanExpense(row pgx.Row) (ledger.SharedExpense, error) {
	var (
		e                            ledger.SharedExpense
		id, groupID, payerID, amount string
		splitType                    string
	)
	if err := row.Scan(&id, &groupID, &payerID, &amount, &e.Description, &e.Date, &splitType, &e.CreatedAt); err != nil {
		return ledger.SharedExpense{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.SharedExpense{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	e.ID = ledger.ExpenseID(id)
	e.GroupID = ledger.GroupID(groupID)
	e.PayerID = ledger.UserID(payerID)
	e.Amount = d
	e.SplitType = ledger.SplitType(splitType)
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func loadExpense(ctx context.Context, db querier, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	row := db.QueryRow(ctx, `SELECT `+expenseColumns+` FROM shared_expenses WHERE id = $1`, string(id))
	e, err := scanExpense(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	rows, err := db.Query(ctx, `
		SELECT `+expenseColumns+`
		FROM shared_expenses
		WHERE group_id = $1
		ORDER BY date DESC, created_at DESC, seq DESC
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// One connection cannot run a second query while rows are open.
	for i := range expenses {
		if expenses[i].Splits, err = loadSplits(ctx, db, expenses[i].ID); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

func loadSplits(ctx context.Context, db querier, expenseID ledger.ExpenseID) ([]ledger.ExpenseSplit, error) {
	rows, err := db.Query(ctx, `
		SELECT user_id, amount::text
		FROM expense_splits
		WHERE expense_id = $1
		ORDER BY position
	`, string(expenseID))
	if err != nil {
		return nil, fmt.Errorf("query splits: %w", err)
	}
	defer rows.Close()

	var splits []ledger.ExpenseSplit
	for rows.Next() {
		var userID, amount string
		if err := rows.Scan(&userID, &amount); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse split amount %q: %w", amount, err)
		}
		splits = append(splits, ledger.ExpenseSplit{
			ExpenseID: expenseID,
			UserID:    ledger.UserID(userID),
			Amount:    d,
		})
	}
	return splits, rows.Err()
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func insertSettlements(ctx context.Context, db querier, settlements []ledger.Settlement) error {
	for _, st := range settlements {
		_, err := db.Exec(ctx, `
			INSERT INTO settlements (id, group_id, from_id, to_id, amount, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		`, string(st.ID), string(st.GroupID), string(st.FromID), string(st.ToID),
			st.Amount.StringFixed(ledger.MoneyScale), string(st.CreatedBy), st.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
	}
	return nil
}

func listSettlements(ctx context.Context, db querier, groupID ledger.GroupID) ([]ledger.Settlement, error) {
	rows, err := db.Query(ctx, `
		SELECT id, from_id, to_id, amount::text, created_by, created_at
		FROM settlements
		WHERE group_id = $1
		ORDER BY created_at DESC, seq DESC
	`, string(groupID))
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []ledger.Settlement
	for rows.Next() {
		var (
			id, fromID, toID, amount, createdBy string
			createdAt                           time.Time
		)
		if err := rows.Scan(&id, &fromID, &toID, &amount, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse settlement amount %q: %w", amount, err)
		}
		settlements = append(settlements, ledger.Settlement{
			ID:        ledger.SettlementID(id),
			GroupID:   groupID,
			FromID:    ledger.UserID(fromID),
			ToID:      ledger.UserID(toID),
			Amount:    d,
			CreatedBy: ledger.UserID(createdBy),
			CreatedAt: createdAt.UTC(),
		})
	}
	return settlements, rows.Err()
}

func listGroupIDs(ctx context.Context, db querier) ([]ledger.GroupID, error) {
	rows, err := db.Query(ctx, `SELECT DISTINCT group_id FROM group_balances ORDER BY group_id`)
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
