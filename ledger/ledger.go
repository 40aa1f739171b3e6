/*
ledger.go - Balance reads and zero-sum delta application

PURPOSE:
  The Ledger answers "what does each member hold?" and is the single place
  balances change. Writers never touch GroupBalance rows directly; they
  hand a batch of Deltas to ApplyDeltas inside a unit of work.

CRITICAL INVARIANTS:
  1. ZERO-SUM: the deltas of one batch add up to zero. Money moves between
     members, it is never created or destroyed.
  2. CONSERVATION: consequently, a group's balances sum to zero after every
     committed unit of work.
  3. LAZY ROWS: a member without a balance row is treated as holding zero,
     and a zero row is written for them the first time balances are read.

EXAMPLE FLOW:
  A pays 100, split equally with B:
    deltas: A +100, A -50, B -50   (sum 0)
    result: A +50, B -50           (sum 0)

SEE ALSO:
  - store.go: Store / TxStore
  - split/splitter.go, settlement/executor.go: the two writers
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Read side
// =============================================================================

type Ledger struct {
	Store TxStore
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{Store: store}
}

// Balances returns the balance rows of the given members, ordered by user
// ID, creating zero rows for members that have none yet.
func (l *Ledger) Balances(ctx context.Context, groupID GroupID, memberIDs []UserID) ([]GroupBalance, error) {
	rows, err := l.Store.LoadBalances(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	if len(missingUsers(rows, memberIDs)) > 0 {
		var result []GroupBalance
		err := l.Store.WithTx(ctx, func(s Store) error {
			var err error
			result, err = BalancesFor(ctx, s, groupID, memberIDs)
			return err
		})
		return result, err
	}
	return filterBalances(rows, memberIDs), nil
}

// GroupBalances creates zero rows for members lacking one and returns every
// balance row of the group, including rows of former members, so the result
// always sums to zero.
func (l *Ledger) GroupBalances(ctx context.Context, groupID GroupID, memberIDs []UserID) ([]GroupBalance, error) {
	if _, err := l.Balances(ctx, groupID, memberIDs); err != nil {
		return nil, err
	}
	rows, err := l.Store.LoadBalances(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	return rows, nil
}

// ReadBalances returns the balances of userIDs without writing anything.
// A user with no row reads as zero.
func (l *Ledger) ReadBalances(ctx context.Context, groupID GroupID, userIDs []UserID) ([]GroupBalance, error) {
	rows, err := l.Store.LoadBalances(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	result := filterBalances(rows, userIDs)
	for _, id := range missingUsers(rows, userIDs) {
		result = append(result, GroupBalance{GroupID: groupID, UserID: id, Balance: decimal.Zero})
	}
	SortBalances(result)
	return result, nil
}

// BalancesFor reads the balances of userIDs through s, ordered by user ID,
// creating missing rows first. Use inside a unit of work.
func BalancesFor(ctx context.Context, s Store, groupID GroupID, userIDs []UserID) ([]GroupBalance, error) {
	rows, err := s.LoadBalances(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	if missing := missingUsers(rows, userIDs); len(missing) > 0 {
		if err := s.EnsureBalances(ctx, groupID, missing); err != nil {
			return nil, fmt.Errorf("create balances: %w", err)
		}
		if rows, err = s.LoadBalances(ctx, groupID); err != nil {
			return nil, fmt.Errorf("reload balances: %w", err)
		}
	}
	return filterBalances(rows, userIDs), nil
}

// =============================================================================
// DELTAS - Write side
// =============================================================================

// ApplyDeltas adjusts balances by a batch of signed amounts through s and
// returns the touched rows, ordered by user ID. Deltas for the same user are
// combined. A batch that does not net to zero is rejected with an
// InvariantError before anything is written; a balance pushed past
// MaxAmount is rejected with ErrInvalidAmount.
func ApplyDeltas(ctx context.Context, s Store, groupID GroupID, deltas []Delta, at time.Time) ([]GroupBalance, error) {
	net := make(map[UserID]decimal.Decimal, len(deltas))
	var order []UserID
	total := decimal.Zero
	for _, d := range deltas {
		if _, seen := net[d.UserID]; !seen {
			order = append(order, d.UserID)
			net[d.UserID] = decimal.Zero
		}
		net[d.UserID] = net[d.UserID].Add(d.Amount)
		total = total.Add(d.Amount)
	}
	if !total.IsZero() {
		return nil, &InvariantError{GroupID: groupID, Sum: total, Detail: "balance deltas do not net to zero"}
	}
	if len(order) == 0 {
		return nil, nil
	}

	current, err := BalancesFor(ctx, s, groupID, order)
	if err != nil {
		return nil, err
	}

	updated := make([]GroupBalance, len(current))
	for i, b := range current {
		b.Balance = b.Balance.Add(net[b.UserID])
		if b.Balance.Abs().GreaterThan(MaxAmount) {
			return nil, fmt.Errorf("%w: balance of %s would reach %s, beyond the maximum of %s",
				ErrInvalidAmount, b.UserID, b.Balance.StringFixed(MoneyScale), MaxAmount.StringFixed(MoneyScale))
		}
		b.UpdatedAt = at
		updated[i] = b
	}
	if err := s.SaveBalances(ctx, updated); err != nil {
		return nil, fmt.Errorf("save balances: %w", err)
	}
	return updated, nil
}

// CheckConservation returns an InvariantError if the balances of a whole
// group do not sum to zero.
func CheckConservation(groupID GroupID, balances []GroupBalance) error {
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Balance)
	}
	if !total.IsZero() {
		return &InvariantError{GroupID: groupID, Sum: total, Detail: "balances do not sum to zero"}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func missingUsers(rows []GroupBalance, userIDs []UserID) []UserID {
	have := make(map[UserID]bool, len(rows))
	for _, r := range rows {
		have[r.UserID] = true
	}
	var missing []UserID
	for _, id := range userIDs {
		if !have[id] {
			missing = append(missing, id)
			have[id] = true
		}
	}
	return missing
}

func filterBalances(rows []GroupBalance, userIDs []UserID) []GroupBalance {
	want := make(map[UserID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	result := make([]GroupBalance, 0, len(userIDs))
	for _, r := range rows {
		if want[r.UserID] {
			result = append(result, r)
		}
	}
	SortBalances(result)
	return result
}
