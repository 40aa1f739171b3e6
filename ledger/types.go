/*
Package ledger provides the group ledger: per-member running balances,
shared expense records, and settlement transfer records.

PURPOSE:
  This package holds the data model and invariants that every other part of
  the engine builds on. The Expense Splitter (package split) and the
  Settlement Executor (package settlement) are the only writers; everything
  else reads.

KEY CONCEPTS IN THIS FILE (types.go):
  - GroupBalance: signed running total for one member of one group
  - SharedExpense / ExpenseSplit: one payment and its per-member shares
  - Settlement: an immutable transfer record between two members
  - Delta: a signed balance adjustment applied inside a unit of work

SIGN CONVENTION:
  balance > 0  the group owes this member (they paid more than their share)
  balance < 0  this member owes the group

CONSERVATION:
  For every group, the sum of all member balances is zero at every committed
  checkpoint. Deltas applied within one unit of work must therefore net to
  zero (see ApplyDeltas).

SEE ALSO:
  - money.go: decimal helpers and cent arithmetic
  - store.go: persistence interfaces and the unit of work
  - ledger.go: balance reads and delta application
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type UserID string
type ExpenseID string
type SettlementID string

// =============================================================================
// BALANCES
// =============================================================================

// GroupBalance is one row per (group, user).
type GroupBalance struct {
	GroupID   GroupID
	UserID    UserID
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// Delta is a signed adjustment to one member's balance.
type Delta struct {
	UserID UserID
	Amount decimal.Decimal
}

// =============================================================================
// SHARED EXPENSES
// =============================================================================

type SplitType string

const (
	SplitEqual  SplitType = "EQUAL"
	SplitCustom SplitType = "CUSTOM"
)

// SharedExpense is a payment made by one member on behalf of the group.
// Immutable once created.
type SharedExpense struct {
	ID          ExpenseID
	GroupID     GroupID
	PayerID     UserID
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	SplitType   SplitType
	Splits      []ExpenseSplit
	CreatedAt   time.Time
}

// ExpenseSplit is one participant's share of a SharedExpense.
type ExpenseSplit struct {
	ExpenseID ExpenseID
	UserID    UserID
	Amount    decimal.Decimal
}

// SplitTotal returns the sum of all split amounts.
func (e SharedExpense) SplitTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range e.Splits {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// Settlement records a transfer from a debtor to a creditor. Append-only.
type Settlement struct {
	ID        SettlementID
	GroupID   GroupID
	FromID    UserID // debtor, paying down an excess
	ToID      UserID // creditor, receiving a deficit
	Amount    decimal.Decimal
	CreatedBy UserID
	CreatedAt time.Time
}
