/*
Package settlement levels a set of group members to an equal share.

PURPOSE:
  Over time some members pay more than others. Settling picks a set of
  participants, computes the balance each should hold (the equal share),
  and the fewest pairwise transfers that get everyone there.

TWO PHASES:
  Preview (plan.go)    pure calculation, no writes, repeatable
  Execute (executor.go) re-reads balances under the group lock, records
                        the transfers and moves every participant to their
                        target in one unit of work

TARGETS:
  EqualShare = TotalBalance / n at cent scale. If n does not divide the
  total, EqualShare is rounded down to the cent and the leftover cents are
  added, one each, to the targets of the first participants by user ID.
  The targets therefore always sum to TotalBalance exactly, which keeps the
  group's balances summing to zero after settlement.

    balances {A:60, B:30, C:0}  ->  EqualShare 30, targets 30/30/30
    A owes 30, C receives 30    ->  one transfer A -> C 30

MATCHING:
  Debtors hold more than their target, creditors less. Both lists are
  sorted by user ID; each debtor pays creditors in order, min(debt,
  credit) per transfer. Every transfer clears a debtor or a creditor, so
  there are at most n-1 transfers.

SEE ALSO:
  - ledger/money.go: DivideCents
  - groups/service.go: authorization and participant resolution
*/
package settlement

import (
	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// TYPES
// =============================================================================

// Position is one participant's place in a settlement.
// At most one of WillOwe and WillReceive is nonzero.
type Position struct {
	UserID         ledger.UserID
	CurrentBalance decimal.Decimal
	TargetBalance  decimal.Decimal
	WillOwe        decimal.Decimal // current - target, when positive
	WillReceive    decimal.Decimal // target - current, when positive
}

// Adjustment is the signed change that moves the participant to target.
func (p Position) Adjustment() decimal.Decimal {
	return p.TargetBalance.Sub(p.CurrentBalance)
}

// Transfer moves Amount from a debtor to a creditor.
type Transfer struct {
	FromID ledger.UserID
	ToID   ledger.UserID
	Amount decimal.Decimal
}

// Plan is the full outcome of a settlement calculation.
type Plan struct {
	GroupID          ledger.GroupID
	TotalBalance     decimal.Decimal
	EqualShare       decimal.Decimal
	ParticipantCount int
	Positions        []Position // ordered by user ID
	TotalOwed        decimal.Decimal
	TotalToReceive   decimal.Decimal
	Transfers        []Transfer
}

// =============================================================================
// CALCULATION
// =============================================================================

// Preview computes the settlement plan for the given participant balances.
// It does not modify its input and gives identical results for identical
// balances regardless of their order.
func Preview(groupID ledger.GroupID, balances []ledger.GroupBalance) Plan {
	sorted := append([]ledger.GroupBalance(nil), balances...)
	ledger.SortBalances(sorted)

	plan := Plan{
		GroupID:          groupID,
		TotalBalance:     decimal.Zero,
		EqualShare:       decimal.Zero,
		ParticipantCount: len(sorted),
		Positions:        make([]Position, len(sorted)),
		TotalOwed:        decimal.Zero,
		TotalToReceive:   decimal.Zero,
	}
	if len(sorted) == 0 {
		return plan
	}

	for _, b := range sorted {
		plan.TotalBalance = plan.TotalBalance.Add(b.Balance)
	}
	targets := ledger.DivideCents(plan.TotalBalance, len(sorted))
	plan.EqualShare = targets[len(targets)-1]

	for i, b := range sorted {
		pos := Position{
			UserID:         b.UserID,
			CurrentBalance: b.Balance,
			TargetBalance:  targets[i],
			WillOwe:        decimal.Zero,
			WillReceive:    decimal.Zero,
		}
		diff := b.Balance.Sub(targets[i])
		switch diff.Sign() {
		case 1:
			pos.WillOwe = diff
			plan.TotalOwed = plan.TotalOwed.Add(diff)
		case -1:
			pos.WillReceive = diff.Neg()
			plan.TotalToReceive = plan.TotalToReceive.Add(diff.Neg())
		}
		plan.Positions[i] = pos
	}

	plan.Transfers = match(plan.Positions)
	return plan
}

// match pairs debtors with creditors greedily in position order.
func match(positions []Position) []Transfer {
	type open struct {
		id     ledger.UserID
		amount decimal.Decimal
	}
	var debtors, creditors []open
	for _, p := range positions {
		if p.WillOwe.IsPositive() {
			debtors = append(debtors, open{p.UserID, p.WillOwe})
		}
		if p.WillReceive.IsPositive() {
			creditors = append(creditors, open{p.UserID, p.WillReceive})
		}
	}

	var transfers []Transfer
	c := 0
	for _, d := range debtors {
		for d.amount.IsPositive() && c < len(creditors) {
			amt := decimal.Min(d.amount, creditors[c].amount)
			transfers = append(transfers, Transfer{FromID: d.id, ToID: creditors[c].id, Amount: amt})
			d.amount = d.amount.Sub(amt)
			creditors[c].amount = creditors[c].amount.Sub(amt)
			if !creditors[c].amount.IsPositive() {
				c++
			}
		}
	}
	return transfers
}
