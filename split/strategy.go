/*
Package split is the Expense Splitter: it turns one shared payment into
per-participant shares and applies them to the group ledger.

STRATEGIES:
  A split strategy is a closed sum type. Each variant carries only the
  fields valid for it:

    Equal{Participants}  every participant owes amount / n
    Custom{Shares}       every participant owes an explicit amount

  FromKind converts the loose boundary shape (a kind string plus a list of
  participants with optional amounts) into a Strategy exactly once.

EQUAL REMAINDER:
  Shares are whole cents. When n does not divide the amount, the leftover
  cents go one each to the first participants in request order:
    100.00 / 3 -> 33.34, 33.33, 33.33

SEE ALSO:
  - splitter.go: validation and the atomic write
  - ledger/money.go: DivideCents
*/
package split

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// Strategy computes how an expense amount is divided.
type Strategy interface {
	Type() ledger.SplitType
	// UserIDs returns the participants in request order.
	UserIDs() []ledger.UserID
	// Allocate returns one share per participant, in request order, summing
	// to total exactly.
	Allocate(total decimal.Decimal) ([]ledger.ExpenseSplit, error)

	sealed()
}

// =============================================================================
// EQUAL
// =============================================================================

type Equal struct {
	Participants []ledger.UserID
}

func (Equal) Type() ledger.SplitType { return ledger.SplitEqual }
func (Equal) sealed()                {}

func (e Equal) UserIDs() []ledger.UserID {
	return append([]ledger.UserID(nil), e.Participants...)
}

func (e Equal) Allocate(total decimal.Decimal) ([]ledger.ExpenseSplit, error) {
	if len(e.Participants) == 0 {
		return nil, ledger.ErrNoParticipants
	}
	parts := ledger.DivideCents(total, len(e.Participants))
	splits := make([]ledger.ExpenseSplit, len(parts))
	for i, p := range parts {
		splits[i] = ledger.ExpenseSplit{UserID: e.Participants[i], Amount: p}
	}
	return splits, nil
}

// =============================================================================
// CUSTOM
// =============================================================================

type Share struct {
	UserID ledger.UserID
	Amount decimal.Decimal
}

type Custom struct {
	Shares []Share
}

func (Custom) Type() ledger.SplitType { return ledger.SplitCustom }
func (Custom) sealed()                {}

func (c Custom) UserIDs() []ledger.UserID {
	ids := make([]ledger.UserID, len(c.Shares))
	for i, s := range c.Shares {
		ids[i] = s.UserID
	}
	return ids
}

func (c Custom) Allocate(total decimal.Decimal) ([]ledger.ExpenseSplit, error) {
	if len(c.Shares) == 0 {
		return nil, ledger.ErrNoParticipants
	}
	splits := make([]ledger.ExpenseSplit, len(c.Shares))
	sum := decimal.Zero
	for i, s := range c.Shares {
		if s.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: share for %s is negative", ledger.ErrInvalidAmount, s.UserID)
		}
		if err := ledger.CheckAmount(s.Amount); err != nil {
			return nil, err
		}
		splits[i] = ledger.ExpenseSplit{UserID: s.UserID, Amount: s.Amount}
		sum = sum.Add(s.Amount)
	}
	if !sum.Equal(total) {
		return nil, &ledger.SplitMismatchError{Total: total, Sum: sum}
	}
	return splits, nil
}

// =============================================================================
// BOUNDARY CONVERSION
// =============================================================================

// Participant is the untyped boundary shape of one split entry.
type Participant struct {
	UserID ledger.UserID
	Amount *decimal.Decimal
}

// FromKind builds a Strategy from a split type name and its participants.
// EQUAL ignores amounts; CUSTOM requires one on every participant.
func FromKind(kind string, participants []Participant) (Strategy, error) {
	switch ledger.SplitType(strings.ToUpper(strings.TrimSpace(kind))) {
	case ledger.SplitEqual:
		ids := make([]ledger.UserID, len(participants))
		for i, p := range participants {
			ids[i] = p.UserID
		}
		return Equal{Participants: ids}, nil

	case ledger.SplitCustom:
		shares := make([]Share, len(participants))
		for i, p := range participants {
			if p.Amount == nil {
				return nil, fmt.Errorf("%w: missing for %s", ledger.ErrMissingCustomAmount, p.UserID)
			}
			shares[i] = Share{UserID: p.UserID, Amount: *p.Amount}
		}
		return Custom{Shares: shares}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidSplitType, kind)
	}
}
