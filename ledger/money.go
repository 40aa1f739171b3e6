package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount carries.
const MoneyScale = 2

// MaxAmount bounds every expense amount, split share and balance. It is the
// largest value a NUMERIC(14, 2) column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// ParseMoney parses a decimal string and checks it is a valid amount.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, s)
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// MustMoney parses s or panics. Intended for tests and constants.
func MustMoney(s string) decimal.Decimal {
	d, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return d
}

// CheckAmount rejects amounts with more than MoneyScale decimal places or
// whose magnitude exceeds MaxAmount.
func CheckAmount(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d.String(), MoneyScale)
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds the maximum of %s", ErrInvalidAmount, d.String(), MaxAmount.StringFixed(MoneyScale))
	}
	return nil
}

// DivideCents splits total into n whole-cent parts that sum to total exactly.
//
// Every part is floor(total/n); the leftover cents go one each to the first
// parts. When n divides total, all parts are equal to total/n. Negative
// totals are handled the same way, so parts never differ by more than a cent.
func DivideCents(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	count := decimal.NewFromInt(int64(n))
	cent := decimal.New(1, -MoneyScale)

	// QuoRem truncates toward zero; shift to floor for negative totals.
	base, rem := total.Truncate(MoneyScale).QuoRem(count, MoneyScale)
	if rem.IsNegative() {
		base = base.Sub(cent)
		rem = rem.Add(count.Mul(cent))
	}
	extra := rem.Shift(MoneyScale).IntPart()

	parts := make([]decimal.Decimal, n)
	for i := range parts {
		parts[i] = base
		if int64(i) < extra {
			parts[i] = base.Add(cent)
		}
	}
	return parts
}

// SortBalances orders balances by user ID, the stable order used for all
// settlement arithmetic.
func SortBalances(balances []GroupBalance) {
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].UserID < balances[j].UserID
	})
}

// SortUserIDs orders user IDs ascending.
func SortUserIDs(ids []UserID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
