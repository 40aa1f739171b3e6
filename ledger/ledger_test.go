package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func money(s string) decimal.Decimal {
	return ledger.MustMoney(s)
}

func sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func balanceOf(t *testing.T, rows []ledger.GroupBalance, user ledger.UserID) decimal.Decimal {
	t.Helper()
	for _, r := range rows {
		if r.UserID == user {
			return r.Balance
		}
	}
	t.Fatalf("no balance row for %s", user)
	return decimal.Zero
}

// =============================================================================
// LAZY BALANCE ROWS
// =============================================================================

func TestLedger_Balances_CreatesZeroRows(t *testing.T) {
	// GIVEN: A group with no balance rows
	// WHEN: Balances are read for three members
	// THEN: Three zero rows exist, ordered by user ID

	mem := store.NewTxMemory()
	l := ledger.NewLedger(mem)
	ctx := context.Background()

	rows, err := l.Balances(ctx, "g1", []ledger.UserID{"carol", "alice", "bob"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ledger.UserID("alice"), rows[0].UserID)
	assert.Equal(t, ledger.UserID("bob"), rows[1].UserID)
	assert.Equal(t, ledger.UserID("carol"), rows[2].UserID)
	for _, r := range rows {
		assert.True(t, r.Balance.IsZero())
	}

	stored, err := mem.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, stored, 3, "rows should be persisted")
}

func TestLedger_Balances_FiltersToRequestedMembers(t *testing.T) {
	mem := store.NewTxMemory()
	l := ledger.NewLedger(mem)
	ctx := context.Background()

	_, err := l.Balances(ctx, "g1", []ledger.UserID{"a", "b", "c"})
	require.NoError(t, err)

	rows, err := l.Balances(ctx, "g1", []ledger.UserID{"b"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.UserID("b"), rows[0].UserID)
}

// =============================================================================
// DELTA APPLICATION
// =============================================================================

func TestApplyDeltas_ZeroSumBatch(t *testing.T) {
	// GIVEN: A pays 100 split equally with B
	// WHEN: The deltas are applied
	// THEN: A is +50 and B is -50

	mem := store.NewTxMemory()
	ctx := context.Background()

	var updated []ledger.GroupBalance
	err := mem.WithTx(ctx, func(s ledger.Store) error {
		var err error
		updated, err = ledger.ApplyDeltas(ctx, s, "g1", []ledger.Delta{
			{UserID: "A", Amount: money("-50")},
			{UserID: "B", Amount: money("-50")},
			{UserID: "A", Amount: money("100")},
		}, t0)
		return err
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)

	assert.True(t, money("50").Equal(balanceOf(t, updated, "A")))
	assert.True(t, money("-50").Equal(balanceOf(t, updated, "B")))
	assert.Equal(t, t0, updated[0].UpdatedAt)

	rows, err := mem.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	assert.NoError(t, ledger.CheckConservation("g1", rows))
}

func TestApplyDeltas_NonZeroSum_Rejected(t *testing.T) {
	// GIVEN: A batch that creates money
	// WHEN: It is applied
	// THEN: InvariantError, and nothing is written

	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s ledger.Store) error {
		_, err := ledger.ApplyDeltas(ctx, s, "g1", []ledger.Delta{
			{UserID: "A", Amount: money("100")},
			{UserID: "B", Amount: money("-99.99")},
		}, t0)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)

	var invErr *ledger.InvariantError
	require.ErrorAs(t, err, &invErr)
	assert.True(t, money("0.01").Equal(invErr.Sum))
	assert.False(t, ledger.IsClientError(err))

	rows, err := mem.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A unit of work that writes then fails
	// WHEN: It returns an error
	// THEN: Balances, expenses and settlements are all rolled back

	mem := store.NewTxMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(s ledger.Store) error {
		require.NoError(t, s.InsertExpense(ctx, ledger.SharedExpense{ID: "e1", GroupID: "g1", Amount: money("10")}))
		require.NoError(t, s.InsertSettlements(ctx, []ledger.Settlement{{ID: "s1", GroupID: "g1"}}))
		_, err := ledger.ApplyDeltas(ctx, s, "g1", []ledger.Delta{
			{UserID: "A", Amount: money("10")},
			{UserID: "B", Amount: money("-10")},
		}, t0)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, _ := mem.LoadBalances(ctx, "g1")
	assert.Empty(t, rows)
	expenses, _ := mem.ListExpenses(ctx, "g1")
	assert.Empty(t, expenses)
	settlements, _ := mem.ListSettlements(ctx, "g1")
	assert.Empty(t, settlements)
	_, err = mem.LoadExpense(ctx, "e1")
	assert.ErrorIs(t, err, ledger.ErrExpenseNotFound)
}

func TestCheckConservation(t *testing.T) {
	ok := []ledger.GroupBalance{
		{UserID: "A", Balance: money("40")},
		{UserID: "B", Balance: money("-40")},
	}
	assert.NoError(t, ledger.CheckConservation("g1", ok))

	bad := []ledger.GroupBalance{
		{UserID: "A", Balance: money("40")},
		{UserID: "B", Balance: money("-39")},
	}
	assert.ErrorIs(t, ledger.CheckConservation("g1", bad), ledger.ErrInvariantViolation)
}

// =============================================================================
// MONEY
// =============================================================================

func TestDivideCents(t *testing.T) {
	tests := []struct {
		name  string
		total string
		n     int
		want  []string
	}{
		{"even", "100", 2, []string{"50", "50"}},
		{"remainder to first", "100", 3, []string{"33.34", "33.33", "33.33"}},
		{"two leftover cents", "0.05", 3, []string{"0.02", "0.02", "0.01"}},
		{"negative", "-100", 3, []string{"-33.33", "-33.33", "-33.34"}},
		{"zero", "0", 4, []string{"0", "0", "0", "0"}},
		{"single negative cent", "-0.01", 2, []string{"0", "-0.01"}},
		{"at maximum", "999999999999.99", 3, []string{"333333333333.33", "333333333333.33", "333333333333.33"}},
		{"beyond int64 cents", "100000000000000000.00", 2, []string{"50000000000000000", "50000000000000000"}},
		{"beyond int64 cents with remainder", "-100000000000000000.01", 2, []string{"-50000000000000000", "-50000000000000000.01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := decimal.RequireFromString(tt.total)
			parts := ledger.DivideCents(total, tt.n)
			require.Len(t, parts, len(tt.want))
			for i, w := range tt.want {
				assert.True(t, decimal.RequireFromString(w).Equal(parts[i]), "part %d: got %s want %s", i, parts[i], w)
			}
			assert.True(t, total.Equal(sum(parts)), "parts must sum to total")
		})
	}
}

func TestParseMoney_RejectsSubCent(t *testing.T) {
	_, err := ledger.ParseMoney("10.005")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = ledger.ParseMoney("ten")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	d, err := ledger.ParseMoney("10.50")
	require.NoError(t, err)
	assert.Equal(t, "10.50", d.StringFixed(ledger.MoneyScale))
}

func TestParseMoney_MaxAmount(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"999999999999.99", false},
		{"-999999999999.99", false},
		{"1000000000000.00", true},
		{"-1000000000000", true},
		{"100000000000000000.00", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ledger.ParseMoney(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
				assert.True(t, ledger.IsClientError(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyDeltas_BalanceBeyondMaximum_Rejected(t *testing.T) {
	// GIVEN: A owed the maximum amount
	// WHEN: A batch would push A one cent further
	// THEN: ErrInvalidAmount, and the earlier balance stands

	mem := store.NewTxMemory()
	ctx := context.Background()

	apply := func(amount string) error {
		return mem.WithTx(ctx, func(s ledger.Store) error {
			_, err := ledger.ApplyDeltas(ctx, s, "g1", []ledger.Delta{
				{UserID: "A", Amount: money(amount)},
				{UserID: "B", Amount: money(amount).Neg()},
			}, t0)
			return err
		})
	}

	require.NoError(t, apply("999999999999.99"))
	err := apply("0.01")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.False(t, errors.Is(err, ledger.ErrInvariantViolation))

	rows, err := mem.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, ledger.MaxAmount.Equal(balanceOf(t, rows, "A")))
}
