package split_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/ledger/store"
	"github.com/warp/group-ledger/split"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const groupID ledger.GroupID = "household"

var march10 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

// staticAuthority treats a fixed set of users as members of groupID.
type staticAuthority map[ledger.UserID]bool

func (a staticAuthority) IsMember(_ context.Context, g ledger.GroupID, u ledger.UserID) (bool, error) {
	if g != groupID {
		return false, ledger.ErrGroupNotFound
	}
	return a[u], nil
}

func (a staticAuthority) IsAdmin(_ context.Context, _ ledger.GroupID, u ledger.UserID) (bool, error) {
	return u == "A", nil
}

func (a staticAuthority) ListMemberIDs(_ context.Context, _ ledger.GroupID) ([]ledger.UserID, error) {
	var ids []ledger.UserID
	for id := range a {
		ids = append(ids, id)
	}
	ledger.SortUserIDs(ids)
	return ids, nil
}

func newTestSplitter(t *testing.T) (*split.Splitter, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	n := 0
	s := split.NewSplitter(mem, staticAuthority{"A": true, "B": true, "C": true},
		split.WithClock(func() time.Time { return march10 }),
		split.WithIDGenerator(func() string { n++; return fmt.Sprintf("exp-%d", n) }),
	)
	return s, mem
}

func money(s string) decimal.Decimal { return ledger.MustMoney(s) }

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func balances(t *testing.T, mem *store.TxMemory) map[ledger.UserID]decimal.Decimal {
	t.Helper()
	rows, err := mem.LoadBalances(context.Background(), groupID)
	require.NoError(t, err)
	out := make(map[ledger.UserID]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.UserID] = r.Balance
	}
	return out
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]interface{}{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestCreateSharedExpense_EqualSplit(t *testing.T) {
	// GIVEN: Members A and B
	// WHEN: A pays 100 split equally between A and B
	// THEN: A is +50, B is -50

	s, mem := newTestSplitter(t)
	ctx := context.Background()

	exp, err := s.CreateSharedExpense(ctx, split.Request{
		GroupID:     groupID,
		PayerID:     "A",
		Amount:      money("100"),
		Description: "Groceries",
		Date:        march10,
		Strategy:    split.Equal{Participants: []ledger.UserID{"A", "B"}},
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.ExpenseID("exp-1"), exp.ID)
	assert.Equal(t, ledger.SplitEqual, exp.SplitType)
	require.Len(t, exp.Splits, 2)
	assertMoney(t, "50", exp.Splits[0].Amount)
	assertMoney(t, "50", exp.Splits[1].Amount)
	assert.True(t, exp.Amount.Equal(exp.SplitTotal()), "splits sum to expense amount")

	b := balances(t, mem)
	assertMoney(t, "50", b["A"])
	assertMoney(t, "-50", b["B"])
}

func TestCreateSharedExpense_CustomSplit(t *testing.T) {
	// GIVEN: Members A and B
	// WHEN: A pays 100 split as A:60, B:40
	// THEN: A is +40, B is -40

	s, mem := newTestSplitter(t)

	_, err := s.CreateSharedExpense(context.Background(), split.Request{
		GroupID:     groupID,
		PayerID:     "A",
		Amount:      money("100"),
		Description: "Dinner",
		Strategy: split.Custom{Shares: []split.Share{
			{UserID: "A", Amount: money("60")},
			{UserID: "B", Amount: money("40")},
		}},
	})
	require.NoError(t, err)

	b := balances(t, mem)
	assertMoney(t, "40", b["A"])
	assertMoney(t, "-40", b["B"])
}

func TestCreateSharedExpense_SplitMismatch_NothingWritten(t *testing.T) {
	// GIVEN: A 100 expense
	// WHEN: Custom shares sum to 90
	// THEN: SplitMismatch; no expense, no balances

	s, mem := newTestSplitter(t)
	ctx := context.Background()

	_, err := s.CreateSharedExpense(ctx, split.Request{
		GroupID:     groupID,
		PayerID:     "A",
		Amount:      money("100"),
		Description: "Dinner",
		Strategy: split.Custom{Shares: []split.Share{
			{UserID: "A", Amount: money("50")},
			{UserID: "B", Amount: money("40")},
		}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrSplitMismatch)

	var mm *ledger.SplitMismatchError
	require.ErrorAs(t, err, &mm)
	assertMoney(t, "90", mm.Sum)
	assertMoney(t, "100", mm.Total)

	expenses, err := mem.ListExpenses(ctx, groupID)
	require.NoError(t, err)
	assert.Empty(t, expenses)
	assert.Empty(t, balances(t, mem))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCreateSharedExpense_Validation(t *testing.T) {
	base := func() split.Request {
		return split.Request{
			GroupID:     groupID,
			PayerID:     "A",
			Amount:      money("30"),
			Description: "Taxi",
			Strategy:    split.Equal{Participants: []ledger.UserID{"A", "B"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*split.Request)
		want   error
	}{
		{"non-member participant", func(r *split.Request) {
			r.Strategy = split.Equal{Participants: []ledger.UserID{"A", "Z"}}
		}, ledger.ErrNonMember},
		{"non-member payer", func(r *split.Request) { r.PayerID = "Z" }, ledger.ErrNonMember},
		{"duplicate participant", func(r *split.Request) {
			r.Strategy = split.Equal{Participants: []ledger.UserID{"A", "B", "A"}}
		}, ledger.ErrDuplicateParticipant},
		{"no participants", func(r *split.Request) { r.Strategy = split.Equal{} }, ledger.ErrNoParticipants},
		{"zero amount", func(r *split.Request) { r.Amount = decimal.Zero }, ledger.ErrInvalidAmount},
		{"sub-cent amount", func(r *split.Request) { r.Amount = decimal.RequireFromString("1.001") }, ledger.ErrInvalidAmount},
		{"blank description", func(r *split.Request) { r.Description = "  " }, ledger.ErrInvalidRequest},
		{"negative custom share", func(r *split.Request) {
			r.Strategy = split.Custom{Shares: []split.Share{
				{UserID: "A", Amount: money("40")},
				{UserID: "B", Amount: money("-10")},
			}}
		}, ledger.ErrInvalidAmount},
		{"unknown group", func(r *split.Request) { r.GroupID = "other" }, ledger.ErrGroupNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem := newTestSplitter(t)
			req := base()
			tt.mutate(&req)

			_, err := s.CreateSharedExpense(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, balances(t, mem), "nothing written")
		})
	}
}

func TestCreateSharedExpense_NonMemberNamesUser(t *testing.T) {
	s, _ := newTestSplitter(t)

	_, err := s.CreateSharedExpense(context.Background(), split.Request{
		GroupID:     groupID,
		PayerID:     "A",
		Amount:      money("10"),
		Description: "Coffee",
		Strategy:    split.Equal{Participants: []ledger.UserID{"A", "mallory"}},
	})

	var nm *ledger.NonMemberError
	require.ErrorAs(t, err, &nm)
	assert.Equal(t, ledger.UserID("mallory"), nm.UserID)
	assert.True(t, ledger.IsClientError(err))
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCreateSharedExpense_EqualRemainderGoesToFirstParticipants(t *testing.T) {
	// GIVEN: 100 over three participants
	// WHEN: Split equally, payer not among the first
	// THEN: 33.34 / 33.33 / 33.33 in request order; sum exact

	s, mem := newTestSplitter(t)

	exp, err := s.CreateSharedExpense(context.Background(), split.Request{
		GroupID:     groupID,
		PayerID:     "C",
		Amount:      money("100"),
		Description: "Utilities",
		Strategy:    split.Equal{Participants: []ledger.UserID{"B", "A", "C"}},
	})
	require.NoError(t, err)

	require.Len(t, exp.Splits, 3)
	assert.Equal(t, ledger.UserID("B"), exp.Splits[0].UserID)
	assertMoney(t, "33.34", exp.Splits[0].Amount)
	assertMoney(t, "33.33", exp.Splits[1].Amount)
	assertMoney(t, "33.33", exp.Splits[2].Amount)
	assert.True(t, exp.Amount.Equal(exp.SplitTotal()))

	b := balances(t, mem)
	assertMoney(t, "-33.34", b["B"])
	assertMoney(t, "-33.33", b["A"])
	assertMoney(t, "66.67", b["C"])
}

func TestCreateSharedExpense_AmountLimit(t *testing.T) {
	// GIVEN: Members A and B
	// WHEN: Expenses at and just beyond the maximum amount are split
	// THEN: The largest allowed amount splits exactly; larger ones are rejected as invalid input

	tests := []struct {
		name     string
		amount   string
		strategy split.Strategy
		wantErr  bool
	}{
		{"equal at maximum", "999999999999.99", split.Equal{Participants: []ledger.UserID{"A", "B"}}, false},
		{"equal above maximum", "1000000000000.00", split.Equal{Participants: []ledger.UserID{"A", "B"}}, true},
		{"equal far above maximum", "100000000000000000.00", split.Equal{Participants: []ledger.UserID{"A", "B"}}, true},
		{
			name:   "custom share above maximum",
			amount: "100",
			strategy: split.Custom{Shares: []split.Share{
				{UserID: "A", Amount: decimal.RequireFromString("1000000000000.00")},
				{UserID: "B", Amount: decimal.RequireFromString("-999999999900.00")},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem := newTestSplitter(t)
			amount := decimal.RequireFromString(tt.amount)

			exp, err := s.CreateSharedExpense(context.Background(), split.Request{
				GroupID:     groupID,
				PayerID:     "A",
				Amount:      amount,
				Description: "Boat",
				Date:        march10,
				Strategy:    tt.strategy,
			})

			if tt.wantErr {
				assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
				assert.True(t, ledger.IsClientError(err))
				assert.Empty(t, balances(t, mem))
				return
			}
			require.NoError(t, err)
			assertMoney(t, "500000000000.00", exp.Splits[0].Amount)
			assertMoney(t, "499999999999.99", exp.Splits[1].Amount)
			assert.True(t, amount.Equal(exp.SplitTotal()))

			b := balances(t, mem)
			assertMoney(t, "499999999999.99", b["A"])
			assertMoney(t, "-499999999999.99", b["B"])
		})
	}
}

func TestCreateSharedExpense_ConservationAcrossManyExpenses(t *testing.T) {
	s, mem := newTestSplitter(t)
	ctx := context.Background()

	amounts := []string{"10.01", "99.99", "7", "0.03", "1234.56"}
	payers := []ledger.UserID{"A", "B", "C", "A", "B"}
	for i, amt := range amounts {
		_, err := s.CreateSharedExpense(ctx, split.Request{
			GroupID:     groupID,
			PayerID:     payers[i],
			Amount:      money(amt),
			Description: fmt.Sprintf("expense %d", i),
			Strategy:    split.Equal{Participants: []ledger.UserID{"A", "B", "C"}},
		})
		require.NoError(t, err)
	}

	rows, err := mem.LoadBalances(ctx, groupID)
	require.NoError(t, err)
	assert.NoError(t, ledger.CheckConservation(groupID, rows))

	expenses, err := mem.ListExpenses(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, expenses, len(amounts))
	for _, e := range expenses {
		assert.True(t, e.Amount.Equal(e.SplitTotal()), "expense %s splits must sum to amount", e.ID)
	}
}

// =============================================================================
// BOUNDARY CONVERSION
// =============================================================================

func TestFromKind(t *testing.T) {
	t.Run("equal ignores amounts", func(t *testing.T) {
		st, err := split.FromKind("equal", []split.Participant{{UserID: "A", Amount: ptr(money("5"))}, {UserID: "B"}})
		require.NoError(t, err)
		assert.Equal(t, split.Equal{Participants: []ledger.UserID{"A", "B"}}, st)
	})

	t.Run("custom requires every amount", func(t *testing.T) {
		_, err := split.FromKind("CUSTOM", []split.Participant{{UserID: "A", Amount: ptr(money("5"))}, {UserID: "B"}})
		assert.ErrorIs(t, err, ledger.ErrMissingCustomAmount)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := split.FromKind("PERCENT", nil)
		assert.ErrorIs(t, err, ledger.ErrInvalidSplitType)
	})
}
