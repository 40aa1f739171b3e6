package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/group-ledger/groups"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/membership"
	"github.com/warp/group-ledger/split"
	"github.com/warp/group-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func money(s string) decimal.Decimal { return ledger.MustMoney(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, money(want).Equal(got), "want %s, got %s", want, got)
}

var day = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestNew_RejectsMemoryPath(t *testing.T) {
	_, err := sqlite.New(":memory:")
	assert.Error(t, err)
}

func TestNew_ReopenKeepsData(t *testing.T) {
	// GIVEN: A balance written to a database file
	// WHEN: The file is reopened (migrations run again)
	// THEN: The balance is still there

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveBalances(ctx, []ledger.GroupBalance{
		{GroupID: "g1", UserID: "A", Balance: money("12.50"), UpdatedAt: day},
	}))
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertMoney(t, "12.50", rows[0].Balance)
	assert.True(t, day.Equal(rows[0].UpdatedAt))
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

func TestBalances_EnsureDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveBalances(ctx, []ledger.GroupBalance{
		{GroupID: "g1", UserID: "B", Balance: money("-3.10"), UpdatedAt: day},
	}))
	require.NoError(t, s.EnsureBalances(ctx, "g1", []ledger.UserID{"C", "A", "B"}))

	rows, err := s.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []ledger.UserID{"A", "B", "C"}, []ledger.UserID{rows[0].UserID, rows[1].UserID, rows[2].UserID})
	assertMoney(t, "0", rows[0].Balance)
	assertMoney(t, "-3.10", rows[1].Balance)
	assertMoney(t, "0", rows[2].Balance)

	ids, err := s.ListGroupIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.GroupID{"g1"}, ids)
}

func TestExpenses_RoundTripAndOrder(t *testing.T) {
	// GIVEN: Two expenses with different dates, splits in a given order
	// WHEN: Listing and loading
	// THEN: Newest date first; splits keep insertion order and exact amounts

	ctx := context.Background()
	s := newStore(t)

	older := ledger.SharedExpense{
		ID: "e1", GroupID: "g1", PayerID: "A", Amount: money("100"),
		Description: "Groceries", Date: day, SplitType: ledger.SplitEqual, CreatedAt: day,
		Splits: []ledger.ExpenseSplit{
			{ExpenseID: "e1", UserID: "C", Amount: money("33.34")},
			{ExpenseID: "e1", UserID: "A", Amount: money("33.33")},
			{ExpenseID: "e1", UserID: "B", Amount: money("33.33")},
		},
	}
	newer := ledger.SharedExpense{
		ID: "e2", GroupID: "g1", PayerID: "B", Amount: money("9.99"),
		Description: "Coffee", Date: day.AddDate(0, 0, 1), SplitType: ledger.SplitCustom, CreatedAt: day,
		Splits: []ledger.ExpenseSplit{{ExpenseID: "e2", UserID: "B", Amount: money("9.99")}},
	}
	require.NoError(t, s.InsertExpense(ctx, older))
	require.NoError(t, s.InsertExpense(ctx, newer))

	list, err := s.ListExpenses(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ledger.ExpenseID("e2"), list[0].ID)
	assert.Equal(t, ledger.ExpenseID("e1"), list[1].ID)

	got, err := s.LoadExpense(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Description)
	assert.Equal(t, ledger.SplitEqual, got.SplitType)
	require.Len(t, got.Splits, 3)
	assert.Equal(t, ledger.UserID("C"), got.Splits[0].UserID)
	assertMoney(t, "33.34", got.Splits[0].Amount)
	assertMoney(t, "100", got.SplitTotal())

	_, err = s.LoadExpense(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrExpenseNotFound)
}

func TestSettlements_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.InsertSettlements(ctx, []ledger.Settlement{
		{ID: "s1", GroupID: "g1", FromID: "A", ToID: "C", Amount: money("60"), CreatedBy: "A", CreatedAt: day},
		{ID: "s2", GroupID: "g1", FromID: "B", ToID: "C", Amount: money("30"), CreatedBy: "A", CreatedAt: day},
	}))
	require.NoError(t, s.InsertSettlements(ctx, []ledger.Settlement{
		{ID: "s3", GroupID: "g1", FromID: "A", ToID: "B", Amount: money("0.01"), CreatedBy: "B", CreatedAt: day.Add(time.Hour)},
	}))

	list, err := s.ListSettlements(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []ledger.SettlementID{"s3", "s2", "s1"}, []ledger.SettlementID{list[0].ID, list[1].ID, list[2].ID})
	assertMoney(t, "0.01", list[0].Amount)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A unit of work that writes a balance, an expense and a settlement
	// WHEN: It returns an error
	// THEN: None of the writes are visible

	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.LockGroup(ctx, "g1"))
		require.NoError(t, tx.SaveBalances(ctx, []ledger.GroupBalance{
			{GroupID: "g1", UserID: "A", Balance: money("5"), UpdatedAt: day},
		}))
		require.NoError(t, tx.InsertExpense(ctx, ledger.SharedExpense{
			ID: "e1", GroupID: "g1", PayerID: "A", Amount: money("5"), Description: "x",
			Date: day, SplitType: ledger.SplitEqual, CreatedAt: day,
		}))
		require.NoError(t, tx.InsertSettlements(ctx, []ledger.Settlement{
			{ID: "s1", GroupID: "g1", FromID: "A", ToID: "B", Amount: money("1"), CreatedBy: "A", CreatedAt: day},
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	exps, err := s.ListExpenses(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, exps)
	sts, err := s.ListSettlements(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, sts)
}

func TestApplyDeltas_Committed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		_, err := ledger.ApplyDeltas(ctx, tx, "g1", []ledger.Delta{
			{UserID: "A", Amount: money("20")},
			{UserID: "B", Amount: money("-20")},
		}, day)
		return err
	})
	require.NoError(t, err)

	rows, err := s.LoadBalances(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, ledger.CheckConservation("g1", rows))
	assertMoney(t, "20", rows[0].Balance)
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func TestMembership_Directory(t *testing.T) {
	// GIVEN: A directory persisted in SQLite
	// WHEN: Creating a group, joining and changing roles
	// THEN: The rows survive and the sole-admin rule holds

	ctx := context.Background()
	s := newStore(t)
	dir := membership.NewDirectory(s)

	g, err := dir.CreateGroup(ctx, "A", "Trip")
	require.NoError(t, err)
	_, err = dir.Join(ctx, "B", g.InviteCode)
	require.NoError(t, err)

	_, err = dir.Join(ctx, "B", g.InviteCode)
	assert.ErrorIs(t, err, ledger.ErrAlreadyMember)

	ids, err := dir.ListMemberIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{"A", "B"}, ids)

	_, err = dir.UpdateRole(ctx, "A", g.ID, "A", membership.RoleMember)
	assert.ErrorIs(t, err, ledger.ErrSoleAdmin)

	m, err := dir.UpdateRole(ctx, "A", g.ID, "B", membership.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, membership.RoleAdmin, m.Role)

	require.NoError(t, dir.Leave(ctx, "A", g.ID))
	isMember, err := dir.IsMember(ctx, g.ID, "A")
	require.NoError(t, err)
	assert.False(t, isMember)

	code, err := dir.RegenerateInviteCode(ctx, "B", g.ID)
	require.NoError(t, err)
	_, err = dir.Join(ctx, "C", g.InviteCode)
	assert.ErrorIs(t, err, ledger.ErrInviteCodeNotFound)
	_, err = dir.Join(ctx, "C", code)
	require.NoError(t, err)

	groupsOfC, err := dir.GroupsFor(ctx, "C")
	require.NoError(t, err)
	require.Len(t, groupsOfC, 1)
	assert.Equal(t, "Trip", groupsOfC[0].Name)
}

func TestMembership_SaveMemberUnknownGroup(t *testing.T) {
	s := newStore(t)
	err := s.SaveMember(context.Background(), membership.Member{
		GroupID: "nope", UserID: "A", Role: membership.RoleMember, JoinedAt: day,
	})
	assert.ErrorIs(t, err, ledger.ErrGroupNotFound)
}

// =============================================================================
// END TO END
// =============================================================================

func TestService_ExpenseThenSettlement(t *testing.T) {
	// GIVEN: A three-member group on SQLite with expenses leaving
	//        {A:40, B:10, C:-50}
	// WHEN: The admin settles everyone
	// THEN: Two transfers are recorded and every balance is zero

	ctx := context.Background()
	s := newStore(t)
	dir := membership.NewDirectory(s)
	g, err := dir.CreateGroup(ctx, "A", "Flat")
	require.NoError(t, err)
	for _, u := range []ledger.UserID{"B", "C"} {
		_, err := dir.Join(ctx, u, g.InviteCode)
		require.NoError(t, err)
	}
	svc := groups.NewService(s, dir)

	all := []split.Participant{{UserID: "A"}, {UserID: "B"}, {UserID: "C"}}
	_, err = svc.CreateSharedExpense(ctx, "A", g.ID, groups.ExpenseInput{
		Amount: money("90"), Description: "Rent share", Date: day, SplitType: "EQUAL", Participants: all,
	})
	require.NoError(t, err)
	_, err = svc.CreateSharedExpense(ctx, "B", g.ID, groups.ExpenseInput{
		Amount: money("60"), Description: "Utilities", Date: day, SplitType: "EQUAL", Participants: all,
	})
	require.NoError(t, err)
	_, err = svc.CreateSharedExpense(ctx, "C", g.ID, groups.ExpenseInput{
		Amount: money("0"), Description: "nothing", Date: day, SplitType: "EQUAL", Participants: all,
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	rows, err := svc.GetGroupBalances(ctx, "A", g.ID)
	require.NoError(t, err)
	require.NoError(t, ledger.CheckConservation(g.ID, rows))

	res, err := svc.ExecuteSettlement(ctx, "A", g.ID, nil, true)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Settlements)
	for _, b := range res.UpdatedBalances {
		assertMoney(t, "0", b.Balance)
	}

	history, err := svc.GetSettlementHistory(ctx, "B", g.ID)
	require.NoError(t, err)
	assert.Len(t, history, len(res.Settlements))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestService_ConcurrentWritersConserve(t *testing.T) {
	// GIVEN: A three-member group on SQLite
	// WHEN: Expenses from every member and settlements by the admin run concurrently
	// THEN: Every write commits, balances sum to zero, and a final settlement zeroes everyone

	ctx := context.Background()
	s := newStore(t)
	dir := membership.NewDirectory(s)
	g, err := dir.CreateGroup(ctx, "A", "Busy flat")
	require.NoError(t, err)
	for _, u := range []ledger.UserID{"B", "C"} {
		_, err := dir.Join(ctx, u, g.InviteCode)
		require.NoError(t, err)
	}
	svc := groups.NewService(s, dir)

	const expenses = 24
	payers := []ledger.UserID{"A", "B", "C"}
	all := []split.Participant{{UserID: "A"}, {UserID: "B"}, {UserID: "C"}}

	var wg sync.WaitGroup
	for i := 0; i < expenses; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateSharedExpense(ctx, payers[i%3], g.ID, groups.ExpenseInput{
				Amount:       decimal.New(int64(1000+i*7), -ledger.MoneyScale),
				Description:  fmt.Sprintf("item %d", i),
				Date:         day,
				SplitType:    "EQUAL",
				Participants: all,
			})
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ExecuteSettlement(ctx, "A", g.ID, nil, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := svc.ListSharedExpenses(ctx, "A", g.ID)
	require.NoError(t, err)
	assert.Len(t, list, expenses)

	rows, err := svc.GetGroupBalances(ctx, "A", g.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.NoError(t, ledger.CheckConservation(g.ID, rows))

	res, err := svc.ExecuteSettlement(ctx, "A", g.ID, nil, true)
	require.NoError(t, err)
	for _, b := range res.UpdatedBalances {
		assertMoney(t, "0", b.Balance)
	}
}
