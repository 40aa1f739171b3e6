// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	balances    map[ledger.GroupID]map[ledger.UserID]ledger.GroupBalance
	expenses    []ledger.SharedExpense // insertion order
	settlements []ledger.Settlement    // insertion order
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[ledger.GroupID]map[ledger.UserID]ledger.GroupBalance),
	}
}

// LockGroup is a no-op outside a transaction; TxMemory holds the store lock
// for the whole unit of work.
func (m *Memory) LockGroup(_ context.Context, _ ledger.GroupID) error {
	return nil
}

func (m *Memory) LoadBalances(_ context.Context, groupID ledger.GroupID) ([]ledger.GroupBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadBalancesLocked(groupID), nil
}

func (m *Memory) EnsureBalances(_ context.Context, groupID ledger.GroupID, userIDs []ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureBalancesLocked(groupID, userIDs)
	return nil
}

func (m *Memory) SaveBalances(_ context.Context, balances []ledger.GroupBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveBalancesLocked(balances)
	return nil
}

func (m *Memory) InsertExpense(_ context.Context, expense ledger.SharedExpense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertExpenseLocked(expense)
	return nil
}

func (m *Memory) LoadExpense(_ context.Context, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadExpenseLocked(id)
}

func (m *Memory) ListExpenses(_ context.Context, groupID ledger.GroupID) ([]ledger.SharedExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listExpensesLocked(groupID), nil
}

func (m *Memory) InsertSettlements(_ context.Context, settlements []ledger.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append(m.settlements, settlements...)
	return nil
}

func (m *Memory) ListSettlements(_ context.Context, groupID ledger.GroupID) ([]ledger.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSettlementsLocked(groupID), nil
}

func (m *Memory) ListGroupIDs(_ context.Context) ([]ledger.GroupID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listGroupIDsLocked(), nil
}

// =============================================================================
// LOCKED HELPERS - Callers hold m.mu
// =============================================================================

func (m *Memory) loadBalancesLocked(groupID ledger.GroupID) []ledger.GroupBalance {
	rows := m.balances[groupID]
	result := make([]ledger.GroupBalance, 0, len(rows))
	for _, b := range rows {
		result = append(result, b)
	}
	ledger.SortBalances(result)
	return result
}

func (m *Memory) ensureBalancesLocked(groupID ledger.GroupID, userIDs []ledger.UserID) {
	rows, ok := m.balances[groupID]
	if !ok {
		rows = make(map[ledger.UserID]ledger.GroupBalance)
		m.balances[groupID] = rows
	}
	for _, id := range userIDs {
		if _, exists := rows[id]; !exists {
			rows[id] = ledger.GroupBalance{GroupID: groupID, UserID: id, Balance: decimal.Zero}
		}
	}
}

func (m *Memory) saveBalancesLocked(balances []ledger.GroupBalance) {
	for _, b := range balances {
		rows, ok := m.balances[b.GroupID]
		if !ok {
			rows = make(map[ledger.UserID]ledger.GroupBalance)
			m.balances[b.GroupID] = rows
		}
		rows[b.UserID] = b
	}
}

func (m *Memory) insertExpenseLocked(expense ledger.SharedExpense) {
	expense.Splits = append([]ledger.ExpenseSplit(nil), expense.Splits...)
	m.expenses = append(m.expenses, expense)
}

func (m *Memory) loadExpenseLocked(id ledger.ExpenseID) (ledger.SharedExpense, error) {
	for _, e := range m.expenses {
		if e.ID == id {
			return copyExpense(e), nil
		}
	}
	return ledger.SharedExpense{}, ledger.ErrExpenseNotFound
}

func (m *Memory) listExpensesLocked(groupID ledger.GroupID) []ledger.SharedExpense {
	var result []ledger.SharedExpense
	for i := len(m.expenses) - 1; i >= 0; i-- {
		if m.expenses[i].GroupID == groupID {
			result = append(result, copyExpense(m.expenses[i]))
		}
	}
	// Newest insert first already; stable sort keeps that for equal dates.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.After(result[j].Date)
	})
	return result
}

func (m *Memory) listSettlementsLocked(groupID ledger.GroupID) []ledger.Settlement {
	var result []ledger.Settlement
	for i := len(m.settlements) - 1; i >= 0; i-- {
		if m.settlements[i].GroupID == groupID {
			result = append(result, m.settlements[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (m *Memory) listGroupIDsLocked() []ledger.GroupID {
	ids := make([]ledger.GroupID, 0, len(m.balances))
	for id := range m.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func copyExpense(e ledger.SharedExpense) ledger.SharedExpense {
	e.Splits = append([]ledger.ExpenseSplit(nil), e.Splits...)
	return e
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store lock is held until fn returns, so units of work never interleave.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	balances := make(map[ledger.GroupID]map[ledger.UserID]ledger.GroupBalance, len(tm.balances))
	for g, rows := range tm.balances {
		cp := make(map[ledger.UserID]ledger.GroupBalance, len(rows))
		for u, b := range rows {
			cp[u] = b
		}
		balances[g] = cp
	}
	return memorySnapshot{
		balances:    balances,
		expenses:    len(tm.expenses),
		settlements: len(tm.settlements),
	}
}

// restore rolls back to s. Expenses and settlements are append-only, so
// truncating to the recorded lengths undoes inserts.
func (tm *TxMemory) restore(s memorySnapshot) {
	tm.balances = s.balances
	tm.expenses = tm.expenses[:s.expenses]
	tm.settlements = tm.settlements[:s.settlements]
}

type memorySnapshot struct {
	balances    map[ledger.GroupID]map[ledger.UserID]ledger.GroupBalance
	expenses    int
	settlements int
}

// txMemoryView is the Store handed to fn; the parent lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) LockGroup(_ context.Context, _ ledger.GroupID) error {
	return nil
}

func (tv *txMemoryView) LoadBalances(_ context.Context, groupID ledger.GroupID) ([]ledger.GroupBalance, error) {
	return tv.parent.loadBalancesLocked(groupID), nil
}

func (tv *txMemoryView) EnsureBalances(_ context.Context, groupID ledger.GroupID, userIDs []ledger.UserID) error {
	tv.parent.ensureBalancesLocked(groupID, userIDs)
	return nil
}

func (tv *txMemoryView) SaveBalances(_ context.Context, balances []ledger.GroupBalance) error {
	tv.parent.saveBalancesLocked(balances)
	return nil
}

func (tv *txMemoryView) InsertExpense(_ context.Context, expense ledger.SharedExpense) error {
	tv.parent.insertExpenseLocked(expense)
	return nil
}

func (tv *txMemoryView) LoadExpense(_ context.Context, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	return tv.parent.loadExpenseLocked(id)
}

func (tv *txMemoryView) ListExpenses(_ context.Context, groupID ledger.GroupID) ([]ledger.SharedExpense, error) {
	return tv.parent.listExpensesLocked(groupID), nil
}

func (tv *txMemoryView) InsertSettlements(_ context.Context, settlements []ledger.Settlement) error {
	tv.parent.settlements = append(tv.parent.settlements, settlements...)
	return nil
}

func (tv *txMemoryView) ListSettlements(_ context.Context, groupID ledger.GroupID) ([]ledger.Settlement, error) {
	return tv.parent.listSettlementsLocked(groupID), nil
}

func (tv *txMemoryView) ListGroupIDs(_ context.Context) ([]ledger.GroupID, error) {
	return tv.parent.listGroupIDsLocked(), nil
}
