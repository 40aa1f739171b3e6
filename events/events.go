// Package events publishes ledger domain events after a unit of work commits.
//
// Publishing is best effort: a failed publish is logged by the caller and
// never undoes a committed expense or settlement.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// Routing keys.
const (
	TypeExpenseCreated     = "expense.created"
	TypeSettlementExecuted = "settlement.executed"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type       string         `json:"type"`
	GroupID    ledger.GroupID `json:"groupId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    any            `json:"payload"`
}

type ExpenseCreated struct {
	ExpenseID    ledger.ExpenseID `json:"expenseId"`
	PayerID      ledger.UserID    `json:"payerId"`
	Amount       decimal.Decimal  `json:"amount"`
	SplitType    ledger.SplitType `json:"splitType"`
	Description  string           `json:"description"`
	Participants int              `json:"participants"`
}

type SettlementExecuted struct {
	RequestedBy  ledger.UserID   `json:"requestedBy"`
	EqualShare   decimal.Decimal `json:"equalShare"`
	Participants int             `json:"participants"`
	Transfers    []Transfer      `json:"transfers"`
}

type Transfer struct {
	FromID ledger.UserID   `json:"fromId"`
	ToID   ledger.UserID   `json:"toId"`
	Amount decimal.Decimal `json:"amount"`
}

// NewExpenseCreated builds the event for a recorded expense.
func NewExpenseCreated(e ledger.SharedExpense) Event {
	return Event{
		Type:       TypeExpenseCreated,
		GroupID:    e.GroupID,
		OccurredAt: e.CreatedAt,
		Payload: ExpenseCreated{
			ExpenseID:    e.ID,
			PayerID:      e.PayerID,
			Amount:       e.Amount,
			SplitType:    e.SplitType,
			Description:  e.Description,
			Participants: len(e.Splits),
		},
	}
}

// NewSettlementExecuted builds the event for an executed settlement.
func NewSettlementExecuted(groupID ledger.GroupID, requestedBy ledger.UserID, equalShare decimal.Decimal, participants int, settlements []ledger.Settlement, at time.Time) Event {
	transfers := make([]Transfer, len(settlements))
	for i, s := range settlements {
		transfers[i] = Transfer{FromID: s.FromID, ToID: s.ToID, Amount: s.Amount}
	}
	return Event{
		Type:       TypeSettlementExecuted,
		GroupID:    groupID,
		OccurredAt: at,
		Payload: SettlementExecuted{
			RequestedBy:  requestedBy,
			EqualShare:   equalShare,
			Participants: participants,
			Transfers:    transfers,
		},
	}
}

// =============================================================================
// PUBLISHERS
// =============================================================================

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
