package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// Command asks for a settlement to be executed. Participants must already
// be resolved and checked for membership by the caller.
type Command struct {
	GroupID      ledger.GroupID
	Participants []ledger.UserID
	Confirmed    bool
	RequestedBy  ledger.UserID
}

type Summary struct {
	TotalBalance     decimal.Decimal
	EqualShare       decimal.Decimal
	ParticipantCount int
	TransferCount    int
	TotalTransferred decimal.Decimal
}

type Result struct {
	Settlements     []ledger.Settlement
	UpdatedBalances []ledger.GroupBalance // ordered by user ID
	Summary         Summary
}

// =============================================================================
// EXECUTOR
// =============================================================================

type Executor struct {
	store  ledger.TxStore
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Executor) { e.newID = newID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

func NewExecutor(store ledger.TxStore, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute settles cmd.Participants in one unit of work. Balances are read
// after the group lock is taken, so a preview shown earlier is never
// reused. Every participant ends at their target balance and one
// Settlement is recorded per transfer.
func (e *Executor) Execute(ctx context.Context, cmd Command) (Result, error) {
	if !cmd.Confirmed {
		return Result{}, ledger.ErrNotConfirmed
	}
	if len(cmd.Participants) == 0 {
		return Result{}, ledger.ErrNoParticipants
	}
	seen := make(map[ledger.UserID]bool, len(cmd.Participants))
	for _, id := range cmd.Participants {
		if seen[id] {
			return Result{}, fmt.Errorf("%w: %s", ledger.ErrDuplicateParticipant, id)
		}
		seen[id] = true
	}

	var result Result
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.LockGroup(ctx, cmd.GroupID); err != nil {
			return fmt.Errorf("lock group: %w", err)
		}
		current, err := ledger.BalancesFor(ctx, tx, cmd.GroupID, cmd.Participants)
		if err != nil {
			return err
		}

		plan := Preview(cmd.GroupID, current)
		now := e.now()

		deltas := make([]ledger.Delta, 0, len(plan.Positions))
		for _, p := range plan.Positions {
			if adj := p.Adjustment(); !adj.IsZero() {
				deltas = append(deltas, ledger.Delta{UserID: p.UserID, Amount: adj})
			}
		}
		if _, err := ledger.ApplyDeltas(ctx, tx, cmd.GroupID, deltas, now); err != nil {
			return err
		}

		settlements := make([]ledger.Settlement, len(plan.Transfers))
		for i, t := range plan.Transfers {
			settlements[i] = ledger.Settlement{
				ID:        ledger.SettlementID(e.newID()),
				GroupID:   cmd.GroupID,
				FromID:    t.FromID,
				ToID:      t.ToID,
				Amount:    t.Amount,
				CreatedBy: cmd.RequestedBy,
				CreatedAt: now,
			}
		}
		if len(settlements) > 0 {
			if err := tx.InsertSettlements(ctx, settlements); err != nil {
				return fmt.Errorf("insert settlements: %w", err)
			}
		}

		updated, err := ledger.BalancesFor(ctx, tx, cmd.GroupID, cmd.Participants)
		if err != nil {
			return err
		}
		if err := checkConverged(plan, updated); err != nil {
			return err
		}

		result = Result{
			Settlements:     settlements,
			UpdatedBalances: updated,
			Summary:         summarize(plan),
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.logger.Info("settlement executed",
		"group_id", cmd.GroupID,
		"user_id", cmd.RequestedBy,
		"participants", result.Summary.ParticipantCount,
		"transfers", result.Summary.TransferCount,
		"equal_share", result.Summary.EqualShare.StringFixed(ledger.MoneyScale),
	)
	return result, nil
}

// checkConverged verifies every participant landed exactly on target.
func checkConverged(plan Plan, updated []ledger.GroupBalance) error {
	targets := make(map[ledger.UserID]decimal.Decimal, len(plan.Positions))
	for _, p := range plan.Positions {
		targets[p.UserID] = p.TargetBalance
	}
	for _, b := range updated {
		if want := targets[b.UserID]; !b.Balance.Equal(want) {
			return &ledger.InvariantError{
				GroupID: plan.GroupID,
				Sum:     b.Balance.Sub(want),
				Detail:  fmt.Sprintf("balance of %s did not converge to target", b.UserID),
			}
		}
	}
	return nil
}

func summarize(plan Plan) Summary {
	total := decimal.Zero
	for _, t := range plan.Transfers {
		total = total.Add(t.Amount)
	}
	return Summary{
		TotalBalance:     plan.TotalBalance,
		EqualShare:       plan.EqualShare,
		ParticipantCount: plan.ParticipantCount,
		TransferCount:    len(plan.Transfers),
		TotalTransferred: total,
	}
}
