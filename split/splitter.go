package split

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/membership"
)

// Request describes one shared expense to record.
type Request struct {
	GroupID     ledger.GroupID
	PayerID     ledger.UserID
	Amount      decimal.Decimal
	Description string
	Date        time.Time // zero means "now"
	Strategy    Strategy
}

// =============================================================================
// SPLITTER
// =============================================================================

type Splitter struct {
	store     ledger.TxStore
	authority membership.Authority
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

type Option func(*Splitter)

func WithClock(now func() time.Time) Option {
	return func(s *Splitter) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Splitter) { s.newID = newID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Splitter) { s.logger = logger }
}

func NewSplitter(store ledger.TxStore, authority membership.Authority, opts ...Option) *Splitter {
	s := &Splitter{
		store:     store,
		authority: authority,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSharedExpense validates req completely, then in one unit of work
// records the expense with its splits and moves balances: every participant
// is debited their share and the payer is credited the full amount.
//
// Nothing is written when validation fails.
func (s *Splitter) CreateSharedExpense(ctx context.Context, req Request) (ledger.SharedExpense, error) {
	splits, err := s.validate(ctx, req)
	if err != nil {
		return ledger.SharedExpense{}, err
	}

	now := s.now()
	date := req.Date
	if date.IsZero() {
		date = now
	}
	expense := ledger.SharedExpense{
		ID:          ledger.ExpenseID(s.newID()),
		GroupID:     req.GroupID,
		PayerID:     req.PayerID,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		Date:        date,
		SplitType:   req.Strategy.Type(),
		CreatedAt:   now,
	}
	deltas := make([]ledger.Delta, 0, len(splits)+1)
	for _, sp := range splits {
		sp.ExpenseID = expense.ID
		expense.Splits = append(expense.Splits, sp)
		deltas = append(deltas, ledger.Delta{UserID: sp.UserID, Amount: sp.Amount.Neg()})
	}
	deltas = append(deltas, ledger.Delta{UserID: req.PayerID, Amount: req.Amount})

	err = s.store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.LockGroup(ctx, req.GroupID); err != nil {
			return fmt.Errorf("lock group: %w", err)
		}
		if err := tx.InsertExpense(ctx, expense); err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
		_, err := ledger.ApplyDeltas(ctx, tx, req.GroupID, deltas, now)
		return err
	})
	if err != nil {
		return ledger.SharedExpense{}, err
	}

	s.logger.Info("shared expense created",
		"group_id", req.GroupID,
		"expense_id", expense.ID,
		"payer_id", req.PayerID,
		"amount", req.Amount.StringFixed(ledger.MoneyScale),
		"split_type", expense.SplitType,
		"participants", len(splits),
	)
	return expense, nil
}

// validate runs every check that does not need the unit of work and
// returns the computed shares.
func (s *Splitter) validate(ctx context.Context, req Request) ([]ledger.ExpenseSplit, error) {
	if req.Strategy == nil {
		return nil, fmt.Errorf("%w: split strategy is required", ledger.ErrInvalidSplitType)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: expense amount must be positive", ledger.ErrInvalidAmount)
	}
	if err := ledger.CheckAmount(req.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ledger.ErrInvalidRequest)
	}

	ids := req.Strategy.UserIDs()
	if len(ids) == 0 {
		return nil, ledger.ErrNoParticipants
	}
	seen := make(map[ledger.UserID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateParticipant, id)
		}
		seen[id] = true
	}

	if err := s.requireMember(ctx, req.GroupID, req.PayerID); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.requireMember(ctx, req.GroupID, id); err != nil {
			return nil, err
		}
	}

	return req.Strategy.Allocate(req.Amount)
}

func (s *Splitter) requireMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) error {
	ok, err := s.authority.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &ledger.NonMemberError{GroupID: groupID, UserID: userID}
	}
	return nil
}
