/*
Package groups is the entry point callers use for group ledger operations.

PURPOSE:
  Service ties the pieces together. For every call it identifies the
  requesting user, checks membership or admin rights with the Group
  Membership Authority, resolves the participant list, then delegates to
  the Splitter, the settlement Calculator/Executor or the Ledger.

OPERATIONS:
  CreateSharedExpense   member     record an expense and split it
  ListSharedExpenses    member     expenses, newest date first
  GetSharedExpense      member     one expense with its splits
  GetGroupBalances      member     every balance row of the group
  PreviewSettlement     admin      what a settlement would do
  ExecuteSettlement     admin      do it (requires confirmed=true)
  SplitEqually          admin      confirmed settlement, short result
  GetSettlementHistory  member     settlements, newest first

CHECK ORDER:
  ExecuteSettlement rejects an unconfirmed request before anything else,
  then checks admin rights, then participants. Nothing is written until
  every check has passed.

AFTER COMMIT:
  Metrics are recorded and a domain event is published. A publish failure
  is logged and does not affect the result.

SEE ALSO:
  - split, settlement: the two writers
  - membership: the Authority
  - auditor.go: periodic conservation check
*/
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/events"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/membership"
	"github.com/warp/group-ledger/metrics"
	"github.com/warp/group-ledger/settlement"
	"github.com/warp/group-ledger/split"
)

// Operation names used in logs and metrics.
const (
	OpCreateExpense     = "create_expense"
	OpGetBalances       = "get_balances"
	OpPreviewSettlement = "preview_settlement"
	OpExecuteSettlement = "execute_settlement"
	OpSettlementHistory = "settlement_history"
	OpListExpenses      = "list_expenses"
)

// ExpenseInput is a shared expense as submitted by a caller.
type ExpenseInput struct {
	PayerID      ledger.UserID // empty means the requester paid
	Amount       decimal.Decimal
	Description  string
	Date         time.Time
	SplitType    string
	Participants []split.Participant
}

// SplitEquallyResult is the short result of SplitEqually.
type SplitEquallyResult struct {
	Settlements []ledger.Settlement
	EqualShare  decimal.Decimal
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	ledger    *ledger.Ledger
	authority membership.Authority
	splitter  *split.Splitter
	executor  *settlement.Executor

	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store ledger.TxStore, authority membership.Authority, opts ...Option) *Service {
	s := &Service{
		ledger:    ledger.NewLedger(store),
		authority: authority,
		publisher: events.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.splitter = split.NewSplitter(store, authority,
		split.WithClock(s.now), split.WithIDGenerator(s.newID), split.WithLogger(s.logger))
	s.executor = settlement.NewExecutor(store,
		settlement.WithClock(s.now), settlement.WithIDGenerator(s.newID), settlement.WithLogger(s.logger))
	return s
}

// =============================================================================
// EXPENSES
// =============================================================================

func (s *Service) CreateSharedExpense(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID, in ExpenseInput) (exp ledger.SharedExpense, err error) {
	defer s.track(OpCreateExpense, time.Now(), &err)

	if err := s.requireMember(ctx, groupID, requester); err != nil {
		return ledger.SharedExpense{}, err
	}
	strategy, err := split.FromKind(in.SplitType, in.Participants)
	if err != nil {
		return ledger.SharedExpense{}, err
	}
	payer := in.PayerID
	if payer == "" {
		payer = requester
	}

	exp, err = s.splitter.CreateSharedExpense(ctx, split.Request{
		GroupID:     groupID,
		PayerID:     payer,
		Amount:      in.Amount,
		Description: in.Description,
		Date:        in.Date,
		Strategy:    strategy,
	})
	if err != nil {
		return ledger.SharedExpense{}, err
	}

	s.metrics.ExpenseCreated()
	s.publish(ctx, events.NewExpenseCreated(exp))
	return exp, nil
}

func (s *Service) ListSharedExpenses(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID) (list []ledger.SharedExpense, err error) {
	defer s.track(OpListExpenses, time.Now(), &err)

	if err := s.requireMember(ctx, groupID, requester); err != nil {
		return nil, err
	}
	return s.ledger.Store.ListExpenses(ctx, groupID)
}

// GetSharedExpense returns an expense of a group the requester belongs to.
// Expenses of other groups are reported as not found.
func (s *Service) GetSharedExpense(ctx context.Context, requester ledger.UserID, id ledger.ExpenseID) (ledger.SharedExpense, error) {
	exp, err := s.ledger.Store.LoadExpense(ctx, id)
	if err != nil {
		return ledger.SharedExpense{}, err
	}
	ok, err := s.authority.IsMember(ctx, exp.GroupID, requester)
	if err != nil && !errors.Is(err, ledger.ErrGroupNotFound) {
		return ledger.SharedExpense{}, err
	}
	if !ok {
		return ledger.SharedExpense{}, ledger.ErrExpenseNotFound
	}
	return exp, nil
}

// =============================================================================
// BALANCES
// =============================================================================

// GetGroupBalances returns every balance row of the group ordered by user
// ID, creating zero rows for members that have none.
func (s *Service) GetGroupBalances(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID) (rows []ledger.GroupBalance, err error) {
	defer s.track(OpGetBalances, time.Now(), &err)

	if err := s.requireMember(ctx, groupID, requester); err != nil {
		return nil, err
	}
	members, err := s.authority.ListMemberIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.ledger.GroupBalances(ctx, groupID, members)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// PreviewSettlement computes a settlement without writing anything.
// participants defaults to every member.
func (s *Service) PreviewSettlement(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID, participants []ledger.UserID) (plan settlement.Plan, err error) {
	defer s.track(OpPreviewSettlement, time.Now(), &err)

	if err := s.requireAdmin(ctx, groupID, requester); err != nil {
		return settlement.Plan{}, err
	}
	ids, err := s.resolveParticipants(ctx, groupID, participants)
	if err != nil {
		return settlement.Plan{}, err
	}
	balances, err := s.ledger.ReadBalances(ctx, groupID, ids)
	if err != nil {
		return settlement.Plan{}, err
	}
	return settlement.Preview(groupID, balances), nil
}

// ExecuteSettlement levels participants to the equal share and records the
// transfers. participants defaults to every member.
func (s *Service) ExecuteSettlement(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID, participants []ledger.UserID, confirmed bool) (res settlement.Result, err error) {
	defer s.track(OpExecuteSettlement, time.Now(), &err)

	if !confirmed {
		return settlement.Result{}, ledger.ErrNotConfirmed
	}
	if err := s.requireAdmin(ctx, groupID, requester); err != nil {
		return settlement.Result{}, err
	}
	ids, err := s.resolveParticipants(ctx, groupID, participants)
	if err != nil {
		return settlement.Result{}, err
	}

	res, err = s.executor.Execute(ctx, settlement.Command{
		GroupID:      groupID,
		Participants: ids,
		Confirmed:    confirmed,
		RequestedBy:  requester,
	})
	if err != nil {
		return settlement.Result{}, err
	}

	s.metrics.SettlementExecuted(len(res.Settlements))
	s.publish(ctx, events.NewSettlementExecuted(groupID, requester, res.Summary.EqualShare,
		res.Summary.ParticipantCount, res.Settlements, s.now()))
	return res, nil
}

// SplitEqually executes a confirmed settlement and returns only the
// transfers and the equal share.
func (s *Service) SplitEqually(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID, participants []ledger.UserID) (SplitEquallyResult, error) {
	res, err := s.ExecuteSettlement(ctx, requester, groupID, participants, true)
	if err != nil {
		return SplitEquallyResult{}, err
	}
	return SplitEquallyResult{Settlements: res.Settlements, EqualShare: res.Summary.EqualShare}, nil
}

func (s *Service) GetSettlementHistory(ctx context.Context, requester ledger.UserID, groupID ledger.GroupID) (list []ledger.Settlement, err error) {
	defer s.track(OpSettlementHistory, time.Now(), &err)

	if err := s.requireMember(ctx, groupID, requester); err != nil {
		return nil, err
	}
	return s.ledger.Store.ListSettlements(ctx, groupID)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) requireMember(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) error {
	ok, err := s.authority.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrNotMember
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) error {
	ok, err := s.authority.IsAdmin(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrNotAdmin
	}
	return nil
}

// resolveParticipants returns the participant IDs sorted by user ID.
// An empty list means every member; otherwise each ID must be a member.
func (s *Service) resolveParticipants(ctx context.Context, groupID ledger.GroupID, requested []ledger.UserID) ([]ledger.UserID, error) {
	if len(requested) == 0 {
		return s.authority.ListMemberIDs(ctx, groupID)
	}

	seen := make(map[ledger.UserID]bool, len(requested))
	ids := make([]ledger.UserID, 0, len(requested))
	for _, id := range requested {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateParticipant, id)
		}
		seen[id] = true

		ok, err := s.authority.IsMember(ctx, groupID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ledger.NonMemberError{GroupID: groupID, UserID: id}
		}
		ids = append(ids, id)
	}
	ledger.SortUserIDs(ids)
	return ids, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", "type", event.Type, "group_id", event.GroupID, "error", err)
	}
}

// track records latency and, on failure, the rejection reason. Invariant
// violations are logged at error level since they indicate a bug.
func (s *Service) track(op string, start time.Time, errp *error) {
	s.metrics.Observe(op, start)
	err := *errp
	if err == nil {
		return
	}
	reason := Reason(err)
	s.metrics.Rejected(op, reason)
	if reason == "internal" || reason == "invariant_violation" {
		s.logger.Error("operation failed", "operation", op, "error", err)
	}
}

// Reason maps an error to a short label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ledger.ErrNotAdmin):
		return "not_admin"
	case errors.Is(err, ledger.ErrNotMember):
		return "not_member"
	case errors.Is(err, ledger.ErrNonMember):
		return "non_member"
	case errors.Is(err, ledger.ErrSplitMismatch):
		return "split_mismatch"
	case errors.Is(err, ledger.ErrMissingCustomAmount):
		return "missing_custom_amount"
	case errors.Is(err, ledger.ErrDuplicateParticipant):
		return "duplicate_participant"
	case errors.Is(err, ledger.ErrNotConfirmed):
		return "not_confirmed"
	case ledger.IsNotFound(err):
		return "not_found"
	case ledger.IsClientError(err):
		return "invalid_request"
	default:
		return "internal"
	}
}
